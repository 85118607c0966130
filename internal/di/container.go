package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/cinetek/api/internal/platform/config"
	"github.com/cinetek/api/internal/repositories"
	"github.com/cinetek/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing services.PricingService
	Cart    services.CartService
	Orders  services.OrderService
	Catalog services.CatalogService
	Stock   services.StockService
	Users   services.UserService
	System  services.SystemService
	Audit   services.AuditLogService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption injects collaborators that live outside the repository registry,
// such as the PSP gateway or the cover URL signer.
type ContainerOption func(*containerDeps)

type containerDeps struct {
	payments services.PaymentProvider
	events   services.OrderEventPublisher
	covers   services.CoverURLSigner
	identity *firebaseauth.Client
	build    services.BuildInfo
	logger   *zap.Logger
	clock    func() time.Time
}

// WithPaymentProvider wires the PSP used to collect order payments.
func WithPaymentProvider(provider services.PaymentProvider) ContainerOption {
	return func(d *containerDeps) {
		d.payments = provider
	}
}

// WithOrderEventPublisher wires the Pub/Sub publisher for order lifecycle events.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) ContainerOption {
	return func(d *containerDeps) {
		d.events = publisher
	}
}

// WithCoverSigner wires the signed URL generator for catalog covers.
func WithCoverSigner(signer services.CoverURLSigner) ContainerOption {
	return func(d *containerDeps) {
		d.covers = signer
	}
}

// WithIdentityClient wires the Firebase Admin client used to enrich user profiles.
func WithIdentityClient(client *firebaseauth.Client) ContainerOption {
	return func(d *containerDeps) {
		d.identity = client
	}
}

// WithBuildInfo sets the build metadata reported by the system service.
func WithBuildInfo(build services.BuildInfo) ContainerOption {
	return func(d *containerDeps) {
		d.build = build
	}
}

// WithLogger attaches the zap logger used for service-level event logging.
func WithLogger(logger *zap.Logger) ContainerOption {
	return func(d *containerDeps) {
		d.logger = logger
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) ContainerOption {
	return func(d *containerDeps) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub collaborators.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	deps := containerDeps{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// PricingConfigFromApp translates the runtime tariff configuration into the
// pricing engine's own config type.
func PricingConfigFromApp(cfg config.PricingConfig) services.PricingConfig {
	return services.PricingConfig{
		Currency:          cfg.Currency,
		FilmUnitPrice:     cfg.FilmUnitPrice,
		FilmBundleSize:    cfg.FilmBundleSize,
		FilmBundlePrice:   cfg.FilmBundlePrice,
		SeasonUnitPrice:   cfg.SeasonUnitPrice,
		SeasonsForFree:    cfg.SeasonsForFree,
		EpisodesPerUnit:   cfg.EpisodesPerUnit,
		EpisodeBlockPrice: cfg.EpisodeBlockPrice,
		DeliveryFee:       cfg.DeliveryFee,
	}
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, deps containerDeps) (Services, error) {
	_ = ctx
	var svc Services

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      deps.clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	pricer, err := services.NewPricingEngine(services.PricingEngineDeps{
		Config: PricingConfigFromApp(cfg.Pricing),
		Now:    deps.clock,
		Logger: zapEventLogger(deps.logger.Named("pricing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricer

	if stockRepo := reg.Stock(); stockRepo != nil {
		stockSvc, err := services.NewStockService(services.StockServiceDeps{
			Stock:  stockRepo,
			Clock:  deps.clock,
			Logger: zapEventLogger(deps.logger.Named("stock")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stock service: %w", err)
		}
		svc.Stock = stockSvc
	}

	mediaRepo := reg.Media()

	if cartRepo := reg.Carts(); cartRepo != nil && mediaRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Repository:      cartRepo,
			Media:           mediaRepo,
			Pricer:          pricer,
			Clock:           deps.clock,
			DefaultCurrency: cfg.Pricing.Currency,
			Logger:          zapEventLogger(deps.logger.Named("cart")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	if mediaRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Media:  mediaRepo,
			Stock:  reg.Stock(),
			Audit:  svc.Audit,
			Covers: deps.covers,
			Clock:  deps.clock,
			Logger: zapEventLogger(deps.logger.Named("catalog")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	if usersRepo := reg.Users(); usersRepo != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:     usersRepo,
			Favorites: reg.Favorites(),
			Media:     mediaRepo,
			Identity:  deps.identity,
			Audit:     svc.Audit,
			Clock:     deps.clock,
			Logger:    zapEventLogger(deps.logger.Named("user")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	if ordersRepo := reg.Orders(); ordersRepo != nil && svc.Cart != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:   ordersRepo,
			Counters: reg.Counters(),
			Carts:    svc.Cart,
			Pricer:   pricer,
			Stock:    svc.Stock,
			Payments: deps.payments,
			Events:   deps.events,
			Clock:    deps.clock,
			Logger:   zapEventLogger(deps.logger.Named("order")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = deps.clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            deps.clock,
			Build:            build,
			Audit:            svc.Audit,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}
