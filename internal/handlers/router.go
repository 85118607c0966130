package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cinetek/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mounted segment of the API surface. A group with no
// registrar answers 501 on every path so a partially wired deployment fails
// loudly instead of 404ing.
type routeGroup struct {
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      []*routeGroup
}

func (cfg *routerConfig) group(path string) *routeGroup {
	for _, g := range cfg.groups {
		if g.path == path {
			return g
		}
	}
	g := &routeGroup{path: path}
	cfg.groups = append(cfg.groups, g)
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	apiBasePath    = "/api/v1"
	requestTimeout = 60 * time.Second
)

// NewRouter constructs the chi router with shared middleware and the storefront
// route groups. Group mounts keep a stable order so route listings stay
// deterministic across rebuilds.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: apiBasePath,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
	}
	for _, path := range []string{"/public", "/me", "/cart", "/orders", "/admin", "/webhooks", "/internal"} {
		cfg.group(path)
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, g := range cfg.groups {
			api.Route(g.path, g.mount)
		}
	})

	return r
}

func (g *routeGroup) mount(r chi.Router) {
	for _, mw := range g.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	if g.register != nil {
		g.register(r)
		return
	}
	stub := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", g.path[1:]), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", stub)
	r.HandleFunc("/", stub)
	r.NotFound(stub)
	r.MethodNotAllowed(stub)
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithPublicRoutes configures the registrar for the unauthenticated catalog surface.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return routesOption("/public", reg)
}

// WithMeRoutes configures the registrar for user-scoped endpoints.
func WithMeRoutes(reg RouteRegistrar) Option {
	return routesOption("/me", reg)
}

// WithCartRoutes configures the registrar for cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option {
	return routesOption("/cart", reg)
}

// WithOrderRoutes configures the registrar for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return routesOption("/orders", reg)
}

// WithAdminRoutes configures the registrar for admin endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return routesOption("/admin", reg)
}

// WithWebhookRoutes configures the registrar for webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return routesOption("/webhooks", reg)
}

// WithInternalRoutes configures the registrar for internal endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return routesOption("/internal", reg)
}

// WithWebhookMiddlewares configures middlewares applied to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return groupMiddlewareOption("/webhooks", mw)
}

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return groupMiddlewareOption("/internal", mw)
}

func routesOption(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(path).register = reg
	}
}

func groupMiddlewareOption(path string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(path)
		g.middlewares = append(g.middlewares, mw...)
	}
}
