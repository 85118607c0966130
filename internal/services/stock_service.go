package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cinetek/api/internal/repositories"
)

const (
	eventStockReserve = "stock.reserve"
	eventStockCommit  = "stock.commit"
	eventStockRelease = "stock.release"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockInsufficient indicates the requested quantity exceeds availability.
	ErrStockInsufficient = errors.New("stock: insufficient stock")
	// ErrStockNotFound indicates the article has no stock record.
	ErrStockNotFound = errors.New("stock: not found")
)

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Stock  repositories.StockRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	repo   repositories.StockRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		repo: deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reserve moves quantities from the available pool into the reserved pool.
func (s *stockService) Reserve(ctx context.Context, cmd StockReserveCommand) error {
	return s.adjust(ctx, eventStockReserve, cmd.OrderID, cmd.Lines, s.repo.Reserve)
}

// Release returns reserved quantities to the available pool.
func (s *stockService) Release(ctx context.Context, cmd StockReleaseCommand) error {
	return s.adjust(ctx, eventStockRelease, cmd.OrderID, cmd.Lines, s.repo.Release)
}

// Commit burns reserved quantities after payment settles.
func (s *stockService) Commit(ctx context.Context, cmd StockCommitCommand) error {
	return s.adjust(ctx, eventStockCommit, cmd.OrderID, cmd.Lines, s.repo.Commit)
}

// Get returns the current stock record for an article.
func (s *stockService) Get(ctx context.Context, mediaID string) (ArticleStock, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return ArticleStock{}, fmt.Errorf("%w: media id is required", ErrStockInvalidInput)
	}
	stock, err := s.repo.Get(ctx, mediaID)
	if err != nil {
		return ArticleStock{}, s.mapRepositoryError(err)
	}
	return stock, nil
}

type stockAdjustFn func(ctx context.Context, lines []repositories.StockAdjustment, now time.Time) error

func (s *stockService) adjust(ctx context.Context, event, orderID string, lines []StockLine, fn stockAdjustFn) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrStockInvalidInput)
	}
	adjustments, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}
	if len(adjustments) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}

	if err := fn(ctx, adjustments, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, event, map[string]any{
		"orderID": orderID,
		"lines":   len(adjustments),
	})
	return nil
}

// normaliseStockLines trims, validates and merges duplicate article lines.
func normaliseStockLines(lines []StockLine) ([]repositories.StockAdjustment, error) {
	merged := make(map[string]int64, len(lines))
	for _, line := range lines {
		mediaID := strings.TrimSpace(line.MediaID)
		if mediaID == "" {
			return nil, fmt.Errorf("%w: media id is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrStockInvalidInput)
		}
		merged[mediaID] += line.Quantity
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	adjustments := make([]repositories.StockAdjustment, 0, len(ids))
	for _, id := range ids {
		adjustments = append(adjustments, repositories.StockAdjustment{MediaID: id, Quantity: merged[id]})
	}
	return adjustments, nil
}

func (s *stockService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrStockInsufficient, err)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %v", ErrStockNotFound, err)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrStockInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrStockNotFound, err)
	}

	return err
}

var _ StockService = (*stockService)(nil)
