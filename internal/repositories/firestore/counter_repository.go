package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/cinetek/api/internal/platform/firestore"
	"github.com/cinetek/api/internal/repositories"
)

const (
	countersCollection = "counters"

	// Sequence documents are hot under checkout bursts, so allow more
	// transaction retries than the platform default.
	counterTxAttempts = 10
)

// counterDocument holds one monotonic sequence, primarily the order-number
// allocator. Ceiling is optional; a nil ceiling means the sequence is
// unbounded.
type counterDocument struct {
	Value     int64     `firestore:"value"`
	Step      int64     `firestore:"step"`
	Ceiling   *int64    `firestore:"ceiling,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// advance moves the sequence by step, falling back to the stored step and
// then to 1 when the caller passed zero.
func (d *counterDocument) advance(step int64, at time.Time) (int64, error) {
	if step <= 0 {
		step = d.Step
	}
	if step <= 0 {
		step = 1
	}
	next := d.Value + step
	if d.Ceiling != nil && next > *d.Ceiling {
		return 0, fmt.Errorf("%w: ceiling %d reached", repositories.ErrCounterExhausted, *d.Ceiling)
	}
	d.Value = next
	d.Step = step
	d.UpdatedAt = at
	return next, nil
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
	}, nil
}

// Next atomically increments the counter identified by counterID and returns
// the allocated value. A missing counter is seeded on first use.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, fmt.Errorf("%w: counter id is required", repositories.ErrCounterInvalidInput)
	}
	if step < 0 {
		return 0, fmt.Errorf("%w: step must not be negative, got %d", repositories.ErrCounterInvalidInput, step)
	}

	var allocated int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		doc, found, err := readCounter(tx, ref, id)
		if err != nil {
			return err
		}
		allocated, err = doc.advance(step, time.Now().UTC())
		if err != nil {
			return err
		}
		if !found {
			return tx.Create(ref, doc)
		}
		return tx.Set(ref, doc, firestore.MergeAll)
	}, pfirestore.WithTxAttempts(counterTxAttempts))
	if err != nil {
		if errors.Is(err, repositories.ErrCounterExhausted) || errors.Is(err, repositories.ErrCounterInvalidInput) {
			return 0, err
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return allocated, nil
}

func readCounter(tx *firestore.Transaction, ref *firestore.DocumentRef, id string) (counterDocument, bool, error) {
	snapshot, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return counterDocument{}, false, nil
	}
	if err != nil {
		return counterDocument{}, false, err
	}
	var doc counterDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return counterDocument{}, false, fmt.Errorf("firestore counters decode %s: %w", id, err)
	}
	return doc, true, nil
}

// Configure updates optional settings for the counter such as step size,
// ceiling, or the value the sequence resumes from.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return fmt.Errorf("%w: counter id is required", repositories.ErrCounterInvalidInput)
	}

	payload := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["ceiling"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["value"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
