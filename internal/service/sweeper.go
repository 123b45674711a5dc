package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Verifier polls a provider for a record's status and reconciles it.
type Verifier interface {
	VerifyPayment(ctx context.Context, id uuid.UUID) (*payment.Record, error)
}

type SweepConfig struct {
	PendingAge  time.Duration
	BatchSize   int
	Concurrency int
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Checked  int
	Resolved int
	Failed   int
}

// Sweeper resolves payments whose webhook was lost by polling the provider
// for every record that stayed pending longer than PendingAge. It runs only
// when a caller asks; there is no loop in this package.
type Sweeper struct {
	payments payment.Repository
	verifier Verifier
	cfg      SweepConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSweeper(payments payment.Repository, verifier Verifier, cfg SweepConfig, logger zerolog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Sweeper{
		payments: payments,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep verifies one batch of stale pending records, oldest first. A failed
// verification is logged and left for the next invocation.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	pending := payment.StatusPending
	cutoff := s.now().Add(-s.cfg.PendingAge)
	records, err := s.payments.List(ctx, payment.ListFilter{
		Status:        &pending,
		CreatedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
		SortBy:        "created_at",
		SortOrder:     "asc",
	})
	if err != nil {
		return SweepResult{}, err
	}

	var resolved, failed atomic.Int32
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			updated, err := s.verifier.VerifyPayment(gCtx, rec.ID)
			if err != nil {
				failed.Add(1)
				s.logger.Warn().Err(err).
					Str("payment_id", rec.ID.String()).
					Str("gateway", string(rec.Method)).
					Msg("Sweep verification failed")
				return nil
			}
			if updated.Status != payment.StatusPending {
				resolved.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{
		Checked:  len(records),
		Resolved: int(resolved.Load()),
		Failed:   int(failed.Load()),
	}, nil
}
