package worker

import (
	"context"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/logging"
	"clinicrooms/internal/service"

	"github.com/rs/zerolog"
)

// IntentReconciler is the part of the reconcile service the sweeper drives.
type IntentReconciler interface {
	SyncPaymentIntent(ctx context.Context, intentID, source string) (*service.Result, error)
	FailBookings(ctx context.Context, ids []string, code, message string) ([]string, error)
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Synced   int
	Applied  int
	Orphaned int
	Released int
	Errors   int
}

// ReconcileSweeper periodically pulls the provider state of pending
// payments whose webhooks never arrived, fails pending bookings that never
// got a payment intent, and frees claims left behind by partial writes.
type ReconcileSweeper struct {
	store      domain.BookingStore
	reconciler IntentReconciler
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	logger     zerolog.Logger
}

func NewReconcileSweeper(
	store domain.BookingStore,
	reconciler IntentReconciler,
	interval, staleAfter time.Duration,
	batch int,
	logger *zerolog.Logger,
) *ReconcileSweeper {
	if batch <= 0 {
		batch = 50
	}
	return &ReconcileSweeper{
		store:      store,
		reconciler: reconciler,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      batch,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.Component(logger, "sweeper"),
	}
}

// Start sweeps on every tick until ctx is done. A non-positive interval
// disables the sweeper.
func (s *ReconcileSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("Reconcile sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("stale_after", s.staleAfter).Msg("Reconcile sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Reconcile sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *ReconcileSweeper) RunOnce(ctx context.Context) SweepStats {
	var stats SweepStats
	cutoff := s.now().Add(-s.staleAfter)

	intents, err := s.store.ListStalePaymentIntents(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("List stale intents failed")
		stats.Errors++
	}
	for _, id := range intents {
		if ctx.Err() != nil {
			return stats
		}
		res, err := s.reconciler.SyncPaymentIntent(ctx, id, service.SourceSweeper)
		if err != nil {
			s.logger.Warn().Err(err).Str("payment_intent_id", id).Msg("Sync stale intent failed")
			stats.Errors++
			continue
		}
		stats.Synced++
		stats.Applied += len(res.Applied)
	}

	orphans, err := s.store.ListOrphanedPendingBookings(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("List orphaned bookings failed")
		stats.Errors++
	}
	if len(orphans) > 0 {
		moved, err := s.reconciler.FailBookings(ctx, orphans, "intent_missing", "payment was never started")
		if err != nil {
			s.logger.Error().Err(err).Strs("booking_ids", orphans).Msg("Fail orphaned bookings failed")
			stats.Errors++
		}
		stats.Orphaned = len(moved)
	}

	released, err := s.store.ReleaseStrandedClaims(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("Release stranded claims failed")
		stats.Errors++
	}
	stats.Released = released

	if stats.Synced > 0 || stats.Orphaned > 0 || stats.Released > 0 || stats.Errors > 0 {
		s.logger.Info().
			Int("synced", stats.Synced).
			Int("applied", stats.Applied).
			Int("orphaned", stats.Orphaned).
			Int("released_claims", stats.Released).
			Int("errors", stats.Errors).
			Msg("Sweep finished")
	}
	return stats
}
