package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/storage"
)

// Sweeper periodically transitions plans whose validity window has
// lapsed. Expiration is primarily lazy (checked on every consumption);
// the sweeper exists so plans nobody touches still converge to EXPIRED
// for reporting.
type Sweeper struct {
	repo     storage.Repository
	interval time.Duration
}

// NewSweeper creates a plan expiry sweeper
func NewSweeper(repo storage.Repository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	return &Sweeper{
		repo:     repo,
		interval: interval,
	}
}

// Start begins the sweeper in a goroutine
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	slog.Info("plan expiry sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("plan expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	slog.Debug("running plan expiry sweep")

	lapsed, err := s.repo.ListLapsedPlans(ctx)
	if err != nil {
		slog.Error("failed to list lapsed plans", "error", err)
		return
	}

	if len(lapsed) == 0 {
		slog.Debug("no lapsed plans found")
		return
	}

	slog.Info("found lapsed plans", "count", len(lapsed))

	for _, plan := range lapsed {
		expired, err := s.repo.ExpirePlan(ctx, plan.ID)
		if err != nil {
			slog.Error("failed to expire plan",
				"error", err,
				"plan_id", plan.ID,
			)
			continue
		}

		// A concurrent consumption may have expired it first; that is
		// the lazy path doing its job.
		if expired {
			slog.Info("plan expired by sweeper",
				"plan_id", plan.ID,
				"academy_id", plan.AcademyID,
				"exam_type", plan.ExamType,
				"expired_at", plan.ExpiresAt,
			)
		}
	}
}
