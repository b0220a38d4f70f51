// internal/service/stats_service.go
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/repository"
)

// StatsService keeps the denormalized per-tender counters in step with
// the link rows. Counters are eventually consistent: a recount runs after
// each recorded interaction and periodically for every sent tender.
type StatsService struct {
	TenderRepo repository.TenderRepositoryInterface
	Log        zerolog.Logger
}

// Recount recomputes all counters for one tender from its links.
func (s *StatsService) Recount(ctx context.Context, tenderID int64) error {
	return s.TenderRepo.Recount(ctx, tenderID)
}

// RecountAll sweeps every sent tender. Errors are logged per tender so a
// single bad row does not starve the rest of the sweep.
func (s *StatsService) RecountAll(ctx context.Context) error {
	ids, err := s.TenderRepo.IDsForRecount(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.Recount(ctx, id); err != nil {
			s.Log.Error().Err(err).Int64("tender_id", id).Msg("recount failed")
		}
	}
	s.Log.Debug().Int("tenders", len(ids)).Msg("periodic recount done")
	return nil
}

// RunPeriodic recounts on a fixed interval until the context is cancelled.
func (s *StatsService) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RecountAll(ctx); err != nil {
				s.Log.Error().Err(err).Msg("periodic recount failed")
			}
		}
	}
}
