// internal/service/dispatch_service.go
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/matching"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
)

// DispatchStrategy produces the candidate set for a validated tender.
// The default strategy matches suppliers from the directory; a commercial
// partner strategy can be plugged in instead.
type DispatchStrategy interface {
	Candidates(ctx context.Context, tender *model.Tender) ([]repository.Candidate, error)
}

// MatcherStrategy runs the pure matcher over a directory snapshot.
type MatcherStrategy struct {
	SupplierRepo repository.SupplierRepositoryInterface
}

func (m *MatcherStrategy) Candidates(ctx context.Context, tender *model.Tender) ([]repository.Candidate, error) {
	snapshot, err := m.SupplierRepo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	matched := matching.Match(tender, snapshot)
	candidates := make([]repository.Candidate, 0, len(matched))
	for _, supplierID := range matched {
		candidates = append(candidates, repository.Candidate{
			SupplierID: supplierID,
			Source:     model.LinkSourceMatcher,
		})
	}
	return candidates, nil
}

// PartnerStrategy routes a tender to commercial partners whose amount
// ceiling and regions accept it.
type PartnerStrategy struct {
	PartnerRepo repository.PartnerRepositoryInterface
}

func (p *PartnerStrategy) Candidates(ctx context.Context, tender *model.Tender) ([]repository.Candidate, error) {
	partners, err := p.PartnerRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []repository.Candidate
	for _, partner := range partners {
		if !partner.AcceptsAmount(tender.Amount) {
			continue
		}
		if !partnerCoversTender(partner, tender) {
			continue
		}
		candidates = append(candidates, repository.Candidate{
			PartnerID: partner.ID,
			Source:    model.LinkSourcePartner,
		})
	}
	return candidates, nil
}

func partnerCoversTender(partner model.PartnerShareTender, tender *model.Tender) bool {
	if len(partner.Regions) == 0 || tender.GeoScope == model.GeoScopeCountry {
		return true
	}
	for _, partnerRegion := range partner.Regions {
		for _, region := range tender.Regions {
			if partnerRegion == region {
				return true
			}
		}
		for _, dept := range tender.Departments {
			if partnerRegion == model.RegionOfDepartment(dept) {
				return true
			}
		}
	}
	return false
}

// DispatchService materializes links for a validated tender and enqueues
// one notification task per new link.
type DispatchService struct {
	TenderRepo repository.TenderRepositoryInterface
	Store      repository.DispatchStoreInterface
	Strategy   DispatchStrategy
	Queue      queue.Queue
	Log        zerolog.Logger
}

// ReconcileValidated re-enqueues dispatch tasks for tenders stuck in
// VALIDATED since before the threshold: the enqueue after validation was
// lost and no HTTP retry came. Dispatch itself is reentrant, so a
// duplicate task is harmless.
func (s *DispatchService) ReconcileValidated(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.TenderRepo.IDsValidatedBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, id := range ids {
		if err := s.Queue.Publish(ctx, queue.TopicDispatch, queue.Message{TenderID: id}); err != nil {
			s.Log.Error().Err(err).Int64("tender_id", id).Msg("failed to re-enqueue dispatch")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.Log.Info().Int("requeued", requeued).Msg("reconciled stuck validated tenders")
	}
	return requeued, nil
}

// Dispatch runs the full dispatch for one tender. Safe to call repeatedly
// and concurrently: the store serializes on a per-tender lock and a second
// caller observes the tender already SENT.
func (s *DispatchService) Dispatch(ctx context.Context, tenderID int64) error {
	tender, err := s.TenderRepo.GetByID(ctx, tenderID)
	if err != nil {
		return err
	}
	if tender.Status == model.StatusSent {
		s.Log.Info().Int64("tender_id", tenderID).Msg("tender already sent, dispatch is a no-op")
		return nil
	}
	if tender.Status != model.StatusValidated {
		return apperrors.NewIllegalTransition(tender.Status, model.StatusSent)
	}

	candidates, err := s.Strategy.Candidates(ctx, tender)
	if err != nil {
		return err
	}

	created, alreadySent, err := s.Store.DispatchTx(ctx, tenderID, candidates)
	if err != nil {
		return err
	}
	if alreadySent {
		s.Log.Info().Int64("tender_id", tenderID).Msg("tender sent by a concurrent dispatch")
		return nil
	}

	s.Log.Info().Int64("tender_id", tenderID).
		Int("candidates", len(candidates)).Int("new_links", len(created)).
		Msg("tender dispatched")

	// Enqueue failures do not revert the commit: the reconciliation pass
	// picks up QUEUED links that never got a task.
	for _, candidate := range created {
		msg := queue.Message{
			TenderID:   tenderID,
			SupplierID: candidate.SupplierID,
			PartnerID:  candidate.PartnerID,
		}
		if err := s.Queue.Publish(ctx, queue.TopicNotify, msg); err != nil {
			s.Log.Error().Err(err).Int64("tender_id", tenderID).
				Int64("supplier_id", candidate.SupplierID).Int64("partner_id", candidate.PartnerID).
				Msg("failed to enqueue notification")
		}
	}
	return nil
}
