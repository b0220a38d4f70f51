// internal/service/tracker_service.go
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
)

// Interaction event kinds accepted on the tracking endpoint.
const (
	EventView          = "view"
	EventClick         = "click"
	EventCocontracting = "cocontracting"
	EventInterested    = "interested"
	EventNotInterested = "not_interested"
	EventTransactioned = "transactioned"
)

// TrackerService records supplier interactions on (tender, supplier)
// links. Timestamps stamp at most once; the link state only moves to a
// strictly higher rank, so replayed or out-of-order events are absorbed.
type TrackerService struct {
	TenderRepo repository.TenderRepositoryInterface
	LinkRepo   repository.LinkRepositoryInterface
	Queue      queue.Queue
	Log        zerolog.Logger
}

// Record applies one named event to the link and schedules a stats
// recount for the tender.
func (s *TrackerService) Record(ctx context.Context, tenderID, supplierID int64, event string) (*model.TenderSupplier, error) {
	var link *model.TenderSupplier
	var err error

	switch event {
	case EventView:
		link, err = s.RecordView(ctx, tenderID, supplierID)
	case EventClick:
		link, err = s.RecordClick(ctx, tenderID, supplierID)
	case EventCocontracting:
		link, err = s.RecordCocontracting(ctx, tenderID, supplierID)
	case EventInterested:
		link, err = s.RecordInterested(ctx, tenderID, supplierID)
	case EventNotInterested:
		link, err = s.RecordNotInterested(ctx, tenderID, supplierID)
	case EventTransactioned:
		link, err = s.RecordTransactioned(ctx, tenderID, supplierID)
	default:
		return nil, apperrors.NewValidation("event", "unknown event kind")
	}
	if err != nil {
		return nil, err
	}

	if publishErr := s.Queue.Publish(ctx, queue.TopicRecount, queue.Message{TenderID: tenderID}); publishErr != nil {
		// counters catch up on the periodic recount
		s.Log.Warn().Err(publishErr).Int64("tender_id", tenderID).Msg("failed to schedule recount")
	}
	return link, nil
}

// RecordView stamps the first display of the tender detail page.
func (s *TrackerService) RecordView(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	return s.record(ctx, tenderID, supplierID, func(link *model.TenderSupplier) error {
		stampOnce(&link.DetailDisplayDate)
		advance(link, model.LinkViewed)
		return nil
	})
}

// RecordClick stamps the first click on the email link.
func (s *TrackerService) RecordClick(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	return s.record(ctx, tenderID, supplierID, func(link *model.TenderSupplier) error {
		stampOnce(&link.EmailLinkClickDate)
		advance(link, model.LinkClicked)
		return nil
	})
}

func (s *TrackerService) RecordCocontracting(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	return s.record(ctx, tenderID, supplierID, func(link *model.TenderSupplier) error {
		stampOnce(&link.DetailCocontractingClickDate)
		advance(link, model.LinkCocontractingOffered)
		return nil
	})
}

// RecordInterested marks the supplier as interested. A link already
// declared NOT_INTERESTED cannot flip: the two terminal answers are
// mutually exclusive.
func (s *TrackerService) RecordInterested(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	return s.record(ctx, tenderID, supplierID, func(link *model.TenderSupplier) error {
		if link.State == model.LinkNotInterested {
			return &apperrors.ConflictingStateError{TenderID: tenderID, SupplierID: supplierID, State: link.State}
		}
		stampOnce(&link.DetailContactClickDate)
		advance(link, model.LinkInterested)
		return nil
	})
}

func (s *TrackerService) RecordNotInterested(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	return s.record(ctx, tenderID, supplierID, func(link *model.TenderSupplier) error {
		if link.State == model.LinkInterested {
			return &apperrors.ConflictingStateError{TenderID: tenderID, SupplierID: supplierID, State: link.State}
		}
		stampOnce(&link.DetailNotInterestedClickDate)
		advance(link, model.LinkNotInterested)
		return nil
	})
}

// RecordTransactioned marks the link as having led to a deal and flags
// the tender itself.
func (s *TrackerService) RecordTransactioned(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	link, err := s.record(ctx, tenderID, supplierID, func(link *model.TenderSupplier) error {
		stampOnce(&link.TransactionedDate)
		link.Transactioned = true
		advance(link, model.LinkTransactioned)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.TenderRepo.SetTransactioned(ctx, tenderID); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *TrackerService) record(ctx context.Context, tenderID, supplierID int64, apply func(*model.TenderSupplier) error) (*model.TenderSupplier, error) {
	link, err := s.LinkRepo.RecordInteraction(ctx, tenderID, supplierID, apply)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, &apperrors.LinkNotFoundError{TenderID: tenderID, SupplierID: supplierID}
	}
	return link, nil
}

// advance moves the link to target only when that is a strict progression.
// A QUEUED link never advances here: the timestamp is recorded, but the
// state waits for the notifier's send confirmation so the email still
// goes out.
func advance(link *model.TenderSupplier, target model.LinkState) {
	if link.State == model.LinkQueued {
		return
	}
	if target.Rank() > link.State.Rank() {
		link.State = target
	}
}

func stampOnce(field **time.Time) {
	if *field == nil {
		now := time.Now()
		*field = &now
	}
}
