// internal/service/notify_service.go
package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/mailer"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
)

// TemplateTenderPresentation is the provider template presenting a tender
// to one matched supplier.
const TemplateTenderPresentation = "TENDERS_SIAE_PRESENTATION"

// TemplatePartnerPresentation is the provider template sharing a tender
// with a commercial partner's contact list.
const TemplatePartnerPresentation = "TENDERS_PARTNER_PRESENTATION"

// NotifyService sends one transactional email per (tender, supplier) link
// and advances the link state. At-least-once: every attempt appends a
// message row, and a link only reaches SENT alongside a SENT message.
type NotifyService struct {
	TenderRepo   repository.TenderRepositoryInterface
	SupplierRepo repository.SupplierRepositoryInterface
	LinkRepo     repository.LinkRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	PartnerRepo  repository.PartnerRepositoryInterface
	Mailer       mailer.Mailer
	SiteBaseURL  string
	TaskDeadline time.Duration
	Log          zerolog.Logger
}

// Notify handles one notify_link task. The link is read fresh from the
// store; a missing or non-QUEUED link is an idempotent no-op. A transient
// provider failure is returned to the caller, which re-enqueues with
// backoff. No row lock is held across the provider call.
func (s *NotifyService) Notify(ctx context.Context, tenderID, supplierID int64, attempt int) error {
	if s.TaskDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.TaskDeadline)
		defer cancel()
	}

	link, err := s.LinkRepo.Get(ctx, tenderID, supplierID)
	if err != nil {
		return err
	}
	if link == nil {
		s.Log.Info().Int64("tender_id", tenderID).Int64("supplier_id", supplierID).
			Msg("link absent, notification is a no-op")
		return nil
	}
	if link.State != model.LinkQueued {
		return nil
	}

	tender, err := s.TenderRepo.GetByID(ctx, tenderID)
	if err != nil {
		return err
	}
	supplier, err := s.SupplierRepo.GetByID(ctx, supplierID)
	if err != nil {
		return err
	}
	if supplier == nil || strings.TrimSpace(supplier.ContactEmail) == "" {
		// recipient unusable: advance the link with an error so metrics
		// stay accurate and the task is not retried
		return s.failPermanently(ctx, tender, link, supplierID, attempt, "missing recipient email")
	}

	variables := s.renderVariables(tender, supplier)
	req := mailer.SendRequest{
		TemplateCode: TemplateTenderPresentation,
		ToEmail:      supplier.ContactEmail,
		ToName:       supplier.ContactFirstName,
		Subject:      fmt.Sprintf("%s a besoin de vous sur le marché de l'inclusion", tender.AuthorCompany),
		Variables:    variables,
	}

	result, err := s.Mailer.Send(ctx, req)
	if err != nil {
		msg := &model.TransactionalMessage{
			TemplateCode:   TemplateTenderPresentation,
			RecipientEmail: supplier.ContactEmail,
			RecipientName:  supplier.ContactFirstName,
			Variables:      variables,
			Context:        model.LinkRef(tenderID, supplierID),
			SendStatus:     model.SendStatusFailed,
			AttemptCount:   attempt + 1,
			LastError:      err.Error(),
		}
		if createErr := s.MessageRepo.Create(ctx, msg); createErr != nil {
			s.Log.Error().Err(createErr).Msg("failed to record failed message")
		}

		if apperrors.IsPermanent(err) {
			return s.failPermanently(ctx, tender, link, supplierID, attempt, err.Error())
		}
		// transient: leave the link QUEUED, the caller re-enqueues
		return err
	}

	updated, err := s.LinkRepo.MarkSent(ctx, tenderID, supplierID, "")
	if err != nil {
		return err
	}
	if !updated {
		// another worker sent first; the message row is still recorded
		s.Log.Warn().Int64("tender_id", tenderID).Int64("supplier_id", supplierID).
			Msg("link no longer queued after send")
	}

	return s.MessageRepo.Create(ctx, &model.TransactionalMessage{
		TemplateCode:      TemplateTenderPresentation,
		RecipientEmail:    supplier.ContactEmail,
		RecipientName:     supplier.ContactFirstName,
		Variables:         variables,
		Context:           model.LinkRef(tenderID, supplierID),
		SendStatus:        model.SendStatusSent,
		ProviderMessageID: result.ProviderMessageID,
		AttemptCount:      attempt + 1,
	})
}

// NotifyPartner handles one notify task for a partner share. The share is
// read fresh; a missing or already-stamped share is an idempotent no-op.
// One mail goes to each address on the partner's contact list; a transient
// provider failure is returned so the caller re-enqueues.
func (s *NotifyService) NotifyPartner(ctx context.Context, tenderID, partnerID int64, attempt int) error {
	if s.TaskDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.TaskDeadline)
		defer cancel()
	}

	share, err := s.PartnerRepo.GetShare(ctx, tenderID, partnerID)
	if err != nil {
		return err
	}
	if share == nil {
		s.Log.Info().Int64("tender_id", tenderID).Int64("partner_id", partnerID).
			Msg("partner share absent, notification is a no-op")
		return nil
	}
	if share.EmailSendDate != nil {
		return nil
	}

	partner, err := s.PartnerRepo.GetByID(ctx, partnerID)
	if err != nil {
		return err
	}
	tender, err := s.TenderRepo.GetByID(ctx, tenderID)
	if err != nil {
		return err
	}
	if partner == nil || len(partner.ContactEmailList) == 0 {
		s.Log.Error().Int64("tender_id", tenderID).Int64("partner_id", partnerID).
			Msg("partner has no contact addresses")
		_, err := s.PartnerRepo.MarkShared(ctx, tenderID, partnerID)
		return err
	}

	variables := map[string]string{
		"PARTNER_NAME":  orUnknown(partner.Name),
		"BUYER_COMPANY": orUnknown(tender.AuthorCompany),
		"KIND":          string(tender.Kind),
		"SECTORS":       strings.Join(tender.Sectors, ", "),
		"PERIMETERS":    perimetersDisplay(tender),
		"TENDER_URL":    fmt.Sprintf("%s/tenders/%s", s.SiteBaseURL, tender.Slug),
	}

	for _, email := range partner.ContactEmailList {
		req := mailer.SendRequest{
			TemplateCode: TemplatePartnerPresentation,
			ToEmail:      email,
			ToName:       partner.Name,
			Subject:      fmt.Sprintf("Nouveau besoin de %s sur le marché de l'inclusion", orUnknown(tender.AuthorCompany)),
			Variables:    variables,
		}
		result, err := s.Mailer.Send(ctx, req)
		if err != nil {
			msg := &model.TransactionalMessage{
				TemplateCode:   TemplatePartnerPresentation,
				RecipientEmail: email,
				RecipientName:  partner.Name,
				Variables:      variables,
				Context:        model.TenderRef(tenderID),
				SendStatus:     model.SendStatusFailed,
				AttemptCount:   attempt + 1,
				LastError:      err.Error(),
			}
			if createErr := s.MessageRepo.Create(ctx, msg); createErr != nil {
				s.Log.Error().Err(createErr).Msg("failed to record failed message")
			}
			if apperrors.IsPermanent(err) {
				s.Log.Error().Err(err).Str("email", email).Int64("partner_id", partnerID).
					Msg("partner notification failed permanently")
				continue
			}
			return err
		}
		if err := s.MessageRepo.Create(ctx, &model.TransactionalMessage{
			TemplateCode:      TemplatePartnerPresentation,
			RecipientEmail:    email,
			RecipientName:     partner.Name,
			Variables:         variables,
			Context:           model.TenderRef(tenderID),
			SendStatus:        model.SendStatusSent,
			ProviderMessageID: result.ProviderMessageID,
			AttemptCount:      attempt + 1,
		}); err != nil {
			return err
		}
	}

	_, err = s.PartnerRepo.MarkShared(ctx, tenderID, partnerID)
	return err
}

func (s *NotifyService) failPermanently(ctx context.Context, tender *model.Tender, link *model.TenderSupplier, supplierID int64, attempt int, reason string) error {
	if _, err := s.LinkRepo.MarkSent(ctx, tender.ID, supplierID, reason); err != nil {
		return err
	}
	s.Log.Error().Int64("tender_id", tender.ID).Int64("supplier_id", supplierID).
		Str("reason", reason).Msg("notification failed permanently")
	return nil
}

func (s *NotifyService) renderVariables(tender *model.Tender, supplier *model.Supplier) map[string]string {
	return map[string]string{
		"FULL_NAME":     orUnknown(supplier.ContactFirstName),
		"BUYER_COMPANY": orUnknown(tender.AuthorCompany),
		"KIND":          string(tender.Kind),
		"SECTORS":       strings.Join(tender.Sectors, ", "),
		"PERIMETERS":    perimetersDisplay(tender),
		"TENDER_URL":    fmt.Sprintf("%s/tenders/%s", s.SiteBaseURL, tender.Slug),
	}
}

func perimetersDisplay(tender *model.Tender) string {
	switch tender.GeoScope {
	case model.GeoScopeCountry:
		return "France entière"
	case model.GeoScopeRegions:
		return strings.Join(tender.Regions, ", ")
	case model.GeoScopeDepartments:
		return strings.Join(tender.Departments, ", ")
	default:
		names := make([]string, 0, len(tender.Perimeters))
		for _, p := range tender.Perimeters {
			names = append(names, p.Name)
		}
		return strings.Join(names, ", ")
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "N/A"
	}
	return value
}

// HandleProviderEvent records an asynchronous delivery event from the mail
// provider webhook. Unknown message ids are ignored so webhook replays and
// foreign traffic stay harmless.
func (s *NotifyService) HandleProviderEvent(ctx context.Context, providerMessageID, event string) error {
	var status model.SendStatus
	switch event {
	case "delivered", "open", "click":
		status = model.SendStatusSent
	case "bounce", "hard_bounce", "soft_bounce", "spam", "blocked", "error":
		status = model.SendStatusFailed
	default:
		s.Log.Debug().Str("event", event).Msg("ignoring unhandled provider event")
		return nil
	}
	updated, err := s.MessageRepo.UpdateProviderStatus(ctx, providerMessageID, status, event)
	if err != nil {
		return err
	}
	if !updated {
		s.Log.Debug().Str("provider_message_id", providerMessageID).
			Msg("provider event for unknown message")
	}
	return nil
}

// RenderTemplate fills {placeholder} markers in a raw template body. Used
// for ad-hoc template previews.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// ReconcileQueued re-enqueues notifications for QUEUED links of SENT
// tenders older than the threshold: tasks lost between dispatch commit and
// queue publish, or dropped past the retry budget.
func (s *NotifyService) ReconcileQueued(ctx context.Context, q queue.Queue, olderThan time.Duration, limit int) (int, error) {
	cutoff := sql.NullTime{Time: time.Now().Add(-olderThan), Valid: true}
	stale, err := s.LinkRepo.ListStaleQueued(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, key := range stale {
		msg := queue.Message{TenderID: key.TenderID, SupplierID: key.SupplierID}
		if err := q.Publish(ctx, queue.TopicNotify, msg); err != nil {
			s.Log.Error().Err(err).Int64("tender_id", key.TenderID).Int64("supplier_id", key.SupplierID).
				Msg("failed to re-enqueue stale link")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.Log.Info().Int("requeued", requeued).Msg("reconciled stale queued links")
	}
	return requeued, nil
}
