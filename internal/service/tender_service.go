// internal/service/tender_service.go
package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
)

// TenderService owns the tender lifecycle: creation, moderation transitions
// and the hand-off to asynchronous dispatch.
type TenderService struct {
	TenderRepo repository.TenderRepositoryInterface
	LinkRepo   repository.LinkRepositoryInterface
	Queue      queue.Queue
	Log        zerolog.Logger
}

// CreateTenderInput is the buyer-submitted payload.
type CreateTenderInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Constraints string           `json:"constraints"`
	Kind        model.TenderKind `json:"kind"`

	Amount            model.AmountRange `json:"amount"`
	WhyAmountIsBlank  string            `json:"why_amount_is_blank"`
	AcceptShareAmount bool              `json:"accept_share_amount"`

	DeadlineDate     *time.Time `json:"deadline_date"`
	StartWorkingDate *time.Time `json:"start_working_date"`
	ExternalLink     string     `json:"external_link"`

	ContactFirstName string   `json:"contact_first_name"`
	ContactLastName  string   `json:"contact_last_name"`
	ContactEmail     string   `json:"contact_email"`
	ContactPhone     string   `json:"contact_phone"`
	ResponseKind     []string `json:"response_kind"`

	AcceptCocontracting bool `json:"accept_cocontracting"`

	Sectors            []string             `json:"sectors"`
	AllSectors         bool                 `json:"all_sectors"`
	GeoScope           model.GeoScope       `json:"geo_scope"`
	Regions            []string             `json:"regions"`
	Departments        []string             `json:"departments"`
	Perimeters         []model.Perimeter    `json:"perimeters"`
	IncludeCountryArea bool                 `json:"include_country_area"`
	SupplierKinds      []model.SupplierKind `json:"supplier_kinds"`
	PrestaTypes        []model.PrestaType   `json:"presta_types"`
	ExcludedSuppliers  []int64              `json:"excluded_suppliers"`

	AuthorCompany string `json:"author_company"`
	Source        string `json:"source"`
}

// CreateTender validates the payload and persists a DRAFT tender.
func (s *TenderService) CreateTender(ctx context.Context, authorID int64, in CreateTenderInput) (*model.Tender, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperrors.NewValidation("title", "must not be empty")
	}
	if !model.IsValidTenderKind(in.Kind) {
		return nil, apperrors.NewValidation("kind", "unknown tender kind")
	}
	if in.Amount != "" && in.Amount.Index() < 0 {
		return nil, apperrors.NewValidation("amount", "unknown amount range")
	}
	if !model.IsValidGeoScope(in.GeoScope) {
		return nil, apperrors.NewValidation("geo_scope", "unknown geographic scope")
	}
	if in.GeoScope == model.GeoScopeRegions && len(in.Regions) == 0 {
		return nil, apperrors.NewValidation("regions", "required for a region-scoped tender")
	}
	if in.GeoScope == model.GeoScopeDepartments && len(in.Departments) == 0 {
		return nil, apperrors.NewValidation("departments", "required for a department-scoped tender")
	}
	for _, kind := range in.ResponseKind {
		if kind != model.ResponseKindEmail && kind != model.ResponseKindTel && kind != model.ResponseKindExternal {
			return nil, apperrors.NewValidation("response_kind", "unknown response kind")
		}
	}

	source := in.Source
	if source == "" {
		source = model.TenderSourceForm
	}

	tender := &model.Tender{
		Title:               strings.TrimSpace(in.Title),
		Description:         in.Description,
		Constraints:         in.Constraints,
		Kind:                in.Kind,
		Amount:              in.Amount,
		WhyAmountIsBlank:    in.WhyAmountIsBlank,
		AcceptShareAmount:   in.AcceptShareAmount,
		DeadlineDate:        in.DeadlineDate,
		StartWorkingDate:    in.StartWorkingDate,
		ExternalLink:        in.ExternalLink,
		ContactFirstName:    in.ContactFirstName,
		ContactLastName:     in.ContactLastName,
		ContactEmail:        in.ContactEmail,
		ContactPhone:        in.ContactPhone,
		ResponseKind:        in.ResponseKind,
		AcceptCocontracting: in.AcceptCocontracting,
		Sectors:             in.Sectors,
		AllSectors:          in.AllSectors,
		GeoScope:            in.GeoScope,
		Regions:             in.Regions,
		Departments:         in.Departments,
		Perimeters:          in.Perimeters,
		IncludeCountryArea:  in.IncludeCountryArea,
		SupplierKinds:       in.SupplierKinds,
		PrestaTypes:         in.PrestaTypes,
		ExcludedSuppliers:   in.ExcludedSuppliers,
		AuthorID:            authorID,
		AuthorCompany:       in.AuthorCompany,
		Source:              source,
	}

	if err := s.TenderRepo.Create(ctx, tender); err != nil {
		return nil, err
	}
	s.Log.Info().Int64("tender_id", tender.ID).Str("slug", tender.Slug).Msg("tender created")
	return tender, nil
}

// Submit moves DRAFT to PENDING_VALIDATION.
func (s *TenderService) Submit(ctx context.Context, id int64) (*model.Tender, error) {
	return s.applyTransition(ctx, id, model.StatusPendingValidation, s.TenderRepo.MarkSubmitted)
}

// Validate moves PENDING_VALIDATION to VALIDATED and, on success, enqueues
// the dispatch task. An enqueue failure after commit is surfaced so the
// caller can retry; the transition itself is not rolled back, and a retry
// on a tender left VALIDATED just re-publishes the dispatch task.
func (s *TenderService) Validate(ctx context.Context, id int64) (*model.Tender, error) {
	tender, err := s.TenderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tender.AllSectors && len(tender.Sectors) == 0 {
		// the matcher would produce an empty set, refuse before committing
		return nil, apperrors.NewValidation("sectors", "a tender needs sectors or the all-sectors marker to be validated")
	}

	if tender.Status != model.StatusValidated {
		tender, err = s.applyTransition(ctx, id, model.StatusValidated, s.TenderRepo.MarkValidated)
		if err != nil {
			return nil, err
		}
	}

	if err := s.Queue.Publish(ctx, queue.TopicDispatch, queue.Message{TenderID: id}); err != nil {
		s.Log.Error().Err(err).Int64("tender_id", id).Msg("failed to enqueue dispatch")
		return tender, err
	}
	s.Log.Info().Int64("tender_id", id).Msg("tender validated, dispatch enqueued")
	return tender, nil
}

// RequestModification sends a pending tender back to its author.
func (s *TenderService) RequestModification(ctx context.Context, id int64) (*model.Tender, error) {
	return s.applyTransition(ctx, id, model.StatusDraft, s.TenderRepo.MarkRequestedModification)
}

// Reject moves any non-SENT tender to REJECTED. When the tender was already
// VALIDATED its queued links are deleted as compensation: a notify task that
// fires afterwards observes the link absent and no-ops.
func (s *TenderService) Reject(ctx context.Context, id int64, reason string) (*model.Tender, error) {
	tender, err := s.TenderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	wasValidated := tender.Status == model.StatusValidated || tender.Status == model.StatusSent

	updated, err := s.TenderRepo.MarkRejected(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, apperrors.NewIllegalTransition(tender.Status, model.StatusRejected)
	}

	if wasValidated {
		deleted, err := s.LinkRepo.DeleteQueued(ctx, id)
		if err != nil {
			return nil, err
		}
		s.Log.Info().Int64("tender_id", id).Int64("deleted_links", deleted).Msg("queued links removed after rejection")
	}

	return s.TenderRepo.GetByID(ctx, id)
}

func (s *TenderService) applyTransition(ctx context.Context, id int64, to model.TenderStatus, mark func(context.Context, int64) (bool, error)) (*model.Tender, error) {
	updated, err := mark(ctx, id)
	if err != nil {
		return nil, err
	}
	if !updated {
		tender, err := s.TenderRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewIllegalTransition(tender.Status, to)
	}
	return s.TenderRepo.GetByID(ctx, id)
}

// GetBySlug is the public read: the tender plus its current counters.
func (s *TenderService) GetBySlug(ctx context.Context, slug string) (*model.Tender, error) {
	return s.TenderRepo.GetBySlug(ctx, slug)
}

// ListTenders fetches tenders with pagination.
func (s *TenderService) ListTenders(ctx context.Context, page, pageSize int, status, kind string) ([]*model.Tender, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	tenders, total, err := s.TenderRepo.ListTenders(ctx, offset, pageSize, status, kind)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return tenders, pagination, nil
}
