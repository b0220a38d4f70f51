// internal/repository/tender_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/model"
)

type TenderRepositoryInterface interface {
	Create(ctx context.Context, t *model.Tender) error
	GetByID(ctx context.Context, id int64) (*model.Tender, error)
	GetBySlug(ctx context.Context, slug string) (*model.Tender, error)
	ListTenders(ctx context.Context, offset, limit int, status, kind string) ([]*model.Tender, int, error)

	MarkSubmitted(ctx context.Context, id int64) (bool, error)
	MarkValidated(ctx context.Context, id int64) (bool, error)
	MarkRequestedModification(ctx context.Context, id int64) (bool, error)
	MarkRejected(ctx context.Context, id int64, reason string) (bool, error)
	MarkSent(ctx context.Context, id int64) (bool, error)

	SetTransactioned(ctx context.Context, id int64) error
	Recount(ctx context.Context, id int64) error
	IDsForRecount(ctx context.Context) ([]int64, error)
	IDsValidatedBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
}

type TenderRepository struct {
	DB *sql.DB
}

const tenderColumns = `
	id, slug, title, description, constraints, kind,
	amount, why_amount_is_blank, accept_share_amount,
	deadline_date, start_working_date, external_link,
	contact_first_name, contact_last_name, contact_email, contact_phone,
	response_kind, accept_cocontracting,
	sectors, all_sectors, geo_scope, regions, departments,
	include_country_area, supplier_kinds, presta_types, excluded_suppliers,
	author_id, author_company, source, status, rejection_reason,
	transactioned, transactioned_last_updated,
	supplier_count, email_send_count, email_link_click_count,
	detail_display_count, email_link_click_or_detail_display_count,
	detail_contact_click_count, detail_not_interested_count,
	detail_cocontracting_count, stats_last_updated,
	created_at, updated_at, submitted_at, validated_at, sent_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTender(row scanner) (*model.Tender, error) {
	var t model.Tender
	var supplierKinds, prestaTypes []string
	var amount, whyBlank, rejectionReason sql.NullString
	err := row.Scan(
		&t.ID, &t.Slug, &t.Title, &t.Description, &t.Constraints, &t.Kind,
		&amount, &whyBlank, &t.AcceptShareAmount,
		&t.DeadlineDate, &t.StartWorkingDate, &t.ExternalLink,
		&t.ContactFirstName, &t.ContactLastName, &t.ContactEmail, &t.ContactPhone,
		pq.Array(&t.ResponseKind), &t.AcceptCocontracting,
		pq.Array(&t.Sectors), &t.AllSectors, &t.GeoScope, pq.Array(&t.Regions), pq.Array(&t.Departments),
		&t.IncludeCountryArea, pq.Array(&supplierKinds), pq.Array(&prestaTypes), pq.Array(&t.ExcludedSuppliers),
		&t.AuthorID, &t.AuthorCompany, &t.Source, &t.Status, &rejectionReason,
		&t.Transactioned, &t.TransactionedLastUpdated,
		&t.Stats.SupplierCount, &t.Stats.EmailSendCount, &t.Stats.EmailLinkClickCount,
		&t.Stats.DetailDisplayCount, &t.Stats.EmailLinkClickOrDetailDisplayCount,
		&t.Stats.DetailContactClickCount, &t.Stats.DetailNotInterestedCount,
		&t.Stats.DetailCocontractingCount, &t.Stats.LastUpdated,
		&t.CreatedAt, &t.UpdatedAt, &t.SubmittedAt, &t.ValidatedAt, &t.SentAt,
	)
	if err != nil {
		return nil, err
	}
	t.Amount = model.AmountRange(amount.String)
	t.WhyAmountIsBlank = whyBlank.String
	t.RejectionReason = rejectionReason.String
	for _, k := range supplierKinds {
		t.SupplierKinds = append(t.SupplierKinds, model.SupplierKind(k))
	}
	for _, p := range prestaTypes {
		t.PrestaTypes = append(t.PrestaTypes, model.PrestaType(p))
	}
	return &t, nil
}

// Create inserts the tender in DRAFT status and generates its slug. A slug
// collision is retried once with a short uuid suffix.
func (r *TenderRepository) Create(ctx context.Context, t *model.Tender) error {
	t.Status = model.StatusDraft
	t.Slug = Slugify(t.Title, t.AuthorCompany)
	err := r.insert(ctx, t)
	if isSlugConflict(err) {
		t.Slug = fmt.Sprintf("%s-%s", t.Slug, uuid.NewString()[:4])
		err = r.insert(ctx, t)
	}
	return err
}

func (r *TenderRepository) insert(ctx context.Context, t *model.Tender) error {
	supplierKinds := make([]string, 0, len(t.SupplierKinds))
	for _, k := range t.SupplierKinds {
		supplierKinds = append(supplierKinds, string(k))
	}
	prestaTypes := make([]string, 0, len(t.PrestaTypes))
	for _, p := range t.PrestaTypes {
		prestaTypes = append(prestaTypes, string(p))
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "begin create tender")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO tenders (
			slug, title, description, constraints, kind,
			amount, why_amount_is_blank, accept_share_amount,
			deadline_date, start_working_date, external_link,
			contact_first_name, contact_last_name, contact_email, contact_phone,
			response_kind, accept_cocontracting,
			sectors, all_sectors, geo_scope, regions, departments,
			include_country_area, supplier_kinds, presta_types, excluded_suppliers,
			author_id, author_company, source, status
		) VALUES (
			$1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25,
			$26, $27, $28, $29, $30
		)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		t.Slug, t.Title, t.Description, t.Constraints, t.Kind,
		string(t.Amount), t.WhyAmountIsBlank, t.AcceptShareAmount,
		t.DeadlineDate, t.StartWorkingDate, t.ExternalLink,
		t.ContactFirstName, t.ContactLastName, t.ContactEmail, t.ContactPhone,
		pq.Array(t.ResponseKind), t.AcceptCocontracting,
		pq.Array(t.Sectors), t.AllSectors, t.GeoScope, pq.Array(t.Regions), pq.Array(t.Departments),
		t.IncludeCountryArea, pq.Array(supplierKinds), pq.Array(prestaTypes), pq.Array(t.ExcludedSuppliers),
		t.AuthorID, t.AuthorCompany, t.Source, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return err
	}

	for _, p := range t.Perimeters {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tender_perimeters (tender_id, name, lat, lon, radius_km)
			VALUES ($1, $2, $3, $4, $5)
		`, t.ID, p.Name, p.Lat, p.Lon, p.RadiusKm)
		if err != nil {
			return pkgerrors.Wrap(err, "insert tender perimeter")
		}
	}

	return tx.Commit()
}

func isSlugConflict(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "slug")
}

func (r *TenderRepository) GetByID(ctx context.Context, id int64) (*model.Tender, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenders WHERE id = $1`, tenderColumns)
	t, err := scanTender(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewTenderNotFound(id)
		}
		return nil, err
	}
	if err := r.loadPerimeters(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TenderRepository) GetBySlug(ctx context.Context, slug string) (*model.Tender, error) {
	query := fmt.Sprintf(`SELECT %s FROM tenders WHERE slug = $1`, tenderColumns)
	t, err := scanTender(r.DB.QueryRowContext(ctx, query, slug))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewTenderNotFoundBySlug(slug)
		}
		return nil, err
	}
	if err := r.loadPerimeters(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TenderRepository) loadPerimeters(ctx context.Context, t *model.Tender) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT name, lat, lon, radius_km FROM tender_perimeters WHERE tender_id = $1 ORDER BY id
	`, t.ID)
	if err != nil {
		return pkgerrors.Wrap(err, "load tender perimeters")
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Perimeter
		if err := rows.Scan(&p.Name, &p.Lat, &p.Lon, &p.RadiusKm); err != nil {
			return err
		}
		t.Perimeters = append(t.Perimeters, p)
	}
	return rows.Err()
}

func (r *TenderRepository) ListTenders(ctx context.Context, offset, limit int, status, kind string) ([]*model.Tender, int, error) {
	tenders := []*model.Tender{}
	query := fmt.Sprintf(`SELECT %s FROM tenders WHERE 1=1`, tenderColumns)
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	if kind != "" {
		query += fmt.Sprintf(" AND kind=$%d", argPos)
		args = append(args, kind)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTender(rows)
		if err != nil {
			return nil, 0, err
		}
		tenders = append(tenders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM tenders WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
		argPosCount++
	}
	if kind != "" {
		countQuery += fmt.Sprintf(" AND kind=$%d", argPosCount)
		argsCount = append(argsCount, kind)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return tenders, total, nil
}

// ====================== Status transitions ======================
//
// Each transition is a compare-and-set on the status column; the row lock
// taken by UPDATE serializes concurrent transitions per tender.

func (r *TenderRepository) MarkSubmitted(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, `
		UPDATE tenders SET status=$1, submitted_at=NOW(), updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.StatusPendingValidation, id, model.StatusDraft)
}

func (r *TenderRepository) MarkValidated(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, `
		UPDATE tenders SET status=$1, validated_at=NOW(), updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.StatusValidated, id, model.StatusPendingValidation)
}

func (r *TenderRepository) MarkRequestedModification(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, `
		UPDATE tenders SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.StatusDraft, id, model.StatusPendingValidation)
}

// MarkRejected moves any non-terminal tender to REJECTED.
func (r *TenderRepository) MarkRejected(ctx context.Context, id int64, reason string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE tenders SET status=$1, rejection_reason=$2, updated_at=NOW()
		WHERE id=$3 AND status NOT IN ($4, $5)
	`, model.StatusRejected, reason, id, model.StatusSent, model.StatusRejected)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// MarkSent keeps sent_at stable on repeated calls.
func (r *TenderRepository) MarkSent(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, `
		UPDATE tenders SET status=$1, sent_at=COALESCE(sent_at, NOW()), updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.StatusSent, id, model.StatusValidated)
}

func (r *TenderRepository) transition(ctx context.Context, query string, to model.TenderStatus, id int64, from model.TenderStatus) (bool, error) {
	result, err := r.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (r *TenderRepository) SetTransactioned(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE tenders SET transactioned=TRUE, transactioned_last_updated=NOW(), updated_at=NOW()
		WHERE id=$1
	`, id)
	return err
}

// Recount recomputes every aggregated counter from the current
// tender_suppliers rows, in a single statement.
func (r *TenderRepository) Recount(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE tenders t SET
			supplier_count = s.supplier_count,
			email_send_count = s.email_send_count,
			email_link_click_count = s.email_link_click_count,
			detail_display_count = s.detail_display_count,
			email_link_click_or_detail_display_count = s.seen_count,
			detail_contact_click_count = s.detail_contact_click_count,
			detail_not_interested_count = s.detail_not_interested_count,
			detail_cocontracting_count = s.detail_cocontracting_count,
			stats_last_updated = NOW(),
			updated_at = NOW()
		FROM (
			SELECT
				COUNT(*) AS supplier_count,
				COUNT(email_send_date) AS email_send_count,
				COUNT(email_link_click_date) AS email_link_click_count,
				COUNT(detail_display_date) AS detail_display_count,
				COUNT(CASE WHEN email_link_click_date IS NOT NULL
					OR detail_display_date IS NOT NULL THEN 1 END) AS seen_count,
				COUNT(detail_contact_click_date) AS detail_contact_click_count,
				COUNT(detail_not_interested_click_date) AS detail_not_interested_count,
				COUNT(detail_cocontracting_click_date) AS detail_cocontracting_count
			FROM tender_suppliers WHERE tender_id = $1
		) s
		WHERE t.id = $1
	`, id)
	return pkgerrors.Wrap(err, "recount tender")
}

// IDsForRecount returns the tenders whose counters the periodic aggregator
// refreshes. Only SENT tenders carry links.
func (r *TenderRepository) IDsForRecount(ctx context.Context) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tenders WHERE status = $1`, model.StatusSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IDsValidatedBefore returns tenders stuck in VALIDATED since before the
// cutoff: their dispatch task was lost between commit and queue publish.
func (r *TenderRepository) IDsValidatedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id FROM tenders WHERE status = $1 AND validated_at < $2
	`, model.StatusValidated, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ TenderRepositoryInterface = (*TenderRepository)(nil)
