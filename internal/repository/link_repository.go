// internal/repository/link_repository.go
package repository

import (
	"context"
	"database/sql"

	pkgerrors "github.com/pkg/errors"

	"github.com/lemarche/tender-engine/internal/model"
)

// LinkKey identifies one TenderSupplier row.
type LinkKey struct {
	TenderID   int64
	SupplierID int64
}

type LinkRepositoryInterface interface {
	Get(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error)
	MarkSent(ctx context.Context, tenderID, supplierID int64, sendError string) (bool, error)
	RecordInteraction(ctx context.Context, tenderID, supplierID int64, apply func(*model.TenderSupplier) error) (*model.TenderSupplier, error)
	DeleteQueued(ctx context.Context, tenderID int64) (int64, error)
	ListStaleQueued(ctx context.Context, olderThan sql.NullTime, limit int) ([]LinkKey, error)
}

type LinkRepository struct {
	DB *sql.DB
}

const linkColumns = `
	tender_id, supplier_id, state, source,
	email_send_date, email_link_click_date, detail_display_date,
	detail_contact_click_date, detail_not_interested_click_date,
	detail_cocontracting_click_date, transactioned_date,
	transactioned, send_error, created_at, updated_at`

func scanLink(row scanner) (*model.TenderSupplier, error) {
	var l model.TenderSupplier
	err := row.Scan(
		&l.TenderID, &l.SupplierID, &l.State, &l.Source,
		&l.EmailSendDate, &l.EmailLinkClickDate, &l.DetailDisplayDate,
		&l.DetailContactClickDate, &l.DetailNotInterestedClickDate,
		&l.DetailCocontractingClickDate, &l.TransactionedDate,
		&l.Transactioned, &l.SendError, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Get returns the link, or (nil, nil) when no row exists.
func (r *LinkRepository) Get(ctx context.Context, tenderID, supplierID int64) (*model.TenderSupplier, error) {
	query := `SELECT` + linkColumns + ` FROM tender_suppliers WHERE tender_id=$1 AND supplier_id=$2`
	l, err := scanLink(r.DB.QueryRowContext(ctx, query, tenderID, supplierID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

// MarkSent flips a QUEUED link to SENT and stamps email_send_date once.
// Returns false when the link was not in QUEUED (idempotent no-op).
func (r *LinkRepository) MarkSent(ctx context.Context, tenderID, supplierID int64, sendError string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE tender_suppliers
		SET state=$1, email_send_date=COALESCE(email_send_date, NOW()), send_error=$2, updated_at=NOW()
		WHERE tender_id=$3 AND supplier_id=$4 AND state=$5
	`, model.LinkSent, sendError, tenderID, supplierID, model.LinkQueued)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// RecordInteraction loads the link under a row lock, applies the mutation and
// persists the result. Serializes writers per (tender, supplier).
func (r *LinkRepository) RecordInteraction(ctx context.Context, tenderID, supplierID int64, apply func(*model.TenderSupplier) error) (*model.TenderSupplier, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "begin interaction")
	}
	defer tx.Rollback()

	query := `SELECT` + linkColumns + ` FROM tender_suppliers WHERE tender_id=$1 AND supplier_id=$2 FOR UPDATE`
	link, err := scanLink(tx.QueryRowContext(ctx, query, tenderID, supplierID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := apply(link); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tender_suppliers SET
			state=$1,
			email_link_click_date=$2,
			detail_display_date=$3,
			detail_contact_click_date=$4,
			detail_not_interested_click_date=$5,
			detail_cocontracting_click_date=$6,
			transactioned_date=$7,
			transactioned=$8,
			updated_at=NOW()
		WHERE tender_id=$9 AND supplier_id=$10
	`, link.State,
		link.EmailLinkClickDate, link.DetailDisplayDate, link.DetailContactClickDate,
		link.DetailNotInterestedClickDate, link.DetailCocontractingClickDate,
		link.TransactionedDate, link.Transactioned,
		tenderID, supplierID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return link, nil
}

// DeleteQueued removes links still waiting to be notified. Used as
// compensation when a VALIDATED tender is rejected.
func (r *LinkRepository) DeleteQueued(ctx context.Context, tenderID int64) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `
		DELETE FROM tender_suppliers WHERE tender_id=$1 AND state=$2
	`, tenderID, model.LinkQueued)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListStaleQueued returns QUEUED links of already-SENT tenders older than
// the threshold: notifications that were never enqueued or whose task was
// lost. The reconciliation pass re-enqueues them.
func (r *LinkRepository) ListStaleQueued(ctx context.Context, olderThan sql.NullTime, limit int) ([]LinkKey, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT ts.tender_id, ts.supplier_id
		FROM tender_suppliers ts
		JOIN tenders t ON t.id = ts.tender_id
		WHERE ts.state = $1 AND t.status = $2 AND ts.created_at < $3
		ORDER BY ts.created_at
		LIMIT $4
	`, model.LinkQueued, model.StatusSent, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []LinkKey
	for rows.Next() {
		var k LinkKey
		if err := rows.Scan(&k.TenderID, &k.SupplierID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

var _ LinkRepositoryInterface = (*LinkRepository)(nil)
