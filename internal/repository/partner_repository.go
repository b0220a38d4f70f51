// internal/repository/partner_repository.go
package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/lemarche/tender-engine/internal/model"
)

type PartnerRepositoryInterface interface {
	ListAll(ctx context.Context) ([]model.PartnerShareTender, error)
	GetByID(ctx context.Context, id int64) (*model.PartnerShareTender, error)
	GetShare(ctx context.Context, tenderID, partnerID int64) (*model.TenderPartner, error)
	MarkShared(ctx context.Context, tenderID, partnerID int64) (bool, error)
}

type PartnerRepository struct {
	DB *sql.DB
}

func (r *PartnerRepository) ListAll(ctx context.Context) ([]model.PartnerShareTender, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, amount_in, regions, contact_email_list, created_at, updated_at
		FROM partner_share_tenders ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []model.PartnerShareTender
	for rows.Next() {
		var p model.PartnerShareTender
		var amountIn sql.NullString
		if err := rows.Scan(
			&p.ID, &p.Name, &amountIn, pq.Array(&p.Regions),
			pq.Array(&p.ContactEmailList), &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.AmountIn = model.AmountRange(amountIn.String)
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

func (r *PartnerRepository) GetByID(ctx context.Context, id int64) (*model.PartnerShareTender, error) {
	var p model.PartnerShareTender
	var amountIn sql.NullString
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, name, amount_in, regions, contact_email_list, created_at, updated_at
		FROM partner_share_tenders WHERE id = $1
	`, id).Scan(
		&p.ID, &p.Name, &amountIn, pq.Array(&p.Regions),
		pq.Array(&p.ContactEmailList), &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.AmountIn = model.AmountRange(amountIn.String)
	return &p, nil
}

func (r *PartnerRepository) GetShare(ctx context.Context, tenderID, partnerID int64) (*model.TenderPartner, error) {
	var share model.TenderPartner
	err := r.DB.QueryRowContext(ctx, `
		SELECT tender_id, partner_id, email_send_date, created_at
		FROM tender_partners WHERE tender_id = $1 AND partner_id = $2
	`, tenderID, partnerID).Scan(&share.TenderID, &share.PartnerID, &share.EmailSendDate, &share.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &share, nil
}

// MarkShared stamps the send date once. Returns false when the share is
// missing or already stamped.
func (r *PartnerRepository) MarkShared(ctx context.Context, tenderID, partnerID int64) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE tender_partners SET email_send_date = NOW()
		WHERE tender_id = $1 AND partner_id = $2 AND email_send_date IS NULL
	`, tenderID, partnerID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

var _ PartnerRepositoryInterface = (*PartnerRepository)(nil)
