// internal/repository/dispatch_repository.go
package repository

import (
	"context"
	"database/sql"

	pkgerrors "github.com/pkg/errors"

	"github.com/lemarche/tender-engine/internal/model"
)

// Candidate is one recipient selected by a dispatch strategy. Exactly one
// of SupplierID and PartnerID is set: suppliers get a tender_suppliers
// link, partners a tender_partners share. The two id spaces never mix.
type Candidate struct {
	SupplierID int64
	PartnerID  int64
	Source     model.LinkSource
}

type DispatchStoreInterface interface {
	DispatchTx(ctx context.Context, tenderID int64, candidates []Candidate) (created []Candidate, alreadySent bool, err error)
}

// DispatchStore runs the transactional part of a dispatch: link upserts
// and the VALIDATED -> SENT transition, under a per-tender advisory lock.
type DispatchStore struct {
	DB *sql.DB
}

// dispatchLockClass namespaces the advisory lock keys used for dispatch.
const dispatchLockClass = 4217

// DispatchTx materializes the candidate links and marks the tender SENT, all
// in one transaction. Reentrant-safe: a second caller blocks on the advisory
// lock, then observes the tender already SENT and returns with no changes.
// If anything fails midway, the whole transaction rolls back and the tender
// stays VALIDATED.
func (s *DispatchStore) DispatchTx(ctx context.Context, tenderID int64, candidates []Candidate) ([]Candidate, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "begin dispatch")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, dispatchLockClass, tenderID); err != nil {
		return nil, false, pkgerrors.Wrap(err, "acquire dispatch lock")
	}

	var status model.TenderStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM tenders WHERE id=$1`, tenderID).Scan(&status)
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "read tender status")
	}
	if status == model.StatusSent {
		return nil, true, nil
	}
	if status != model.StatusValidated {
		return nil, false, pkgerrors.Errorf("tender %d is %s, expected %s", tenderID, status, model.StatusValidated)
	}

	var created []Candidate
	for _, candidate := range candidates {
		var id int64
		var err error
		if candidate.PartnerID != 0 {
			err = tx.QueryRowContext(ctx, `
				INSERT INTO tender_partners (tender_id, partner_id)
				VALUES ($1, $2)
				ON CONFLICT (tender_id, partner_id) DO NOTHING
				RETURNING partner_id
			`, tenderID, candidate.PartnerID).Scan(&id)
		} else {
			err = tx.QueryRowContext(ctx, `
				INSERT INTO tender_suppliers (tender_id, supplier_id, state, source)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (tender_id, supplier_id) DO NOTHING
				RETURNING supplier_id
			`, tenderID, candidate.SupplierID, model.LinkQueued, candidate.Source).Scan(&id)
		}
		if err == sql.ErrNoRows {
			continue // row already existed, leave it untouched
		}
		if err != nil {
			return nil, false, pkgerrors.Wrap(err, "upsert dispatch recipient")
		}
		created = append(created, candidate)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tenders SET status=$1, sent_at=COALESCE(sent_at, NOW()), updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.StatusSent, tenderID, model.StatusValidated)
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "mark tender sent")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, pkgerrors.Wrap(err, "commit dispatch")
	}
	return created, false, nil
}

var _ DispatchStoreInterface = (*DispatchStore)(nil)
