// internal/repository/message_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/lemarche/tender-engine/internal/model"
)

type MessageRepositoryInterface interface {
	Create(ctx context.Context, msg *model.TransactionalMessage) error
	UpdateProviderStatus(ctx context.Context, providerMessageID string, status model.SendStatus, event string) (bool, error)
	ListForLink(ctx context.Context, tenderID, supplierID int64) ([]model.TransactionalMessage, error)
}

type MessageRepository struct {
	DB *sql.DB
}

// Create appends one message row. The log is append-only: attempts are
// recorded as new rows, never by rewriting old ones.
func (r *MessageRepository) Create(ctx context.Context, msg *model.TransactionalMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	variables, err := json.Marshal(msg.Variables)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal message variables")
	}
	query := `
		INSERT INTO transactional_messages (
			id, template_code, recipient_email, recipient_name, variables,
			context_kind, context_tender_id, context_user_id, context_supplier_id,
			send_status, provider_message_id, attempt_count, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`
	return r.DB.QueryRowContext(ctx, query,
		msg.ID, msg.TemplateCode, msg.RecipientEmail, msg.RecipientName, variables,
		msg.Context.Kind, nullID(msg.Context.TenderID), nullID(msg.Context.UserID), nullID(msg.Context.SupplierID),
		msg.SendStatus, msg.ProviderMessageID, msg.AttemptCount, msg.LastError,
	).Scan(&msg.CreatedAt)
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// UpdateProviderStatus maps a provider webhook event onto the message row
// with the given provider message id. Returns false when no row matches.
func (r *MessageRepository) UpdateProviderStatus(ctx context.Context, providerMessageID string, status model.SendStatus, event string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE transactional_messages
		SET send_status=$1, last_error=$2
		WHERE provider_message_id=$3
	`, status, event, providerMessageID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (r *MessageRepository) ListForLink(ctx context.Context, tenderID, supplierID int64) ([]model.TransactionalMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, template_code, recipient_email, recipient_name,
			send_status, provider_message_id, attempt_count, last_error, created_at
		FROM transactional_messages
		WHERE context_kind=$1 AND context_tender_id=$2 AND context_supplier_id=$3
		ORDER BY created_at
	`, model.ContextLink, tenderID, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.TransactionalMessage
	for rows.Next() {
		var m model.TransactionalMessage
		if err := rows.Scan(
			&m.ID, &m.TemplateCode, &m.RecipientEmail, &m.RecipientName,
			&m.SendStatus, &m.ProviderMessageID, &m.AttemptCount, &m.LastError, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Context = model.LinkRef(tenderID, supplierID)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
