// internal/model/message.go
package model

import "time"

type SendStatus string

const (
	SendStatusPending SendStatus = "PENDING"
	SendStatusSent    SendStatus = "SENT"
	SendStatusFailed  SendStatus = "FAILED"
)

type ContextKind string

const (
	ContextTender ContextKind = "TENDER"
	ContextUser   ContextKind = "USER"
	ContextLink   ContextKind = "LINK"
)

// MessageContext is the typed back-reference of a transactional message:
// a tender, a user, or a (tender, supplier) link. Use the constructors.
type MessageContext struct {
	Kind       ContextKind `db:"context_kind" json:"context_kind"`
	TenderID   int64       `db:"context_tender_id" json:"context_tender_id,omitempty"`
	UserID     int64       `db:"context_user_id" json:"context_user_id,omitempty"`
	SupplierID int64       `db:"context_supplier_id" json:"context_supplier_id,omitempty"`
}

func TenderRef(tenderID int64) MessageContext {
	return MessageContext{Kind: ContextTender, TenderID: tenderID}
}

func UserRef(userID int64) MessageContext {
	return MessageContext{Kind: ContextUser, UserID: userID}
}

func LinkRef(tenderID, supplierID int64) MessageContext {
	return MessageContext{Kind: ContextLink, TenderID: tenderID, SupplierID: supplierID}
}

// TransactionalMessage is one outbound email or SMS record. The log is
// append-only: every send attempt produces a row.
type TransactionalMessage struct {
	ID             string            `db:"id" json:"id"`
	TemplateCode   string            `db:"template_code" json:"template_code"`
	RecipientEmail string            `db:"recipient_email" json:"recipient_email"`
	RecipientName  string            `db:"recipient_name" json:"recipient_name"`
	Variables      map[string]string `db:"-" json:"variables"`

	Context MessageContext `json:"context"`

	SendStatus        SendStatus `db:"send_status" json:"send_status"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	AttemptCount      int        `db:"attempt_count" json:"attempt_count"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
