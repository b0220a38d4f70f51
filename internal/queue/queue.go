// internal/queue/queue.go
package queue

import "context"

// Task topics consumed by the worker process.
const (
	TopicDispatch = "tender_dispatch"
	TopicNotify   = "tender_notify"
	TopicRecount  = "tender_recount"
)

// Message carries task identity only; consumers re-read state from the store.
// Notify tasks set either SupplierID or PartnerID, never both.
type Message struct {
	TenderID   int64 `json:"tender_id"`
	SupplierID int64 `json:"supplier_id,omitempty"`
	PartnerID  int64 `json:"partner_id,omitempty"`
	Attempt    int   `json:"attempt,omitempty"`
}

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}
