// internal/model/partner.go
package model

import "time"

// PartnerShareTender is a commercial partner that receives validated tenders
// instead of (or in addition to) matched suppliers. A partner with an empty
// AmountIn accepts any tender amount; otherwise the tender's amount bucket
// must be at least AmountIn.
type PartnerShareTender struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`

	AmountIn         AmountRange `db:"amount_in" json:"amount_in,omitempty"`
	Regions          []string    `db:"regions" json:"regions,omitempty"`
	ContactEmailList []string    `db:"contact_email_list" json:"contact_email_list"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TenderPartner is the share record of one tender with one partner.
// Partners live in their own id space, separate from suppliers; sends to
// the partner's contact list stamp EmailSendDate once.
type TenderPartner struct {
	TenderID      int64      `db:"tender_id" json:"tender_id"`
	PartnerID     int64      `db:"partner_id" json:"partner_id"`
	EmailSendDate *time.Time `db:"email_send_date" json:"email_send_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// AcceptsAmount reports whether the partner accepts a tender amount bucket.
func (p PartnerShareTender) AcceptsAmount(amount AmountRange) bool {
	if p.AmountIn == "" || amount == "" {
		return true
	}
	return amount.Index() >= p.AmountIn.Index()
}
