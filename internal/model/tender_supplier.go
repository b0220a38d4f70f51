// internal/model/tender_supplier.go
package model

import "time"

// LinkState is the per-(tender, supplier) delivery and interaction state.
type LinkState string

const (
	LinkQueued               LinkState = "QUEUED"
	LinkSent                 LinkState = "SENT"
	LinkViewed               LinkState = "VIEWED"
	LinkClicked              LinkState = "CLICKED"
	LinkCocontractingOffered LinkState = "COCONTRACTING_OFFERED"
	LinkInterested           LinkState = "INTERESTED"
	LinkNotInterested        LinkState = "NOT_INTERESTED"
	LinkTransactioned        LinkState = "TRANSACTIONED"
)

// linkRanks orders states so that a stronger state never regresses to a
// weaker one. INTERESTED and NOT_INTERESTED share a rank: they are mutually
// exclusive terminals on the interest axis.
var linkRanks = map[LinkState]int{
	LinkQueued:               0,
	LinkSent:                 1,
	LinkViewed:               2,
	LinkClicked:              3,
	LinkCocontractingOffered: 4,
	LinkInterested:           5,
	LinkNotInterested:        5,
	LinkTransactioned:        6,
}

func (s LinkState) Rank() int {
	return linkRanks[s]
}

type LinkSource string

const (
	LinkSourceMatcher LinkSource = "MATCHER"
	LinkSourceManual  LinkSource = "MANUAL"
	LinkSourcePartner LinkSource = "PARTNER"
)

// TenderSupplier links a tender to one matched supplier. Identity is the
// (tender_id, supplier_id) pair. Each event timestamp is set at most once.
type TenderSupplier struct {
	TenderID   int64 `db:"tender_id" json:"tender_id"`
	SupplierID int64 `db:"supplier_id" json:"supplier_id"`

	State  LinkState  `db:"state" json:"state"`
	Source LinkSource `db:"source" json:"source"`

	EmailSendDate                *time.Time `db:"email_send_date" json:"email_send_date,omitempty"`
	EmailLinkClickDate           *time.Time `db:"email_link_click_date" json:"email_link_click_date,omitempty"`
	DetailDisplayDate            *time.Time `db:"detail_display_date" json:"detail_display_date,omitempty"`
	DetailContactClickDate       *time.Time `db:"detail_contact_click_date" json:"detail_contact_click_date,omitempty"`
	DetailNotInterestedClickDate *time.Time `db:"detail_not_interested_click_date" json:"detail_not_interested_click_date,omitempty"`
	DetailCocontractingClickDate *time.Time `db:"detail_cocontracting_click_date" json:"detail_cocontracting_click_date,omitempty"`
	TransactionedDate            *time.Time `db:"transactioned_date" json:"transactioned_date,omitempty"`

	Transactioned bool   `db:"transactioned" json:"transactioned"`
	SendError     string `db:"send_error" json:"send_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
