// internal/model/tender.go
package model

import "time"

type TenderKind string

const (
	KindQuote   TenderKind = "QUOTE"
	KindTender  TenderKind = "TENDER"
	KindProject TenderKind = "PROJ"
)

var TenderKinds = []TenderKind{KindQuote, KindTender, KindProject}

type TenderStatus string

const (
	StatusDraft             TenderStatus = "DRAFT"
	StatusPendingValidation TenderStatus = "PENDING_VALIDATION"
	StatusValidated         TenderStatus = "VALIDATED"
	StatusSent              TenderStatus = "SENT"
	StatusRejected          TenderStatus = "REJECTED"
)

// tenderTransitions is the full transition table. SENT and REJECTED are terminal.
var tenderTransitions = map[TenderStatus][]TenderStatus{
	StatusDraft:             {StatusPendingValidation, StatusRejected},
	StatusPendingValidation: {StatusValidated, StatusDraft, StatusRejected},
	StatusValidated:         {StatusSent, StatusRejected},
}

func (s TenderStatus) CanTransitionTo(to TenderStatus) bool {
	for _, allowed := range tenderTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s TenderStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusRejected
}

// AmountRange buckets, ordered from smallest to largest. The order matters:
// partner filtering compares bucket indexes.
type AmountRange string

const (
	AmountRange0To1K    AmountRange = "0-1K"
	AmountRange1To5K    AmountRange = "1-5K"
	AmountRange5To10K   AmountRange = "5-10K"
	AmountRange10To15K  AmountRange = "10-15K"
	AmountRange15To20K  AmountRange = "15-20K"
	AmountRange20To30K  AmountRange = "20-30K"
	AmountRange30To50K  AmountRange = "30-50K"
	AmountRange50To100K AmountRange = "50-100K"
	AmountRange100To150K AmountRange = "100-150K"
	AmountRange150To250K AmountRange = "150-250K"
	AmountRange250To500K AmountRange = "250-500K"
	AmountRange500To750K AmountRange = "500-750K"
	AmountRange750To1M  AmountRange = "750-1000K"
	AmountRange1MPlus   AmountRange = ">1000K"
)

var AmountRanges = []AmountRange{
	AmountRange0To1K, AmountRange1To5K, AmountRange5To10K, AmountRange10To15K,
	AmountRange15To20K, AmountRange20To30K, AmountRange30To50K, AmountRange50To100K,
	AmountRange100To150K, AmountRange150To250K, AmountRange250To500K,
	AmountRange500To750K, AmountRange750To1M, AmountRange1MPlus,
}

// Index returns the position of the bucket in the ordered range list, or -1.
func (a AmountRange) Index() int {
	for i, r := range AmountRanges {
		if r == a {
			return i
		}
	}
	return -1
}

type GeoScope string

const (
	GeoScopeCountry     GeoScope = "COUNTRY"
	GeoScopeRegions     GeoScope = "REGIONS"
	GeoScopeDepartments GeoScope = "DEPARTMENTS"
	GeoScopeCustom      GeoScope = "CUSTOM"
)

var GeoScopes = []GeoScope{GeoScopeCountry, GeoScopeRegions, GeoScopeDepartments, GeoScopeCustom}

// ResponseKind is how the buyer wants to be contacted.
const (
	ResponseKindEmail    = "EMAIL"
	ResponseKindTel      = "TEL"
	ResponseKindExternal = "EXTERN"
)

// Tender source (who created it).
const (
	TenderSourceForm  = "FORM"
	TenderSourceAPI   = "API"
	TenderSourceStaff = "STAFF"
)

// Perimeter is one custom targeting zone: a named center point with a radius.
type Perimeter struct {
	Name     string  `db:"name" json:"name"`
	Lat      float64 `db:"lat" json:"lat"`
	Lon      float64 `db:"lon" json:"lon"`
	RadiusKm float64 `db:"radius_km" json:"radius_km"`
}

// TenderStats holds the aggregated counters recomputed from tender_suppliers rows.
// Eventually consistent: refreshed by the stats aggregator.
type TenderStats struct {
	SupplierCount                      int        `db:"supplier_count" json:"supplier_count"`
	EmailSendCount                     int        `db:"email_send_count" json:"email_send_count"`
	EmailLinkClickCount                int        `db:"email_link_click_count" json:"email_link_click_count"`
	DetailDisplayCount                 int        `db:"detail_display_count" json:"detail_display_count"`
	EmailLinkClickOrDetailDisplayCount int        `db:"email_link_click_or_detail_display_count" json:"email_link_click_or_detail_display_count"`
	DetailContactClickCount            int        `db:"detail_contact_click_count" json:"detail_contact_click_count"`
	DetailNotInterestedCount           int        `db:"detail_not_interested_count" json:"detail_not_interested_count"`
	DetailCocontractingCount           int        `db:"detail_cocontracting_count" json:"detail_cocontracting_count"`
	LastUpdated                        *time.Time `db:"stats_last_updated" json:"stats_last_updated,omitempty"`
}

type Tender struct {
	ID   int64  `db:"id" json:"id"`
	Slug string `db:"slug" json:"slug"`

	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Constraints string     `db:"constraints" json:"constraints,omitempty"`
	Kind        TenderKind `db:"kind" json:"kind"`

	Amount            AmountRange `db:"amount" json:"amount,omitempty"`
	WhyAmountIsBlank  string      `db:"why_amount_is_blank" json:"why_amount_is_blank,omitempty"`
	AcceptShareAmount bool        `db:"accept_share_amount" json:"accept_share_amount"`

	DeadlineDate     *time.Time `db:"deadline_date" json:"deadline_date,omitempty"`
	StartWorkingDate *time.Time `db:"start_working_date" json:"start_working_date,omitempty"`
	ExternalLink     string     `db:"external_link" json:"external_link,omitempty"`

	ContactFirstName string   `db:"contact_first_name" json:"contact_first_name,omitempty"`
	ContactLastName  string   `db:"contact_last_name" json:"contact_last_name,omitempty"`
	ContactEmail     string   `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone     string   `db:"contact_phone" json:"contact_phone,omitempty"`
	ResponseKind     []string `db:"response_kind" json:"response_kind,omitempty"`

	AcceptCocontracting bool `db:"accept_cocontracting" json:"accept_cocontracting"`

	// Targeting.
	Sectors            []string       `db:"sectors" json:"sectors"`
	AllSectors         bool           `db:"all_sectors" json:"all_sectors"`
	GeoScope           GeoScope       `db:"geo_scope" json:"geo_scope"`
	Regions            []string       `db:"regions" json:"regions,omitempty"`
	Departments        []string       `db:"departments" json:"departments,omitempty"`
	Perimeters         []Perimeter    `db:"-" json:"perimeters,omitempty"`
	IncludeCountryArea bool           `db:"include_country_area" json:"include_country_area"`
	SupplierKinds      []SupplierKind `db:"supplier_kinds" json:"supplier_kinds,omitempty"`
	PrestaTypes        []PrestaType   `db:"presta_types" json:"presta_types,omitempty"`
	ExcludedSuppliers  []int64        `db:"excluded_suppliers" json:"excluded_suppliers,omitempty"`

	AuthorID         int64  `db:"author_id" json:"author_id"`
	AuthorCompany    string `db:"author_company" json:"author_company,omitempty"`
	Source           string `db:"source" json:"source"`
	Status           TenderStatus `db:"status" json:"status"`
	RejectionReason  string `db:"rejection_reason" json:"rejection_reason,omitempty"`

	Transactioned            bool       `db:"transactioned" json:"transactioned"`
	TransactionedLastUpdated *time.Time `db:"transactioned_last_updated" json:"transactioned_last_updated,omitempty"`

	Stats TenderStats `json:"stats"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ValidatedAt *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

func IsValidTenderKind(k TenderKind) bool {
	for _, kind := range TenderKinds {
		if kind == k {
			return true
		}
	}
	return false
}

func IsValidGeoScope(s GeoScope) bool {
	for _, scope := range GeoScopes {
		if scope == s {
			return true
		}
	}
	return false
}
