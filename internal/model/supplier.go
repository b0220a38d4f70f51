// internal/model/supplier.go
package model

type SupplierKind string

const (
	SupplierKindEI   SupplierKind = "EI"
	SupplierKindAI   SupplierKind = "AI"
	SupplierKindACI  SupplierKind = "ACI"
	SupplierKindETTI SupplierKind = "ETTI"
	SupplierKindEITI SupplierKind = "EITI"
	SupplierKindGEIQ SupplierKind = "GEIQ"
	SupplierKindEA   SupplierKind = "EA"
	SupplierKindEATT SupplierKind = "EATT"
	SupplierKindESAT SupplierKind = "ESAT"
	SupplierKindSEP  SupplierKind = "SEP"
)

type PrestaType string

const (
	PrestaDisp  PrestaType = "DISP"  // staff made available
	PrestaPrest PrestaType = "PREST" // service delivery
	PrestaBuild PrestaType = "BUILD" // goods production
)

// GeoRange is the supplier's declared service area.
type GeoRange string

const (
	GeoRangeCountry    GeoRange = "COUNTRY"
	GeoRangeRegion     GeoRange = "REGION"
	GeoRangeDepartment GeoRange = "DEPARTMENT"
	GeoRangeCustom     GeoRange = "CUSTOM"
)

// Supplier is the read-model the matcher consumes. The directory is owned
// elsewhere; a dispatch run observes a consistent snapshot of these rows.
type Supplier struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`

	Kind        SupplierKind `db:"kind" json:"kind"`
	PrestaTypes []PrestaType `db:"presta_types" json:"presta_types"`
	Sectors     []string     `db:"sectors" json:"sectors"`

	GeoRange         GeoRange `db:"geo_range" json:"geo_range"`
	Region           string   `db:"region" json:"region"`
	Department       string   `db:"department" json:"department"`
	Lat              float64  `db:"lat" json:"lat"`
	Lon              float64  `db:"lon" json:"lon"`
	CustomDistanceKm float64  `db:"custom_distance_km" json:"custom_distance_km"`

	IsActive   bool `db:"is_active" json:"is_active"`
	IsDelisted bool `db:"is_delisted" json:"is_delisted"`

	ContactFirstName string `db:"contact_first_name" json:"contact_first_name"`
	ContactEmail     string `db:"contact_email" json:"contact_email"`
	ContactPhone     string `db:"contact_phone" json:"contact_phone"`

	TenderOptOut bool `db:"tender_opt_out" json:"tender_opt_out"`
}
