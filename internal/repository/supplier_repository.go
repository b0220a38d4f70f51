// internal/repository/supplier_repository.go
package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/lemarche/tender-engine/internal/matching"
	"github.com/lemarche/tender-engine/internal/model"
)

type SupplierRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Supplier, error)
	Snapshot(ctx context.Context) (matching.Snapshot, error)
}

type SupplierRepository struct {
	DB *sql.DB
}

const supplierColumns = `
	id, name, kind, presta_types, sectors,
	geo_range, region, department, lat, lon, custom_distance_km,
	is_active, is_delisted,
	contact_first_name, contact_email, contact_phone, tender_opt_out`

func scanSupplier(row scanner) (*model.Supplier, error) {
	var s model.Supplier
	var prestaTypes []string
	err := row.Scan(
		&s.ID, &s.Name, &s.Kind, pq.Array(&prestaTypes), pq.Array(&s.Sectors),
		&s.GeoRange, &s.Region, &s.Department, &s.Lat, &s.Lon, &s.CustomDistanceKm,
		&s.IsActive, &s.IsDelisted,
		&s.ContactFirstName, &s.ContactEmail, &s.ContactPhone, &s.TenderOptOut,
	)
	if err != nil {
		return nil, err
	}
	for _, p := range prestaTypes {
		s.PrestaTypes = append(s.PrestaTypes, model.PrestaType(p))
	}
	return &s, nil
}

func (r *SupplierRepository) GetByID(ctx context.Context, id int64) (*model.Supplier, error) {
	query := `SELECT` + supplierColumns + ` FROM suppliers WHERE id = $1`
	s, err := scanSupplier(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Snapshot reads the directory rows the matcher consumes. The snapshot is
// taken once per dispatch run and treated as read-only afterwards.
func (r *SupplierRepository) Snapshot(ctx context.Context) (matching.Snapshot, error) {
	query := `SELECT` + supplierColumns + ` FROM suppliers ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return matching.Snapshot{}, err
	}
	defer rows.Close()

	var snapshot matching.Snapshot
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return matching.Snapshot{}, err
		}
		snapshot.Suppliers = append(snapshot.Suppliers, *s)
	}
	return snapshot, rows.Err()
}

var _ SupplierRepositoryInterface = (*SupplierRepository)(nil)
