// internal/matching/matcher.go
package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/lemarche/tender-engine/internal/model"
)

// Snapshot is the read-only supplier directory view a dispatch run observes.
type Snapshot struct {
	Suppliers []model.Supplier
}

// Match returns the supplier ids matching the tender's declared filters.
// Pure and deterministic: same inputs produce the same (sorted) output.
func Match(tender *model.Tender, snapshot Snapshot) []int64 {
	if len(tender.Sectors) == 0 && !tender.AllSectors {
		return nil
	}
	if tender.GeoScope == model.GeoScopeCustom && len(tender.Perimeters) == 0 {
		return nil
	}

	excluded := make(map[int64]bool, len(tender.ExcludedSuppliers))
	for _, id := range tender.ExcludedSuppliers {
		excluded[id] = true
	}

	var matched []int64
	for _, supplier := range snapshot.Suppliers {
		if excluded[supplier.ID] {
			continue
		}
		if !isContactable(supplier) {
			continue
		}
		if !matchesKind(tender, supplier) {
			continue
		}
		if !matchesPrestaTypes(tender, supplier) {
			continue
		}
		if !matchesSectors(tender, supplier) {
			continue
		}
		if !matchesGeo(tender, supplier) {
			continue
		}
		matched = append(matched, supplier.ID)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	return matched
}

func isContactable(s model.Supplier) bool {
	if !s.IsActive || s.IsDelisted || s.TenderOptOut {
		return false
	}
	return strings.TrimSpace(s.ContactEmail) != ""
}

func matchesKind(t *model.Tender, s model.Supplier) bool {
	if len(t.SupplierKinds) == 0 {
		return true
	}
	for _, kind := range t.SupplierKinds {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func matchesPrestaTypes(t *model.Tender, s model.Supplier) bool {
	if len(t.PrestaTypes) == 0 {
		return true
	}
	for _, wanted := range t.PrestaTypes {
		for _, has := range s.PrestaTypes {
			if wanted == has {
				return true
			}
		}
	}
	return false
}

func matchesSectors(t *model.Tender, s model.Supplier) bool {
	if t.AllSectors {
		return true
	}
	for _, wanted := range t.Sectors {
		for _, has := range s.Sectors {
			if wanted == has {
				return true
			}
		}
	}
	return false
}

func matchesGeo(t *model.Tender, s model.Supplier) bool {
	switch t.GeoScope {
	case model.GeoScopeCountry:
		return true
	case model.GeoScopeRegions:
		if s.GeoRange == model.GeoRangeCountry {
			return true
		}
		for _, region := range t.Regions {
			if s.Region == region {
				return true
			}
		}
		return false
	case model.GeoScopeDepartments:
		if s.GeoRange == model.GeoRangeCountry {
			return true
		}
		for _, dept := range t.Departments {
			if s.Department == dept {
				return true
			}
			// a region-wide supplier covers every department of its region
			if s.GeoRange == model.GeoRangeRegion && s.Region == model.RegionOfDepartment(dept) {
				return true
			}
		}
		return false
	case model.GeoScopeCustom:
		if s.GeoRange == model.GeoRangeCountry {
			return t.IncludeCountryArea
		}
		for _, perimeter := range t.Perimeters {
			distance := haversineKm(s.Lat, s.Lon, perimeter.Lat, perimeter.Lon)
			if distance <= perimeter.RadiusKm {
				return true
			}
			// the supplier's own service radius can reach the perimeter
			if s.GeoRange == model.GeoRangeCustom && distance <= perimeter.RadiusKm+s.CustomDistanceKm {
				return true
			}
		}
		return false
	}
	return false
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
