// internal/model/geography.go
package model

// RegionDepartments maps each French region to its department codes.
// Used by the matcher to resolve a department-scoped tender against
// suppliers that serve a whole region.
var RegionDepartments = map[string][]string{
	"Auvergne-Rhône-Alpes":       {"01", "03", "07", "15", "26", "38", "42", "43", "63", "69", "73", "74"},
	"Bourgogne-Franche-Comté":    {"21", "25", "39", "58", "70", "71", "89", "90"},
	"Bretagne":                   {"35", "22", "56", "29"},
	"Centre-Val de Loire":        {"18", "28", "36", "37", "41", "45"},
	"Corse":                      {"2A", "2B"},
	"Grand Est":                  {"08", "10", "51", "52", "54", "55", "57", "67", "68", "88"},
	"Guadeloupe":                 {"971"},
	"Guyane":                     {"973"},
	"Hauts-de-France":            {"02", "59", "60", "62", "80"},
	"Île-de-France":              {"75", "77", "78", "91", "92", "93", "94", "95"},
	"La Réunion":                 {"974"},
	"Martinique":                 {"972"},
	"Mayotte":                    {"976"},
	"Normandie":                  {"14", "27", "50", "61", "76"},
	"Nouvelle-Aquitaine":         {"16", "17", "19", "23", "24", "33", "40", "47", "64", "79", "86", "87"},
	"Occitanie":                  {"09", "11", "12", "30", "31", "32", "34", "46", "48", "65", "66", "81", "82"},
	"Pays de la Loire":           {"44", "49", "53", "72", "85"},
	"Provence-Alpes-Côte d'Azur": {"04", "05", "06", "13", "83", "84"},
	"Collectivités d'outre-mer":  {"975", "977", "978", "984", "986", "987", "988", "989"},
}

var departmentToRegion = buildDepartmentToRegion()

func buildDepartmentToRegion() map[string]string {
	m := make(map[string]string)
	for region, departments := range RegionDepartments {
		for _, dept := range departments {
			m[dept] = region
		}
	}
	return m
}

// RegionOfDepartment returns the region containing the department code,
// or "" if the code is unknown.
func RegionOfDepartment(department string) string {
	return departmentToRegion[department]
}
