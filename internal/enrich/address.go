package enrich

import (
	"strings"

	"github.com/progeodata/leadflow/internal/model"
)

var addressAbbreviations = map[string]string{
	"st":   "Street",
	"ave":  "Avenue",
	"av":   "Avenue",
	"blvd": "Boulevard",
	"rd":   "Road",
	"dr":   "Drive",
	"ln":   "Lane",
	"ct":   "Court",
	"hwy":  "Highway",
	"pkwy": "Parkway",
	"pl":   "Place",
	"sq":   "Square",
	"ter":  "Terrace",
	"cir":  "Circle",
	"ste":  "Suite",
	"apt":  "Apartment",
	"bldg": "Building",
	"carr": "Carretera",
	"urb":  "Urbanización",
	"esq":  "Esquina",
}

// NormalizeAddress expands common street abbreviations and collapses
// whitespace. Trailing commas survive; a period ending an abbreviation is
// dropped.
func NormalizeAddress(addr string) string {
	fields := strings.Fields(addr)
	for i, f := range fields {
		word, suffix := f, ""
		if strings.HasSuffix(word, ",") {
			word, suffix = strings.TrimSuffix(word, ","), ","
		}
		key := strings.ToLower(strings.TrimSuffix(word, "."))
		if full, ok := addressAbbreviations[key]; ok {
			fields[i] = full + suffix
		}
	}
	return strings.Join(fields, " ")
}

// addressComplete reports whether the record's address has street, city and
// state, either as parts or as a formatted address with as many segments.
func addressComplete(rec *model.RawBusinessRecord) bool {
	if strings.TrimSpace(rec.Street) != "" && strings.TrimSpace(rec.City) != "" && strings.TrimSpace(rec.State) != "" {
		return true
	}
	parts := 0
	for _, p := range strings.Split(rec.FullAddress(), ",") {
		if strings.TrimSpace(p) != "" {
			parts++
		}
	}
	return parts >= 3
}
