package publish

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/model"
)

type postalAddress struct {
	Type            string `json:"@type"`
	StreetAddress   string `json:"streetAddress,omitempty"`
	AddressLocality string `json:"addressLocality,omitempty"`
	AddressRegion   string `json:"addressRegion,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
}

type geoCoordinates struct {
	Type      string  `json:"@type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type aggregateRating struct {
	Type        string  `json:"@type"`
	RatingValue float64 `json:"ratingValue"`
	ReviewCount int     `json:"reviewCount"`
	BestRating  int     `json:"bestRating"`
}

// localBusiness is the schema.org LocalBusiness subset rendered as JSON-LD.
type localBusiness struct {
	Context         string           `json:"@context"`
	Type            string           `json:"@type"`
	ID              string           `json:"@id,omitempty"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Address         *postalAddress   `json:"address,omitempty"`
	Telephone       string           `json:"telephone,omitempty"`
	Email           string           `json:"email,omitempty"`
	URL             string           `json:"url,omitempty"`
	Geo             *geoCoordinates  `json:"geo,omitempty"`
	AggregateRating *aggregateRating `json:"aggregateRating,omitempty"`
	OpeningHours    []string         `json:"openingHours,omitempty"`
}

// schemaTypes maps category keys to the more specific schema.org type.
var schemaTypes = map[string]string{
	"plumbing":    "Plumber",
	"electrical":  "Electrician",
	"hvac":        "HVACBusiness",
	"roofing":     "RoofingContractor",
	"cleaning":    "ProfessionalService",
	"landscaping": "HomeAndConstructionBusiness",
	"food":        "FoodEstablishment",
	"beauty":      "BeautySalon",
	"auto":        "AutoRepair",
	"real-estate": "RealEstateAgent",
}

// StructuredData renders the LocalBusiness JSON-LD for a profile. Geo and
// aggregateRating are omitted when the record lacks coordinates or reviews.
func StructuredData(rec *model.RawBusinessRecord, lead *model.EnrichedLead, categoryKey, description, pageURL string) (json.RawMessage, error) {
	lb := localBusiness{
		Context:     "https://schema.org",
		Type:        "LocalBusiness",
		ID:          pageURL,
		Name:        strings.TrimSpace(rec.Name),
		Description: description,
	}
	if t, ok := schemaTypes[categoryKey]; ok {
		lb.Type = t
	}

	street := strings.TrimSpace(rec.Street)
	if street == "" {
		street = lead.Address
	}
	addr := &postalAddress{
		Type:            "PostalAddress",
		StreetAddress:   street,
		AddressLocality: strings.TrimSpace(rec.City),
		AddressRegion:   strings.TrimSpace(rec.State),
		PostalCode:      strings.TrimSpace(rec.PostalCode),
	}
	if *addr != (postalAddress{Type: "PostalAddress"}) {
		lb.Address = addr
	}

	if lead.Phone != nil {
		lb.Telephone = *lead.Phone
	}
	if lead.Email != nil {
		lb.Email = *lead.Email
	}
	if rec.HasWebsite() {
		lb.URL = strings.TrimSpace(*rec.Website)
	}
	if rec.Location != nil {
		lb.Geo = &geoCoordinates{Type: "GeoCoordinates", Latitude: rec.Location.Lat, Longitude: rec.Location.Lng}
	}
	if rec.Rating != nil && rec.ReviewCount != nil && *rec.ReviewCount > 0 {
		lb.AggregateRating = &aggregateRating{
			Type:        "AggregateRating",
			RatingValue: *rec.Rating,
			ReviewCount: *rec.ReviewCount,
			BestRating:  5,
		}
	}
	lb.OpeningHours = rec.Hours

	data, err := json.Marshal(lb)
	if err != nil {
		return nil, eris.Wrap(err, "publish: marshal structured data")
	}
	return data, nil
}
