package discovery

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/pkg/google"
)

// maxPagesPerSearch limits pagination to avoid excessive API costs per query.
const maxPagesPerSearch = 3

// PlacesSource discovers businesses with Google Places text search.
type PlacesSource struct {
	google   google.Client
	limiter  *rate.Limiter
	language string
	region   string
}

// PlacesOption configures a PlacesSource.
type PlacesOption func(*PlacesSource)

// WithLanguage sets the language code for returned place text.
func WithLanguage(code string) PlacesOption {
	return func(s *PlacesSource) { s.language = code }
}

// WithRegion biases results to a CLDR region code.
func WithRegion(code string) PlacesOption {
	return func(s *PlacesSource) { s.region = code }
}

// NewPlacesSource creates a PlacesSource limited to ratePerSec requests per second.
func NewPlacesSource(g google.Client, ratePerSec float64, opts ...PlacesOption) *PlacesSource {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	s := &PlacesSource{
		google:  g,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements Source.
func (s *PlacesSource) Name() string { return model.SourceGooglePlaces }

// Search runs "query in location", paginating up to maxPagesPerSearch.
func (s *PlacesSource) Search(ctx context.Context, query, location string) ([]model.RawBusinessRecord, error) {
	text := strings.TrimSpace(query)
	if text == "" {
		return nil, eris.New("places: query is required")
	}
	if loc := strings.TrimSpace(location); loc != "" {
		text += " in " + loc
	}

	var (
		records   []model.RawBusinessRecord
		pageToken string
	)
	for page := 0; page < maxPagesPerSearch; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return records, eris.Wrap(err, "places: rate limit wait")
		}

		resp, err := s.google.SearchText(ctx, google.TextSearchRequest{
			TextQuery:    text,
			PageToken:    pageToken,
			LanguageCode: s.language,
			RegionCode:   s.region,
		})
		if err != nil {
			return records, eris.Wrap(err, "places: search text")
		}

		for i := range resp.Places {
			rec, err := placeToRecord(&resp.Places[i])
			if err != nil {
				zap.L().Warn("places: skipping place", zap.String("place_id", resp.Places[i].ID), zap.Error(err))
				continue
			}
			records = append(records, rec)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	zap.L().Debug("places search complete",
		zap.String("query", text),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// placeToRecord maps an API place to a raw record. Social profile URLs
// listed as the website become handles, leaving the website empty.
func placeToRecord(p *google.Place) (model.RawBusinessRecord, error) {
	if p.ID == "" || strings.TrimSpace(p.DisplayName.Text) == "" {
		return model.RawBusinessRecord{}, eris.New("places: place has no id or name")
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return model.RawBusinessRecord{}, eris.Wrap(err, "places: marshal payload")
	}

	rec := model.RawBusinessRecord{
		Source:     model.SourceGooglePlaces,
		ExternalID: p.ID,
		Name:       strings.TrimSpace(p.DisplayName.Text),
		Address:    p.FormattedAddress,
		Phone:      firstNonEmpty(p.InternationalPhoneNumber, p.NationalPhoneNumber),
		Categories: p.Types,
		Verified:   p.BusinessStatus == "OPERATIONAL",
		Payload:    payload,
	}

	rec.Street = strings.TrimSpace(p.Component("street_number") + " " + p.Component("route"))
	rec.City = p.Component("locality")
	rec.State = p.Component("administrative_area_level_1")
	rec.PostalCode = p.Component("postal_code")
	if rec.City == "" || rec.State == "" {
		city, state, zip := parseAddress(p.FormattedAddress)
		rec.City = firstNonEmpty(rec.City, city)
		rec.State = firstNonEmpty(rec.State, state)
		rec.PostalCode = firstNonEmpty(rec.PostalCode, zip)
	}

	if p.PrimaryType != nil && p.PrimaryType.Text != "" {
		rec.Categories = append([]string{p.PrimaryType.Text}, rec.Categories...)
	}
	if p.EditorialSummary != nil {
		rec.Description = p.EditorialSummary.Text
	}

	switch platform, handle := socialHandle(p.WebsiteURI); platform {
	case "facebook":
		rec.Facebook = handle
	case "instagram":
		rec.Instagram = handle
	default:
		if w := strings.TrimSpace(p.WebsiteURI); w != "" {
			rec.Website = &w
		}
	}

	if p.Location != nil {
		rec.Location = &model.GeoPoint{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
	}
	if p.RegularOpeningHours != nil && len(p.RegularOpeningHours.WeekdayDescriptions) > 0 {
		rec.Hours = p.RegularOpeningHours.WeekdayDescriptions
	}
	if p.UserRatingCount > 0 {
		rating := p.Rating
		count := p.UserRatingCount
		rec.Rating = &rating
		rec.ReviewCount = &count
	}
	return rec, nil
}

// socialHandle reports whether a URL is a Facebook or Instagram profile and
// returns the profile handle.
func socialHandle(website string) (platform, handle string) {
	if website == "" {
		return "", ""
	}
	u, err := url.Parse(website)
	if err != nil {
		return "", ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	path := strings.Trim(u.Path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	switch {
	case host == "facebook.com" || host == "fb.com" || strings.HasSuffix(host, ".facebook.com"):
		if path == "profile.php" {
			return "facebook", website
		}
		return "facebook", path
	case host == "instagram.com" || strings.HasSuffix(host, ".instagram.com"):
		return "instagram", path
	}
	return "", ""
}

// parseAddress performs a best-effort extraction of city, state, zip from a
// formatted address string like "123 Calle Luna, San Juan, PR 00901, USA".
func parseAddress(addr string) (city, state, zip string) {
	var parts []string
	for _, p := range strings.Split(addr, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "", "", ""
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if s, z := parseStateZip(parts[i]); s != "" {
			if i > 0 {
				city = parts[i-1]
			}
			return city, s, z
		}
	}

	// Fallback: assume the second-to-last element is the city.
	return parts[len(parts)-2], "", ""
}

// parseStateZip tries to parse "IL 62701" or "IL" from a string.
func parseStateZip(s string) (state, zip string) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return "", ""
	}
	candidate := fields[0]
	if len(candidate) != 2 {
		return "", ""
	}
	if candidate[0] < 'A' || candidate[0] > 'Z' || candidate[1] < 'A' || candidate[1] > 'Z' {
		return "", ""
	}
	state = candidate
	if len(fields) == 2 {
		if !isZipCode(fields[1]) {
			return "", ""
		}
		zip = fields[1]
	}
	return state, zip
}

func isZipCode(s string) bool {
	if len(s) < 5 || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c != '-' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
