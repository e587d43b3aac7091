package publish

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/progeodata/leadflow/internal/model"
)

func ratedRecord() *model.RawBusinessRecord {
	rating := 4.66
	reviews := 120
	return &model.RawBusinessRecord{
		Name:        "Best Plumbing",
		City:        "miami",
		State:       "FL",
		Categories:  []string{"plumber", "water_heater_installer"},
		Rating:      &rating,
		ReviewCount: &reviews,
	}
}

func TestSEOTitle(t *testing.T) {
	rec := ratedRecord()
	assert.Equal(t, "Best Plumbing - Plumber in Miami | Directorio", SEOTitle(rec, "Plumber", "Directorio", "en"))
	assert.Equal(t, "Best Plumbing - Plumber en Miami | Directorio", SEOTitle(rec, "Plumber", "Directorio", "es"))
	assert.Equal(t, "Best Plumbing - Miami", SEOTitle(rec, "", "", "en"))

	rec.City = ""
	assert.Equal(t, "Best Plumbing - Plumber | B", SEOTitle(rec, "Plumber", "B", "fr"))
}

func TestMetaDescription_SocialProof(t *testing.T) {
	rec := ratedRecord()
	desc := MetaDescription(rec, "plumber", "Directorio", "en")
	assert.Equal(t, "Best Plumbing - plumber in miami, FL. Rated 4.7/5 from 120 reviews. Find contact details and hours on Directorio.", desc)

	zero := 0
	rec.ReviewCount = &zero
	desc = MetaDescription(rec, "plumber", "", "en")
	assert.NotContains(t, desc, "Rated")
	assert.Equal(t, "Best Plumbing - plumber in miami, FL.", desc)
}

func TestMetaDescription_GenericAndSpanish(t *testing.T) {
	rec := &model.RawBusinessRecord{Name: "Colmado Rivera", City: "Ponce", State: "PR"}
	assert.Equal(t, "Colmado Rivera - negocio local en Ponce, PR.", MetaDescription(rec, "", "", "es"))
}

func TestMetaDescription_Truncated(t *testing.T) {
	rec := ratedRecord()
	rec.Name = strings.Repeat("Very Long Business Name ", 10)
	desc := MetaDescription(rec, "plumber", "Directorio", "en")
	assert.LessOrEqual(t, utf8.RuneCountInString(desc), maxDescriptionRunes)
	assert.True(t, strings.HasSuffix(desc, "..."))
}

func TestKeywords(t *testing.T) {
	rec := ratedRecord()
	got := Keywords(rec, "Plumber")
	assert.Equal(t, []string{
		"plumber", "plumber miami", "plumber miami fl", "plumber fl",
		"water heater installer", "water heater installer miami",
		"water heater installer miami fl", "water heater installer fl",
	}, got)
}

func TestKeywords_NoCategory(t *testing.T) {
	rec := &model.RawBusinessRecord{City: "Ponce", State: "PR"}
	assert.Equal(t, []string{"ponce", "ponce pr", "pr"}, Keywords(rec, ""))
	assert.Empty(t, Keywords(&model.RawBusinessRecord{}, ""))
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Car Repair", humanize("car_repair"))
	assert.Equal(t, "Real Estate Agency", humanize("real-estate  agency"))
	assert.Equal(t, "", humanize("  "))
}
