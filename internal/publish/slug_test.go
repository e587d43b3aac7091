package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/progeodata/leadflow/internal/model"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"Best Plumbing", "Miami", "FL"}, "best-plumbing-miami-fl"},
		{[]string{"Joe's Plumbing", "San Juan", "PR"}, "joes-plumbing-san-juan-pr"},
		{[]string{"Panadería La Ñapa", "Bayamón", "PR"}, "panaderia-la-napa-bayamon-pr"},
		{[]string{"  A & B  Auto!! ", "", "TX"}, "a-b-auto-tx"},
		{[]string{"---", " "}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.parts...), "%v", tt.parts)
	}
}

func TestBaseSlug_FallsBackToID(t *testing.T) {
	assert.Equal(t, "business-42", BaseSlug(&model.RawBusinessRecord{ID: 42, Name: "!!!"}))
	assert.Equal(t, "best-plumbing-miami-fl",
		BaseSlug(&model.RawBusinessRecord{Name: "Best Plumbing", City: "Miami", State: "FL"}))
}

func TestNextSlug(t *testing.T) {
	base := "best-plumbing-miami-fl"
	assert.Equal(t, base, nextSlug(base, nil))
	assert.Equal(t, base+"-2", nextSlug(base, []string{base}))
	assert.Equal(t, base+"-3", nextSlug(base, []string{base, base + "-2"}))
	// Gaps are filled first.
	assert.Equal(t, base+"-2", nextSlug(base, []string{base, base + "-3"}))
	// Unrelated suffixes do not count.
	assert.Equal(t, base+"-2", nextSlug(base, []string{base, base + "-beach"}))
}

func TestNextSlug_PairwiseDistinct(t *testing.T) {
	base := "cafe-ponce-pr"
	var taken []string
	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		s := nextSlug(base, taken)
		assert.False(t, seen[s], "duplicate slug %s", s)
		seen[s] = true
		taken = append(taken, s)
	}
	assert.Len(t, seen, 25)
}
