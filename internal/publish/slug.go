package publish

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/progeodata/leadflow/internal/model"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	apostrophes  = strings.NewReplacer("'", "", "\u2019", "")
)

// Slugify joins parts into a lowercase, hyphenated, URL-safe slug. Accents and
// apostrophes are stripped; any other non-alphanumeric run becomes a hyphen.
func Slugify(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	s := strings.ToLower(removeAccents(strings.Join(kept, " ")))
	s = apostrophes.Replace(s)
	s = nonSlugChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// BaseSlug returns the slug for a record before collision handling: name,
// city and state.
func BaseSlug(rec *model.RawBusinessRecord) string {
	s := Slugify(rec.Name, rec.City, rec.State)
	if s == "" {
		return "business-" + strconv.FormatInt(rec.ID, 10)
	}
	return s
}

// nextSlug returns base if it is free, otherwise base-N for the smallest
// N >= 2 not in taken.
func nextSlug(base string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}

// removeAccents strips diacritical marks from a string.
func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}
