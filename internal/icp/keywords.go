package icp

import (
	"strings"
	"sync"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// keywordSet matches whole-word keywords in a single pass over the text.
// The matcher keeps per-call state, so Match is serialized.
type keywordSet struct {
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	keywords []string
}

func newKeywordSet(keywords []string) *keywordSet {
	ks := &keywordSet{}
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		n := normalizeText(kw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		// Padding anchors each keyword to word boundaries in padded text.
		ks.keywords = append(ks.keywords, " "+n+" ")
	}
	if len(ks.keywords) > 0 {
		ks.matcher = ahocorasick.NewStringMatcher(ks.keywords)
	}
	return ks
}

// Match returns the matched keywords (without padding) found in any of texts.
func (ks *keywordSet) Match(texts ...string) []string {
	if ks.matcher == nil {
		return nil
	}
	text := " " + normalizeText(strings.Join(texts, " ")) + " "
	if strings.TrimSpace(text) == "" {
		return nil
	}

	ks.mu.Lock()
	hits := ks.matcher.Match([]byte(text))
	ks.mu.Unlock()

	out := make([]string, 0, len(hits))
	for _, idx := range hits {
		out = append(out, strings.TrimSpace(ks.keywords[idx]))
	}
	return out
}

// Contains reports whether any keyword occurs in texts.
func (ks *keywordSet) Contains(texts ...string) bool {
	return len(ks.Match(texts...)) > 0
}

// normalizeText lowercases text and collapses every run of characters that
// are not letters or digits into a single space.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
