package enrich

import (
	"context"
	"encoding/json"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/progeodata/leadflow/internal/model"
)

// EmailStrategy is one step of the email discovery cascade. Find returns ""
// when the strategy has nothing to offer.
type EmailStrategy struct {
	Name       string
	Provenance model.EmailProvenance
	Find       func(ctx context.Context, rec *model.RawBusinessRecord) (string, error)
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

var junkEmailDomains = map[string]bool{
	"example.com":              true,
	"example.org":              true,
	"domain.com":               true,
	"email.com":                true,
	"sentry.io":                true,
	"wixpress.com":             true,
	"sentry.wixpress.com":      true,
	"sentry-next.wixpress.com": true,
}

var junkEmailSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}

var junkLocalParts = map[string]bool{
	"noreply":    true,
	"no-reply":   true,
	"donotreply": true,
}

// CleanEmail validates and lowercases an address. It returns "" for
// malformed or junk addresses.
func CleanEmail(raw string) string {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "mailto:"))
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return ""
	}
	email := strings.ToLower(addr.Address)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local, domain := email[:at], email[at+1:]
	if !strings.Contains(domain, ".") || junkEmailDomains[domain] || junkLocalParts[local] {
		return ""
	}
	for _, s := range junkEmailSuffixes {
		if strings.HasSuffix(email, s) {
			return ""
		}
	}
	return email
}

// PayloadEmailStrategy looks for an email embedded in the source payload.
// Keys named like "email" are checked before any other string value.
func PayloadEmailStrategy() EmailStrategy {
	return EmailStrategy{
		Name:       "payload",
		Provenance: model.EmailFoundInSource,
		Find: func(_ context.Context, rec *model.RawBusinessRecord) (string, error) {
			if len(rec.Payload) == 0 {
				return "", nil
			}
			var v any
			if err := json.Unmarshal(rec.Payload, &v); err != nil {
				// An unreadable payload simply has no email.
				return "", nil
			}
			if email := findPayloadEmail(v, true); email != "" {
				return email, nil
			}
			return findPayloadEmail(v, false), nil
		},
	}
}

// findPayloadEmail walks decoded JSON in key order. With keyed set, only
// values under keys containing "email" are considered.
func findPayloadEmail(v any, keyed bool) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := t[k]
			if keyed && strings.Contains(strings.ToLower(k), "email") {
				if email := findPayloadEmail(child, false); email != "" {
					return email
				}
				continue
			}
			if email := findPayloadEmail(child, keyed); email != "" {
				return email
			}
		}
	case []any:
		for _, child := range t {
			if email := findPayloadEmail(child, keyed); email != "" {
				return email
			}
		}
	case string:
		if keyed {
			return ""
		}
		for _, m := range emailPattern.FindAllString(t, -1) {
			if email := CleanEmail(m); email != "" {
				return email
			}
		}
	}
	return ""
}

// GuessEmailStrategy falls back to info@<domain> for records with a website.
func GuessEmailStrategy() EmailStrategy {
	return EmailStrategy{
		Name:       "pattern_guess",
		Provenance: model.EmailPatternGuess,
		Find: func(_ context.Context, rec *model.RawBusinessRecord) (string, error) {
			domain := WebsiteDomain(rec)
			if domain == "" {
				return "", nil
			}
			return CleanEmail("info@" + domain), nil
		},
	}
}

// hostedDomains never belong to the business itself.
var hostedDomains = []string{
	"facebook.com", "instagram.com", "linktr.ee", "google.com",
	"business.site", "wixsite.com", "yelp.com", "wa.me",
}

// WebsiteDomain returns the registrable host of the record's website, without
// "www.", or "" when there is no owned website.
func WebsiteDomain(rec *model.RawBusinessRecord) string {
	if !rec.HasWebsite() {
		return ""
	}
	raw := strings.TrimSpace(*rec.Website)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	for _, h := range hostedDomains {
		if host == h || strings.HasSuffix(host, "."+h) {
			return ""
		}
	}
	return host
}
