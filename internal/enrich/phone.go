package enrich

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone parses raw with the given default region and returns its
// E.164 form. Unparseable or invalid numbers yield nil.
func NormalizePhone(raw, region string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return nil
	}
	if !phonenumbers.IsValidNumber(num) {
		return nil
	}
	e164 := phonenumbers.Format(num, phonenumbers.E164)
	return &e164
}
