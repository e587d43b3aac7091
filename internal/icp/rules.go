package icp

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Signal names.
const (
	SignalNoWebsite         = "no_website"
	SignalUnmappableAddress = "unmappable_address"
	SignalMobileBusiness    = "mobile_business"
	SignalGhostBusiness     = "ghost_business"
	SignalComplexAddress    = "complex_address"
)

// signalOrder is the evaluation order of the rule table.
var signalOrder = []string{
	SignalNoWebsite,
	SignalUnmappableAddress,
	SignalMobileBusiness,
	SignalGhostBusiness,
	SignalComplexAddress,
}

// RuleConfig holds the tunable part of one rule.
type RuleConfig struct {
	Weight         int    `yaml:"weight"`
	Recommendation string `yaml:"recommendation"`
	Disabled       bool   `yaml:"disabled"`
}

// Rules is the data the detector is built from: rule weights plus the
// pattern and keyword lists the predicates match against.
type Rules struct {
	Rules map[string]RuleConfig `yaml:"rules"`

	// UnmappablePatterns maps a locale to case-insensitive regular
	// expressions denoting non-standard addressing.
	UnmappablePatterns map[string][]string `yaml:"unmappable_patterns"`
	// Locales restricts which UnmappablePatterns entries are active. Empty
	// means all of them.
	Locales                []string `yaml:"locales"`
	AddressLengthThreshold int      `yaml:"address_length_threshold"`

	MobileKeywords []string `yaml:"mobile_keywords"`
	UnitPatterns   []string `yaml:"unit_patterns"`
	PlazaKeywords  []string `yaml:"plaza_keywords"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		Rules: map[string]RuleConfig{
			SignalNoWebsite: {
				Weight:         30,
				Recommendation: "no website: a directory profile alone may convert well",
			},
			SignalUnmappableAddress: {
				Weight:         25,
				Recommendation: "address is hard to map: offer a verified map pin and directions",
			},
			SignalMobileBusiness: {
				Weight:         20,
				Recommendation: "mobile business: highlight service area instead of a storefront",
			},
			SignalGhostBusiness: {
				Weight:         15,
				Recommendation: "social presence without an owned domain: pitch a claimed profile",
			},
			SignalComplexAddress: {
				Weight:         10,
				Recommendation: "multi-unit or plaza address: add unit-level directions",
			},
		},
		UnmappablePatterns: map[string][]string{
			"pr": {
				`\bkm\.?\s*\d`,
				`\bint(?:erior)?\b`,
				`\bcarr(?:etera)?\b`,
				`\b(?:bo|bda|barrio|barriada)\b`,
				`\bsector\b`,
				`\bparcelas?\b`,
				`\burb\b`,
				`\burbanizaci[oó]n\b`,
				`\bhc\s*-?\s*\d`,
				`\bapartado\b`,
				`\bbuz[oó]n\b`,
				`\brr\s*-?\s*\d`,
			},
			"us": {
				`\bward\s+\d`,
				`\bborough\b`,
				`\bmile\s+marker\b`,
				`\bmm\s*\d`,
				`\blot\s+\d`,
			},
		},
		AddressLengthThreshold: 100,
		MobileKeywords: []string{
			"food truck",
			"mobile",
			"we come to you",
			"movil",
			"móvil",
			"a domicilio",
			"servicio a domicilio",
			"on site",
		},
		UnitPatterns: []string{
			`\b(?:suite|ste|unit|apt|apartment|floor|piso|local|oficina|office|bldg|edificio)\b\.?\s*#?\s*\w+`,
			`#\s*\d+`,
		},
		PlazaKeywords: []string{
			"plaza",
			"shopping center",
			"shopping centre",
			"centro comercial",
			"mall",
			"galeria",
			"galería",
			"strip center",
			"marketplace",
		},
	}
}

// ActivePatterns returns the unmappable-address patterns of the active
// locales, in locale name order.
func (r Rules) ActivePatterns() []string {
	locales := r.Locales
	if len(locales) == 0 {
		for loc := range r.UnmappablePatterns {
			locales = append(locales, loc)
		}
		sort.Strings(locales)
	}
	var out []string
	for _, loc := range locales {
		out = append(out, r.UnmappablePatterns[loc]...)
	}
	return out
}

type ruleOverride struct {
	Weight         *int    `yaml:"weight"`
	Recommendation *string `yaml:"recommendation"`
	Disabled       *bool   `yaml:"disabled"`
}

type rulesFile struct {
	Rules                  map[string]ruleOverride `yaml:"rules"`
	UnmappablePatterns     map[string][]string     `yaml:"unmappable_patterns"`
	Locales                []string                `yaml:"locales"`
	AddressLengthThreshold *int                    `yaml:"address_length_threshold"`
	MobileKeywords         []string                `yaml:"mobile_keywords"`
	UnitPatterns           []string                `yaml:"unit_patterns"`
	PlazaKeywords          []string                `yaml:"plaza_keywords"`
}

// LoadRules reads a YAML rules file and merges it over DefaultRules. Rule
// fields and locales are overridden individually; non-empty keyword and
// pattern lists replace the defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "icp: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules merges YAML rule overrides over DefaultRules.
func ParseRules(data []byte) (Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, eris.Wrap(err, "icp: parse rules")
	}

	rules := DefaultRules()
	for name, o := range f.Rules {
		rc, ok := rules.Rules[name]
		if !ok {
			return Rules{}, eris.Errorf("icp: unknown rule %q", name)
		}
		if o.Weight != nil {
			rc.Weight = *o.Weight
		}
		if o.Recommendation != nil {
			rc.Recommendation = *o.Recommendation
		}
		if o.Disabled != nil {
			rc.Disabled = *o.Disabled
		}
		rules.Rules[name] = rc
	}
	for loc, patterns := range f.UnmappablePatterns {
		rules.UnmappablePatterns[loc] = patterns
	}
	if len(f.Locales) > 0 {
		rules.Locales = f.Locales
	}
	if f.AddressLengthThreshold != nil {
		rules.AddressLengthThreshold = *f.AddressLengthThreshold
	}
	if len(f.MobileKeywords) > 0 {
		rules.MobileKeywords = f.MobileKeywords
	}
	if len(f.UnitPatterns) > 0 {
		rules.UnitPatterns = f.UnitPatterns
	}
	if len(f.PlazaKeywords) > 0 {
		rules.PlazaKeywords = f.PlazaKeywords
	}
	return rules, nil
}
