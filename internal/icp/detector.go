// Package icp scores raw business records against the ideal customer profile
// with a table of weighted signal rules.
package icp

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/progeodata/leadflow/internal/model"
)

// predicate reports whether a rule fires for a record.
type predicate func(rec *model.RawBusinessRecord) bool

type rule struct {
	name           string
	weight         int
	recommendation string
	fires          predicate
}

// Detector evaluates the rule table. It is a pure function of its rules and
// the record, so the same record always yields the same result.
type Detector struct {
	rules []rule

	unmappable  []*regexp.Regexp
	units       []*regexp.Regexp
	lengthLimit int
	mobile      *keywordSet
	plazas      *keywordSet
}

// NewDetector compiles rules into a Detector.
func NewDetector(rules Rules) (*Detector, error) {
	d := &Detector{
		lengthLimit: rules.AddressLengthThreshold,
		mobile:      newKeywordSet(rules.MobileKeywords),
		plazas:      newKeywordSet(rules.PlazaKeywords),
	}

	var err error
	if d.unmappable, err = compileAll(rules.ActivePatterns()); err != nil {
		return nil, eris.Wrap(err, "icp: unmappable patterns")
	}
	if d.units, err = compileAll(rules.UnitPatterns); err != nil {
		return nil, eris.Wrap(err, "icp: unit patterns")
	}

	predicates := map[string]predicate{
		SignalNoWebsite:         d.noWebsite,
		SignalUnmappableAddress: d.unmappableAddress,
		SignalMobileBusiness:    d.mobileBusiness,
		SignalGhostBusiness:     d.ghostBusiness,
		SignalComplexAddress:    d.complexAddress,
	}
	for _, name := range signalOrder {
		rc, ok := rules.Rules[name]
		if !ok || rc.Disabled {
			continue
		}
		d.rules = append(d.rules, rule{
			name:           name,
			weight:         rc.Weight,
			recommendation: rc.Recommendation,
			fires:          predicates[name],
		})
	}
	return d, nil
}

// MustDefaultDetector returns a Detector over DefaultRules.
func MustDefaultDetector() *Detector {
	d, err := NewDetector(DefaultRules())
	if err != nil {
		panic(err)
	}
	return d
}

// Detect evaluates every rule independently and sums the weights of those
// that fire. The score is clamped to [0,100]. RawRecordID is copied from the
// record; BatchID is left to the caller.
func (d *Detector) Detect(rec *model.RawBusinessRecord) model.IcpSignalResult {
	res := model.IcpSignalResult{
		RawRecordID: rec.ID,
		Signals:     []model.Signal{},
	}
	total := 0
	for _, r := range d.rules {
		if !r.fires(rec) {
			continue
		}
		res.Signals = append(res.Signals, model.Signal{
			Name:           r.name,
			Weight:         r.weight,
			Recommendation: r.recommendation,
		})
		total += r.weight
	}
	res.Score = clampScore(total)
	res.Category = model.CategorizeIcp(res.Score)
	return res
}

func (d *Detector) noWebsite(rec *model.RawBusinessRecord) bool {
	return !rec.HasWebsite()
}

func (d *Detector) unmappableAddress(rec *model.RawBusinessRecord) bool {
	addr := rec.FullAddress()
	if addr == "" {
		return false
	}
	if d.lengthLimit > 0 && len([]rune(addr)) > d.lengthLimit {
		return true
	}
	return matchAny(d.unmappable, addr)
}

func (d *Detector) mobileBusiness(rec *model.RawBusinessRecord) bool {
	return d.mobile.Contains(rec.Name, rec.Description)
}

func (d *Detector) ghostBusiness(rec *model.RawBusinessRecord) bool {
	return !rec.HasWebsite() && rec.HasSocial()
}

func (d *Detector) complexAddress(rec *model.RawBusinessRecord) bool {
	addr := rec.FullAddress()
	if addr == "" {
		return false
	}
	return matchAny(d.units, addr) || d.plazas.Contains(addr)
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, eris.Wrapf(err, "compile %q", p)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func clampScore(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}
