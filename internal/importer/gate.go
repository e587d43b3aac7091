package importer

import (
	"github.com/rotisserie/eris"
)

// Tier is the size class of an import.
type Tier string

const (
	TierTest       Tier = "test"
	TierSmall      Tier = "small"
	TierMedium     Tier = "medium"
	TierLarge      Tier = "large"
	TierExtraLarge Tier = "xl"
)

// ErrConfirmationRequired is returned by Gate for large imports that were
// neither confirmed nor forced.
var ErrConfirmationRequired = eris.New("importer: confirmation required")

// ClassifySize returns the tier for an import of n records.
func ClassifySize(n int) Tier {
	switch {
	case n < 100:
		return TierTest
	case n < 1000:
		return TierSmall
	case n < 10000:
		return TierMedium
	case n < 100000:
		return TierLarge
	default:
		return TierExtraLarge
	}
}

// NeedsConfirmation reports whether imports of this tier must be confirmed.
func (t Tier) NeedsConfirmation() bool {
	return t == TierLarge || t == TierExtraLarge
}

// GateOptions carries the caller's answers to the safety gate.
type GateOptions struct {
	Confirmed bool
	Force     bool
}

// Gate classifies an import of n records and refuses large ones unless the
// caller confirmed or forced them.
func Gate(n int, opts GateOptions) (Tier, error) {
	tier := ClassifySize(n)
	if tier.NeedsConfirmation() && !opts.Confirmed && !opts.Force {
		return tier, eris.Wrapf(ErrConfirmationRequired, "importer: %d records is a %s import", n, tier)
	}
	return tier, nil
}
