package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// EmailProvenance records how an email address was obtained, ordered from
// most to least confident.
type EmailProvenance string

// Email provenance tags.
const (
	EmailFoundInSource    EmailProvenance = "found_in_source"
	EmailScrapedFromSite  EmailProvenance = "scraped_from_site"
	EmailThirdPartyLookup EmailProvenance = "third_party_lookup"
	EmailPatternGuess     EmailProvenance = "pattern_guess"
)

// Confidence returns a 0..1 confidence weight for the provenance.
func (p EmailProvenance) Confidence() float64 {
	switch p {
	case EmailFoundInSource:
		return 0.95
	case EmailScrapedFromSite:
		return 0.85
	case EmailThirdPartyLookup:
		return 0.7
	case EmailPatternGuess:
		return 0.2
	default:
		return 0
	}
}

// Grade is a letter bucket derived from a lead's composite score.
type Grade string

// Lead grades.
const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// GradeFor maps a composite score to its grade: A >= 80, B 60-79, C 40-59, D < 40.
func GradeFor(score int) Grade {
	switch {
	case score >= 80:
		return GradeA
	case score >= 60:
		return GradeB
	case score >= 40:
		return GradeC
	default:
		return GradeD
	}
}

func (g Grade) rank() int {
	switch g {
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether g is the same as or better than min.
func (g Grade) AtLeast(min Grade) bool {
	return g.rank() > 0 && g.rank() >= min.rank()
}

// GradesAtLeast returns every grade at or above min, best first.
func GradesAtLeast(min Grade) []Grade {
	var out []Grade
	for _, g := range []Grade{GradeA, GradeB, GradeC, GradeD} {
		if g.AtLeast(min) {
			out = append(out, g)
		}
	}
	return out
}

// ParseGrade parses a letter grade, case-insensitively.
func ParseGrade(s string) (Grade, error) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	if g.rank() == 0 {
		return "", eris.Errorf("model: unknown grade %q", s)
	}
	return g, nil
}

// ScoreBreakdown holds the capped sub-scores of a lead's composite score.
type ScoreBreakdown struct {
	Contact      int `json:"contact"`
	Social       int `json:"social"`
	Verification int `json:"verification"`
	Hours        int `json:"hours"`
	IcpBonus     int `json:"icp_bonus"`
}

// Sub-score caps.
const (
	MaxContactScore      = 45
	MaxSocialScore       = 25
	MaxVerificationScore = 15
	MaxHoursScore        = 10
	MaxIcpBonus          = 10
)

// EnrichedLead is a raw record plus validated contact data and scoring.
type EnrichedLead struct {
	ID                    int64           `json:"id,omitempty" db:"id"`
	RawRecordID           int64           `json:"raw_record_id" db:"raw_record_id"`
	IcpScore              int             `json:"icp_score" db:"icp_score"`
	Phone                 *string         `json:"phone,omitempty" db:"phone_e164"`
	Email                 *string         `json:"email,omitempty" db:"email"`
	EmailProvenance       EmailProvenance `json:"email_provenance,omitempty" db:"email_provenance"`
	Address               string          `json:"address" db:"normalized_address"`
	Followers             *int            `json:"followers,omitempty" db:"followers"`
	EngagementRate        *float64        `json:"engagement_rate,omitempty" db:"engagement_rate"`
	Breakdown             ScoreBreakdown  `json:"breakdown" db:"breakdown"`
	Score                 int             `json:"score" db:"score"`
	Grade                 Grade           `json:"grade" db:"grade"`
	ConversionProbability float64         `json:"conversion_probability" db:"conversion_probability"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}
