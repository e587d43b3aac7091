package enrich

import (
	"math"

	"github.com/progeodata/leadflow/internal/model"
)

// Contact completeness points.
const (
	phonePoints   = 20
	emailPoints   = 15
	addressPoints = 10
)

// followerTiers maps minimum follower counts to social points, best first.
var followerTiers = []struct {
	min    int
	points int
}{
	{10000, 25},
	{5000, 20},
	{1000, 15},
	{250, 10},
	{50, 5},
}

// conversionCeiling is the conversion probability of a perfect score.
const conversionCeiling = 0.35

// ScoreInput is what the composite score is computed from.
type ScoreInput struct {
	HasPhone        bool
	HasEmail        bool
	AddressComplete bool
	Followers       *int
	Verified        bool
	HasHours        bool
	IcpScore        int
}

// Score computes the capped sub-scores and their capped total.
func Score(in ScoreInput) (model.ScoreBreakdown, int) {
	var b model.ScoreBreakdown

	if in.HasPhone {
		b.Contact += phonePoints
	}
	if in.HasEmail {
		b.Contact += emailPoints
	}
	if in.AddressComplete {
		b.Contact += addressPoints
	}
	b.Contact = capAt(b.Contact, model.MaxContactScore)

	if in.Followers != nil {
		for _, t := range followerTiers {
			if *in.Followers >= t.min {
				b.Social = t.points
				break
			}
		}
	}
	b.Social = capAt(b.Social, model.MaxSocialScore)

	if in.Verified {
		b.Verification = model.MaxVerificationScore
	}
	if in.HasHours {
		b.Hours = model.MaxHoursScore
	}

	icp := in.IcpScore
	if icp < 0 {
		icp = 0
	}
	b.IcpBonus = capAt(icp*model.MaxIcpBonus/100, model.MaxIcpBonus)

	total := b.Contact + b.Social + b.Verification + b.Hours + b.IcpBonus
	return b, capAt(total, 100)
}

// ConversionProbability maps a score to an estimated conversion probability:
// 0.35 * (score/100)^1.5, strictly increasing over [0,100].
func ConversionProbability(score int) float64 {
	if score <= 0 {
		return 0
	}
	if score > 100 {
		score = 100
	}
	p := conversionCeiling * math.Pow(float64(score)/100, 1.5)
	return math.Round(p*1e6) / 1e6
}

func capAt(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}
