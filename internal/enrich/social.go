package enrich

import (
	"context"
	"math"

	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/pkg/facebook"
	"github.com/progeodata/leadflow/pkg/hunter"
)

// SocialStats are the social-proof metrics attached to a lead.
type SocialStats struct {
	Followers      int
	EngagementRate float64
}

// facebookStats fetches page stats for the record's Facebook handle.
func facebookStats(ctx context.Context, client facebook.Client, rec *model.RawBusinessRecord) (*SocialStats, error) {
	if client == nil || rec.Facebook == "" {
		return nil, nil
	}
	page, err := client.PageStats(ctx, rec.Facebook)
	if err != nil {
		return nil, err
	}
	return &SocialStats{
		Followers:      page.Followers(),
		EngagementRate: math.Round(page.EngagementRate()*10000) / 10000,
	}, nil
}

// HunterEmailStrategy looks up the website domain with the email finder.
// call runs the lookup under the engine's retry and circuit breaker policy.
func HunterEmailStrategy(client hunter.Client, call func(ctx context.Context, fn func(ctx context.Context) (*hunter.DomainSearchResult, error)) (*hunter.DomainSearchResult, error)) EmailStrategy {
	return EmailStrategy{
		Name:       "hunter",
		Provenance: model.EmailThirdPartyLookup,
		Find: func(ctx context.Context, rec *model.RawBusinessRecord) (string, error) {
			domain := WebsiteDomain(rec)
			if domain == "" {
				return "", nil
			}
			res, err := call(ctx, func(ctx context.Context) (*hunter.DomainSearchResult, error) {
				return client.DomainSearch(ctx, domain)
			})
			if err != nil {
				return "", err
			}
			best := res.Best()
			if best == nil {
				return "", nil
			}
			return CleanEmail(best.Value), nil
		},
	}
}
