package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/config"
	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/discovery"
	"github.com/progeodata/leadflow/internal/enrich"
	"github.com/progeodata/leadflow/internal/icp"
	"github.com/progeodata/leadflow/internal/importer"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/pipeline"
	"github.com/progeodata/leadflow/internal/publish"
	"github.com/progeodata/leadflow/internal/resilience"
	"github.com/progeodata/leadflow/pkg/facebook"
	"github.com/progeodata/leadflow/pkg/google"
	"github.com/progeodata/leadflow/pkg/hunter"
)

// appEnv holds the pool and every component built on it.
type appEnv struct {
	Pool *pgxpool.Pool

	Records   *discovery.PostgresStore
	Results   *icp.PostgresStore
	Leads     *enrich.PostgresStore
	Profiles  *publish.PostgresStore
	Jobs      *pipeline.PostgresJobStore
	Detect    *icp.Service
	Engine    *enrich.Engine
	Publisher *publish.Publisher
}

// Close releases the pool.
func (e *appEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// initEnv connects to Postgres and builds the detection, enrichment and
// publishing components. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	pool, err := openPool(ctx)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		Pool:     pool,
		Records:  discovery.NewPostgresStore(pool),
		Results:  icp.NewPostgresStore(pool),
		Leads:    enrich.NewPostgresStore(pool),
		Profiles: publish.NewPostgresStore(pool),
		Jobs:     pipeline.NewPostgresJobStore(pool),
	}

	detector, err := buildDetector(cfg.ICP)
	if err != nil {
		pool.Close()
		return nil, err
	}
	env.Detect = icp.NewService(detector, env.Records, env.Results)
	env.Engine = buildEngine(cfg, env.Records, env.Results, env.Leads)

	env.Publisher, err = buildPublisher(cfg.Publish, env.Leads, env.Records, env.Profiles)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return env, nil
}

func buildDetector(c config.ICPConfig) (*icp.Detector, error) {
	rules := icp.DefaultRules()
	if c.RulesPath != "" {
		var err error
		if rules, err = icp.LoadRules(c.RulesPath); err != nil {
			return nil, err
		}
		zap.L().Info("icp rules loaded", zap.String("path", c.RulesPath))
	}
	if c.AddressLengthThreshold > 0 {
		rules.AddressLengthThreshold = c.AddressLengthThreshold
	}
	return icp.NewDetector(rules)
}

func buildEngine(c *config.Config, records enrich.RecordGetter, scores enrich.ScoreSource, store enrich.Store) *enrich.Engine {
	ec := c.Enrich
	deps := enrich.Deps{
		Records:  records,
		Scores:   scores,
		Store:    store,
		Fetcher:  enrich.NewHTTPFetcher(time.Duration(ec.FetchTimeoutSecs) * time.Second),
		Throttle: enrich.NewIntervalThrottle(time.Duration(ec.CallIntervalMs) * time.Millisecond),
	}
	if c.Facebook.Token != "" {
		deps.Facebook = facebook.NewClient(c.Facebook.Token, facebook.WithBaseURL(c.Facebook.BaseURL))
	} else {
		zap.L().Debug("facebook token not set, social step disabled")
	}
	if c.Hunter.Key != "" {
		deps.Hunter = hunter.NewClient(c.Hunter.Key, hunter.WithBaseURL(c.Hunter.BaseURL))
	} else {
		zap.L().Debug("hunter key not set, email finder disabled")
	}

	retry := resilience.RetryFromSettings(ec.Retry.MaxAttempts, ec.Retry.InitialBackoffMs, ec.Retry.MaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger("enrich", "external call")
	return enrich.NewEngine(deps, enrich.Config{
		MinIcpScore: ec.MinIcpScore,
		Region:      ec.DefaultRegion,
		CallTimeout: time.Duration(ec.FetchTimeoutSecs) * time.Second,
		Retry:       retry,
		Breaker:     resilience.BreakerFromSettings(ec.Circuit.FailureThreshold, ec.Circuit.ResetTimeoutSecs),
	})
}

func buildPublisher(c config.PublishConfig, leads publish.LeadGetter, records publish.RecordGetter, store publish.Store) (*publish.Publisher, error) {
	minGrade, err := model.ParseGrade(c.MinGrade)
	if err != nil {
		return nil, eris.Wrap(err, "publish.min_grade")
	}
	templates := publish.DefaultTemplates()
	if c.TemplatesPath != "" {
		if templates, err = publish.LoadTemplates(c.TemplatesPath); err != nil {
			return nil, err
		}
	}
	return publish.NewPublisher(leads, records, store, publish.Config{
		MinGrade:  minGrade,
		Brand:     c.Brand,
		Language:  c.Language,
		BaseURL:   c.BaseURL,
		Templates: templates,
	}), nil
}

// buildSources returns the discovery sources named in names.
func buildSources(c *config.Config, names []string) (map[string]discovery.Source, error) {
	sources := make(map[string]discovery.Source, len(names))
	for _, name := range names {
		switch name {
		case "google":
			g := google.NewClient(c.Google.Key, google.WithBaseURL(c.Google.BaseURL))
			sources[name] = discovery.NewPlacesSource(g, c.Google.RateLimit,
				discovery.WithLanguage(c.Publish.Language), discovery.WithRegion(c.Enrich.DefaultRegion))
		case "fixture":
			src, err := discovery.LoadStaticSource(c.Pipeline.FixturePath)
			if err != nil {
				return nil, err
			}
			sources[name] = src
		default:
			return nil, eris.Errorf("unknown source %q", name)
		}
	}
	return sources, nil
}

// buildOrchestrator wires the pipeline over env with the configured sources.
func buildOrchestrator(env *appEnv) (*pipeline.Orchestrator, error) {
	sources, err := buildSources(cfg, cfg.Pipeline.Sources)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Sources:   sources,
		Records:   env.Records,
		Detector:  env.Detect,
		Enricher:  env.Engine,
		Publisher: env.Publisher,
		Jobs:      env.Jobs,
	}, pipeline.Config{
		DefaultSources: cfg.Pipeline.Sources,
		MinGrade:       env.Publisher.MinGrade(),
	}), nil
}

func dailySearches(c *config.Config) []pipeline.Search {
	out := make([]pipeline.Search, len(c.Pipeline.DailySearches))
	for i, s := range c.Pipeline.DailySearches {
		out[i] = pipeline.Search{Query: s.Query, Location: s.Location}
	}
	return out
}

// openCheckpoints returns the configured checkpoint store and a func that
// releases it. pool may be nil unless the store is postgres.
func openCheckpoints(ctx context.Context, c config.ImporterConfig, pool db.Pool) (importer.CheckpointStore, func(), error) {
	noop := func() {}
	switch c.Checkpoint {
	case "", "file":
		s, err := importer.NewFileCheckpointStore(c.CheckpointDir)
		return s, noop, err
	case "postgres":
		if pool == nil {
			return nil, noop, eris.New("postgres checkpoints need store.database_url")
		}
		return importer.NewPostgresCheckpointStore(pool), noop, nil
	case "redis":
		rdb, err := importer.OpenRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return importer.NewRedisCheckpointStore(rdb, ""), func() { _ = rdb.Close() }, nil
	case "sqlite":
		s, err := importer.OpenSQLiteCheckpointStore(ctx, c.CheckpointDSN)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, noop, eris.Errorf("unknown checkpoint store %q", c.Checkpoint)
	}
}
