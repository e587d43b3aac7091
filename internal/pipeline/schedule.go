package pipeline

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Scheduler runs the daily batch on a cron schedule. Runs never overlap: a
// tick that fires while a batch is still running is skipped.
type Scheduler struct {
	cron     *cron.Cron
	orch     *Orchestrator
	searches []Search

	mu      sync.Mutex
	running bool
	// ctx is the context batches run under. Run replaces it with its own so
	// shutdown stops a batch at the next job boundary.
	ctx context.Context
}

// NewScheduler parses expr, a standard 5-field cron expression, and returns a
// scheduler for searches.
func NewScheduler(expr string, orch *Orchestrator, searches []Search) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		orch:     orch,
		searches: searches,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse schedule %q", expr)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running batch to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	zap.L().Info("pipeline: scheduler started", zap.Int("searches", len(s.searches)))
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	zap.L().Info("pipeline: scheduler stopped")
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		zap.L().Warn("pipeline: previous daily batch still running, skipping tick")
		return
	}
	s.running = true
	ctx := s.ctx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.orch.RunDailyBatch(ctx, s.searches); err != nil {
		zap.L().Error("pipeline: daily batch failed", zap.Error(err))
	}
}
