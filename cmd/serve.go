package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/progeodata/leadflow/internal/discovery"
	"github.com/progeodata/leadflow/internal/enrich"
	"github.com/progeodata/leadflow/internal/icp"
	"github.com/progeodata/leadflow/internal/importer"
	"github.com/progeodata/leadflow/internal/model"
	"github.com/progeodata/leadflow/internal/pipeline"
	"github.com/progeodata/leadflow/internal/publish"
)

var (
	servePort      int
	serveScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		orch, err := buildOrchestrator(env)
		if err != nil {
			return err
		}

		deps := apiDeps{
			Detect:   env.Detect,
			Enrich:   env.Engine,
			Publish:  env.Publisher,
			Pipeline: orch,
			Jobs:     env.Jobs,
			Profiles: env.Profiles,
			Limits: batchLimits{
				Detect:  cfg.ICP.BatchLimit,
				Enrich:  cfg.Enrich.BatchLimit,
				Publish: cfg.Publish.BatchLimit,
			},
		}
		checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg.Importer, env.Pool)
		if err != nil {
			zap.L().Warn("import checkpoints unavailable, import status disabled", zap.Error(err))
		} else {
			defer closeCheckpoints()
			deps.Checkpoints = checkpoints
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(deps, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		var sched *pipeline.Scheduler
		if serveScheduler && cfg.Pipeline.DailySchedule != "" {
			if sched, err = pipeline.NewScheduler(cfg.Pipeline.DailySchedule, orch, dailySearches(cfg)); err != nil {
				return err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if sched != nil {
			g.Go(func() error { return sched.Run(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveScheduler, "scheduler", false, "also run the daily batch on pipeline.daily_schedule")
	rootCmd.AddCommand(serveCmd)
}

type detectAPI interface {
	DetectBatch(ctx context.Context, limit int) (*icp.BatchReport, error)
}

type enrichAPI interface {
	MinIcpScore() int
	EnrichBatch(ctx context.Context, minICP, limit int) (*enrich.BatchReport, error)
}

type publishAPI interface {
	MinGrade() model.Grade
	GenerateBatch(ctx context.Context, minGrade model.Grade, limit int) (*publish.BatchReport, error)
}

type pipelineAPI interface {
	RunPipeline(ctx context.Context, query, location string, sources []string) (*pipeline.Report, error)
}

type jobsAPI interface {
	GetJob(ctx context.Context, id string) (*model.PipelineJob, error)
	ListJobs(ctx context.Context, limit int) ([]model.PipelineJob, error)
}

type profilesAPI interface {
	GetProfile(ctx context.Context, slug string) (*model.PublishableProfile, error)
	ClaimProfile(ctx context.Context, slug string) (*model.PublishableProfile, error)
	Track(ctx context.Context, slug string, ev publish.Event) error
}

// apiDeps are the handlers' collaborators. Checkpoints may be nil.
type apiDeps struct {
	Detect      detectAPI
	Enrich      enrichAPI
	Publish     publishAPI
	Pipeline    pipelineAPI
	Jobs        jobsAPI
	Profiles    profilesAPI
	Checkpoints importer.CheckpointStore
	Limits      batchLimits
}

// batchLimits are the default batch sizes for requests that set none.
type batchLimits struct {
	Detect, Enrich, Publish int
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type batchRequest struct {
	Limit    int    `json:"limit" validate:"gte=0,lte=10000"`
	MinICP   int    `json:"min_icp" validate:"gte=0,lte=100"`
	MinGrade string `json:"min_grade" validate:"omitempty,oneof=A B C D"`
}

type runRequest struct {
	Query    string   `json:"query" validate:"required,max=200"`
	Location string   `json:"location" validate:"required,max=200"`
	Sources  []string `json:"sources" validate:"omitempty,dive,required"`
}

type trackRequest struct {
	Event string `json:"event" validate:"required,oneof=view click"`
}

func newRouter(d apiDeps, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/detect", d.handleDetect)
		r.Post("/enrich", d.handleEnrich)
		r.Post("/publish", d.handlePublish)

		r.Post("/pipeline/run", d.handleRun)
		r.Get("/pipeline/jobs", d.handleListJobs)
		r.Get("/pipeline/jobs/{id}", d.handleGetJob)

		r.Get("/import/{jobID}", d.handleImportStatus)

		r.Get("/profiles/{slug}", d.handleGetProfile)
		r.Post("/profiles/{slug}/claim", d.handleClaim)
		r.Post("/profiles/{slug}/track", d.handleTrack)
	})
	return r
}

func (d apiDeps) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := d.Detect.DetectBatch(r.Context(), orDefault(req.Limit, d.Limits.Detect))
	writeReport(w, report, err)
}

func (d apiDeps) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := d.Enrich.EnrichBatch(r.Context(),
		orDefault(req.MinICP, d.Enrich.MinIcpScore()),
		orDefault(req.Limit, d.Limits.Enrich))
	writeReport(w, report, err)
}

func (d apiDeps) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	minGrade := d.Publish.MinGrade()
	if req.MinGrade != "" {
		minGrade = model.Grade(req.MinGrade)
	}
	report, err := d.Publish.GenerateBatch(r.Context(), minGrade,
		orDefault(req.Limit, d.Limits.Publish))
	writeReport(w, report, err)
}

func (d apiDeps) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := d.Pipeline.RunPipeline(r.Context(), req.Query, req.Location, req.Sources)
	writeReport(w, report, err)
}

func (d apiDeps) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := d.Jobs.ListJobs(r.Context(), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (d apiDeps) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := d.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := pipeline.DecodeReport(job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (d apiDeps) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	if d.Checkpoints == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "import checkpoints unavailable"})
		return
	}
	cp, err := d.Checkpoints.Load(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (d apiDeps) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := d.Profiles.GetProfile(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (d apiDeps) handleClaim(w http.ResponseWriter, r *http.Request) {
	p, err := d.Profiles.ClaimProfile(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (d apiDeps) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := d.Profiles.Track(r.Context(), chi.URLParam(r, "slug"), publish.Event(req.Event)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads an optional JSON body into v and validates it. It writes a
// 400 and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return false
		}
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// writeReport writes a batch or job report. A failed run still returns its
// partial report, with the error alongside.
func writeReport[T any](w http.ResponseWriter, report *T, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case report != nil:
		status := http.StatusOK
		if errors.Is(err, pipeline.ErrAllSourcesFailed) {
			status = http.StatusBadGateway
		}
		zap.L().Warn("request finished with errors", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]any{"report": report, "error": err.Error()})
	default:
		writeError(w, err)
	}
}

// errorStatus maps a handler error to its HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrJobNotFound),
		errors.Is(err, publish.ErrProfileNotFound),
		errors.Is(err, importer.ErrNoCheckpoint),
		discovery.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrAllSourcesFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
