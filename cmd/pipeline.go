package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run and inspect discovery-to-publish pipeline jobs",
}

var (
	runQuery    string
	runLocation string
	runSources  []string
)

var pipelineRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline job for a query and location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(runSources) > 0 {
			cfg.Pipeline.Sources = runSources
		}
		if err := cfg.Validate("pipeline"); err != nil {
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

		report, err := orch.RunPipeline(ctx, runQuery, runLocation, runSources)
		if report != nil {
			renderPipelineReport(os.Stdout, report)
		}
		return err
	},
}

var dailySchedule string

var pipelineDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Run the configured daily searches, once or on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("daily"); err != nil {
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
		searches := dailySearches(cfg)

		if dailySchedule != "" {
			sched, err := pipeline.NewScheduler(dailySchedule, orch, searches)
			if err != nil {
				return err
			}
			zap.L().Info("running daily batch on schedule", zap.String("schedule", dailySchedule))
			return sched.Run(ctx)
		}

		report, err := orch.RunDailyBatch(ctx, searches)
		if report != nil {
			renderDailyReport(os.Stdout, report)
		}
		return err
	},
}

var (
	statusLimit int
	statusJobID string
)

var pipelineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline jobs, or one job's report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if statusJobID != "" {
			job, err := env.Jobs.GetJob(ctx, statusJobID)
			if err != nil {
				return err
			}
			report, err := pipeline.DecodeReport(job)
			if err != nil {
				return err
			}
			renderPipelineReport(os.Stdout, report)
			return nil
		}

		jobs, err := env.Jobs.ListJobs(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "pipeline status")
		}
		if len(jobs) == 0 {
			zap.L().Info("no pipeline jobs found")
			return nil
		}
		renderJobs(os.Stdout, jobs)
		return nil
	},
}

func init() {
	pipelineRunCmd.Flags().StringVar(&runQuery, "query", "", "business category to search for")
	pipelineRunCmd.Flags().StringVar(&runLocation, "location", "", "city or region to search in")
	pipelineRunCmd.Flags().StringSliceVar(&runSources, "source", nil, "discovery sources (default from config)")
	_ = pipelineRunCmd.MarkFlagRequired("query")
	_ = pipelineRunCmd.MarkFlagRequired("location")

	pipelineDailyCmd.Flags().StringVar(&dailySchedule, "schedule", "", "cron expression; blocks and runs on schedule (default: run once)")

	pipelineStatusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max jobs to list")
	pipelineStatusCmd.Flags().StringVar(&statusJobID, "job-id", "", "show the report of one job")

	pipelineCmd.AddCommand(pipelineRunCmd, pipelineDailyCmd, pipelineStatusCmd)
	rootCmd.AddCommand(pipelineCmd)
}
