package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	enrichMinICP int
	enrichLimit  int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich records whose latest ICP score qualifies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		minICP := enrichMinICP
		if minICP <= 0 {
			minICP = env.Engine.MinIcpScore()
		}
		limit := enrichLimit
		if limit <= 0 {
			limit = cfg.Enrich.BatchLimit
		}
		report, err := env.Engine.EnrichBatch(ctx, minICP, limit)
		if report != nil {
			renderEnrichReport(os.Stdout, report)
		}
		return err
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichMinICP, "min-icp", 0, "minimum latest ICP score (default from config)")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "max records to enrich (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
