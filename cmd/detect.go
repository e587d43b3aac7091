package main

import (
	"os"

	"github.com/spf13/cobra"
)

var detectLimit int

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Score unscored raw records against the ICP rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limit := detectLimit
		if limit <= 0 {
			limit = cfg.ICP.BatchLimit
		}
		report, err := env.Detect.DetectBatch(ctx, limit)
		if report != nil {
			renderDetectReport(os.Stdout, report)
		}
		return err
	},
}

func init() {
	detectCmd.Flags().IntVar(&detectLimit, "limit", 0, "max records to score (default from config)")
	rootCmd.AddCommand(detectCmd)
}
