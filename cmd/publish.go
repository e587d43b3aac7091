package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/progeodata/leadflow/internal/model"
)

var (
	publishMinGrade string
	publishLimit    int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Generate directory profiles for graded leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		minGrade := env.Publisher.MinGrade()
		if publishMinGrade != "" {
			if minGrade, err = model.ParseGrade(publishMinGrade); err != nil {
				return err
			}
		}
		limit := publishLimit
		if limit <= 0 {
			limit = cfg.Publish.BatchLimit
		}
		report, err := env.Publisher.GenerateBatch(ctx, minGrade, limit)
		if report != nil {
			renderPublishReport(os.Stdout, report)
		}
		return err
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishMinGrade, "min-grade", "", "lowest grade to publish (default from config)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "max leads to publish (default from config)")
	rootCmd.AddCommand(publishCmd)
}
