package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/progeodata/leadflow/internal/db"
	"github.com/progeodata/leadflow/internal/importer"
	"github.com/progeodata/leadflow/internal/resilience"
)

const rawRecordsTable = "raw_business_records"

var (
	importFile        string
	importTable       string
	importConflict    []string
	importChunkSize   int
	importJobID       string
	importDryRun      bool
	importForce       bool
	importYes         bool
	importSkipInvalid bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSON, CSV, XLSX or shapefile record set in checkpointed chunks",
	Long: "Loads a record file and writes it to a table chunk by chunk, committing a checkpoint with every chunk. " +
		"Re-running with the same --job-id resumes after the last committed chunk.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		path := importFile
		if importer.IsRemote(importFile) {
			dir, err := os.MkdirTemp("", "leadflow-import-*")
			if err != nil {
				return eris.Wrap(err, "import: create download dir")
			}
			defer os.RemoveAll(dir) //nolint:errcheck

			ic := cfg.Importer
			dl := importer.NewDownloader(0, resilience.RetryFromSettings(ic.MaxRetries+1, ic.InitialBackoffMs, 0))
			if path, err = dl.Fetch(ctx, importFile, dir); err != nil {
				return err
			}
		}
		records, err := importer.LoadFile(path)
		if err != nil {
			return err
		}
		target := importTarget(importTable, importConflict, records)

		if !importDryRun {
			tier, err := importer.Gate(len(records), importer.GateOptions{Confirmed: importYes, Force: importForce})
			if errors.Is(err, importer.ErrConfirmationRequired) {
				if !confirm(os.Stdin, os.Stderr, fmt.Sprintf("Import %d records (%s) into %s?", len(records), tier, target.Table)) {
					return err
				}
			} else if err != nil {
				return err
			}
		}

		var pool *pgxpool.Pool
		if !importDryRun || cfg.Importer.Checkpoint == "postgres" {
			if cfg.Store.DatabaseURL == "" {
				return eris.New("store.database_url is required to import")
			}
			if pool, err = openPool(ctx); err != nil {
				return err
			}
			defer pool.Close()
		}

		var dbPool db.Pool
		var beginner importer.Beginner
		if pool != nil {
			dbPool = pool
			beginner = pool
		}
		checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg.Importer, dbPool)
		if err != nil {
			return err
		}
		defer closeCheckpoints()

		imp := importer.New(beginner, checkpoints, importerConfig())
		res, err := imp.ImportBatch(ctx, records, importChunkSize, importer.Options{
			JobID:       importJobID,
			Target:      target,
			DryRun:      importDryRun,
			SkipInvalid: importSkipInvalid,
		})
		if res != nil {
			renderImportResult(os.Stdout, res)
			if res.Status == importer.StatusFailed {
				zap.L().Info("resume with the same job id once the cause is fixed", zap.String("job_id", res.JobID))
			}
		}
		return err
	},
}

var importStatusJobID string

var importStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint of an import job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		var dbPool db.Pool
		if cfg.Importer.Checkpoint == "postgres" {
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			dbPool = pool
		}
		checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg.Importer, dbPool)
		if err != nil {
			return err
		}
		defer closeCheckpoints()

		cp, err := importer.New(nil, checkpoints, importerConfig()).Status(ctx, importStatusJobID)
		if err != nil {
			return err
		}
		renderCheckpoint(os.Stdout, cp)
		return nil
	},
}

func importerConfig() importer.Config {
	ic := cfg.Importer
	retry := importer.RetryConfig(ic.MaxRetries, time.Duration(ic.InitialBackoffMs)*time.Millisecond)
	return importer.Config{ChunkSize: ic.ChunkSize, Retry: retry}
}

// importTarget returns the raw record target for the raw record table, and
// otherwise a plain target whose columns are the fields seen in records.
func importTarget(table string, conflict []string, records []importer.Record) importer.Target {
	if table == rawRecordsTable {
		return importer.RawRecordsTarget()
	}
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return importer.Target{Table: table, Columns: cols, ConflictKeys: conflict}
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	_, _ = fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "record file or http(s)/ftp URL: .json, .csv, .xlsx or .shp (required)")
	importCmd.Flags().StringVar(&importTable, "table", rawRecordsTable, "destination table")
	importCmd.Flags().StringSliceVar(&importConflict, "conflict", nil, "conflict key columns for tables other than "+rawRecordsTable)
	importCmd.Flags().IntVar(&importChunkSize, "chunk-size", 0, "records per chunk (default from config)")
	importCmd.Flags().StringVar(&importJobID, "job-id", "", "job id for checkpointing; reuse it to resume")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate and plan chunks without writing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "skip the size confirmation")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "confirm large imports without prompting")
	importCmd.Flags().BoolVar(&importSkipInvalid, "skip-invalid", false, "import valid records and report invalid ones")
	_ = importCmd.MarkFlagRequired("file")

	importStatusCmd.Flags().StringVar(&importStatusJobID, "job-id", "", "import job id (required)")
	_ = importStatusCmd.MarkFlagRequired("job-id")

	importCmd.AddCommand(importStatusCmd)
	rootCmd.AddCommand(importCmd)
}
