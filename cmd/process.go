package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docflow-cli/internal/orchestrator"
)

var (
	processFTP            bool
	processRetryErrored   bool
	processSkipDuplicates bool
	processConcurrency    int
)

var processCmd = &cobra.Command{
	Use:   "process [file|dir ...]",
	Short: "Extract and validate a batch of documents",
	Long:  "Submits files (or every file in a directory) to the extraction pipeline. With --ftp the drop folder is fetched instead; with --retry-errored previously failed documents are re-run from their stored blobs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := orchestrator.Options{
			Concurrency:       processConcurrency,
			SkipDuplicates:    processSkipDuplicates,
			PageEstimateLimit: cfg.Batch.PageEstimateLimit,
			MaxFileBytes:      cfg.Batch.MaxFileBytes,
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = cfg.Batch.Concurrency
		}

		if processRetryErrored {
			report, err := env.Orch.RetryErrored(ctx, opts)
			if err != nil {
				return err
			}
			return printReport(report)
		}

		var subs []orchestrator.Submission
		switch {
		case processFTP:
			intake := &orchestrator.FTPIntake{
				Host:     cfg.Intake.FTP.Host,
				User:     cfg.Intake.FTP.User,
				Password: cfg.Intake.FTP.Password,
				Path:     cfg.Intake.FTP.Path,
				Timeout:  30 * time.Second,
			}
			subs, err = intake.Fetch(ctx)
			if err != nil {
				return err
			}
		case len(args) > 0:
			subs, err = collectSubmissions(args)
			if err != nil {
				return err
			}
		case cfg.Intake.Dir != "":
			subs, err = orchestrator.ReadDir(cfg.Intake.Dir)
			if err != nil {
				return err
			}
		default:
			return eris.New("nothing to process: pass files, set intake.dir, or use --ftp")
		}

		report, err := env.Orch.Run(ctx, subs, opts)
		if err != nil {
			return err
		}
		if err := printReport(report); err != nil {
			return err
		}
		if report.Errored > 0 {
			zap.L().Warn("batch finished with failures", zap.Int("errored", report.Errored))
		}
		return nil
	},
}

func collectSubmissions(paths []string) ([]orchestrator.Submission, error) {
	var subs []orchestrator.Submission
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, eris.Wrapf(err, "stat %s", p)
		}
		if info.IsDir() {
			dirSubs, err := orchestrator.ReadDir(p)
			if err != nil {
				return nil, err
			}
			subs = append(subs, dirSubs...)
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		subs = append(subs, orchestrator.Submission{
			Filename: filepath.Base(p),
			Bytes:    data,
		})
	}
	return subs, nil
}

func printReport(report *orchestrator.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func init() {
	processCmd.Flags().BoolVar(&processFTP, "ftp", false, "fetch submissions from the configured FTP drop folder")
	processCmd.Flags().BoolVar(&processRetryErrored, "retry-errored", false, "re-run documents stuck in error status")
	processCmd.Flags().BoolVar(&processSkipDuplicates, "no-duplicates", false, "skip files whose name matches an existing document")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0, "worker count (default from config)")
	rootCmd.AddCommand(processCmd)
}
