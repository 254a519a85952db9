package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gyeh/rx-netting/internal/claims"
	"github.com/gyeh/rx-netting/internal/cloud"
	"github.com/gyeh/rx-netting/internal/config"
	"github.com/gyeh/rx-netting/internal/logging"
	"github.com/gyeh/rx-netting/internal/netting"
	"github.com/gyeh/rx-netting/internal/output"
	"github.com/gyeh/rx-netting/internal/progress"
	"github.com/gyeh/rx-netting/internal/source"
	"github.com/gyeh/rx-netting/internal/store"
	"github.com/gyeh/rx-netting/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:          "rx-netting",
		Short:        "Net pharmacy claim reversals against the claims they cancel",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Log level: debug, info, warn, error (env RXNET_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&gf.logFormat, "log-format", "", "Log format: text or json (env RXNET_LOG_FORMAT)")

	rootCmd.AddCommand(newNetCmd(gf))
	rootCmd.AddCommand(newInspectCmd(gf))
	return rootCmd
}

// netFlags mirror config.Config; a flag only overrides the environment when
// it was set on the command line.
type netFlags struct {
	input       string
	outputDir   string
	workers     int
	partition   string
	windowDays  int
	opportunity string
	formats     string
	summary     string
	sheet       string
	tmpDir      string
	stdGzip     bool
	s3Bucket    string
	s3Prefix    string
	region      string
	pgURL       string
	noProgress  bool
}

func (f *netFlags) apply(cfg *config.Config, gf *globalFlags, changed func(string) bool) {
	set := func(name string, fn func()) {
		if changed(name) {
			fn()
		}
	}
	set("output-dir", func() { cfg.Output.Dir = f.outputDir })
	set("workers", func() { cfg.Netting.Workers = f.workers })
	set("partition", func() { cfg.Netting.Partition = f.partition })
	set("window-days", func() { cfg.Netting.WindowDays = f.windowDays })
	set("opportunity", func() { cfg.Output.Opportunity = f.opportunity })
	set("formats", func() { cfg.Output.Formats = f.formats })
	set("summary", func() { cfg.Output.Summary = f.summary })
	set("sheet", func() { cfg.Input.Sheet = f.sheet })
	set("tmp-dir", func() { cfg.Input.TmpDir = f.tmpDir })
	set("std-gzip", func() { cfg.Input.StdGzip = f.stdGzip })
	set("s3-bucket", func() { cfg.AWS.Bucket = f.s3Bucket })
	set("s3-prefix", func() { cfg.AWS.Prefix = f.s3Prefix })
	set("region", func() { cfg.AWS.Region = f.region })
	set("pg-url", func() { cfg.Postgres.URL = f.pgURL })
	set("log-level", func() { cfg.Logging.Level = gf.logLevel })
	set("log-format", func() { cfg.Logging.Format = gf.logFormat })
}

// loadConfig reads the environment, applies explicit flags and builds the
// logger.
func loadConfig(cmd *cobra.Command, nf *netFlags, gf *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	nf.apply(cfg, gf, cmd.Flags().Changed)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newNetCmd(gf *globalFlags) *cobra.Command {
	nf := &netFlags{}

	cmd := &cobra.Command{
		Use:   "net",
		Short: "Mark reversals and the claims they cancel with \"OR\" and write the netted claim detail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, nf, gf)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.ErrOrStderr())
			defer stop()

			summary, err := runNet(ctx, nf.input, cfg, logger, nf.noProgress)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "\nNetting complete: %d records, %d reversals (%d matched, %d unmatched), %d claims netted in %.1fs\n",
				summary.Stats.Records, summary.Stats.Reversals, summary.Stats.Matched,
				summary.Stats.Unmatched, summary.Stats.ClaimsNetted, float64(summary.ElapsedMS)/1000)
			fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", cfg.Output.Dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&nf.input, "input", "i", "", "Claims file: .xlsx, .csv[.gz], .jsonl, .json[.gz]; local path, http(s) URL or s3://bucket/key")
	cmd.Flags().StringVarP(&nf.outputDir, "output-dir", "o", ".", "Directory for output files")
	cmd.Flags().IntVar(&nf.workers, "workers", 0, "Number of concurrent blocks (default: half the CPUs, at most 4)")
	cmd.Flags().StringVar(&nf.partition, "partition", "contiguous", "Block partitioning: contiguous or grouped")
	cmd.Flags().IntVar(&nf.windowDays, "window-days", netting.DefaultWindowDays, "Fill-date window for a match, in days")
	cmd.Flags().StringVar(&nf.opportunity, "opportunity", "", "Opportunity name used in the CSV file name")
	cmd.Flags().StringVar(&nf.formats, "formats", "xlsx,parquet,csv", "Comma-separated output formats")
	cmd.Flags().StringVar(&nf.summary, "summary", "", "Write a JSON run summary to this path ('-' for stdout)")
	cmd.Flags().StringVar(&nf.sheet, "sheet", "", "Workbook sheet to read (default: first sheet)")
	cmd.Flags().StringVar(&nf.tmpDir, "tmp-dir", "", "Temp directory for downloads (default: system temp)")
	cmd.Flags().BoolVar(&nf.stdGzip, "std-gzip", false, "Use compress/gzip instead of pgzip")
	cmd.Flags().StringVar(&nf.s3Bucket, "s3-bucket", "", "Upload output files to this S3 bucket")
	cmd.Flags().StringVar(&nf.s3Prefix, "s3-prefix", "rx-netting", "S3 key prefix for uploads")
	cmd.Flags().StringVar(&nf.region, "region", "us-east-1", "AWS region")
	cmd.Flags().StringVar(&nf.pgURL, "pg-url", "", "Postgres connection string; netted rows are copied into netted_claims")
	cmd.Flags().BoolVar(&nf.noProgress, "no-progress", false, "Log progress lines instead of drawing progress bars")

	cmd.MarkFlagRequired("input")

	return cmd
}

// runNet loads, prepares, nets and writes one claims table.
func runNet(ctx context.Context, input string, cfg *config.Config, logger *slog.Logger, noProgress bool) (*output.Summary, error) {
	start := time.Now()
	runID := uuid.New()
	logger = logger.With(slog.String("run_id", runID.String()))

	strategy, err := worker.ParseStrategy(cfg.Netting.Partition)
	if err != nil {
		return nil, err
	}
	formats, err := output.ParseFormats(cfg.Output.Formats)
	if err != nil {
		return nil, err
	}
	workers := cfg.Netting.Workers
	if workers < 1 {
		workers = worker.DefaultWorkers()
	}
	windowDays := cfg.Netting.WindowDays
	if windowDays < 1 {
		windowDays = netting.DefaultWindowDays
	}

	var s3c *cloud.S3Client
	if cfg.AWS.Bucket != "" || strings.HasPrefix(input, "s3://") {
		s3c, err = cloud.NewS3Client(ctx, cfg.AWS.Bucket, cfg.AWS.Region)
		if err != nil {
			return nil, err
		}
	}

	srcOpts := source.Options{
		Sheet:      cfg.Input.Sheet,
		TmpDir:     cfg.Input.TmpDir,
		UseStdGzip: cfg.Input.StdGzip,
		Logger:     logger,
	}
	if s3c != nil {
		srcOpts.S3 = s3c
	}
	table, err := source.Load(ctx, input, srcOpts)
	if err != nil {
		return nil, err
	}
	prepared := claims.Prepare(table)

	var mgr progress.Manager
	if noProgress {
		mgr = progress.NewLogManager(logger)
	} else {
		mgr = progress.NewMPBManager()
	}

	netted, err := worker.NetTable(ctx, prepared, worker.Options{
		Workers:  workers,
		Strategy: strategy,
		Engine:   &netting.Engine{WindowDays: windowDays, Logger: logger},
		Progress: mgr,
	})
	if err != nil {
		return nil, fmt.Errorf("netting: %w", err)
	}

	w := &output.Writer{
		Dir:         cfg.Output.Dir,
		Opportunity: cfg.Output.Opportunity,
		Formats:     formats,
		Logger:      logger,
	}
	art, err := w.Write(netted.Block, netted.Unmatched)
	if err != nil {
		return nil, fmt.Errorf("writing output: %w", err)
	}

	summary := &output.Summary{
		RunID:     runID.String(),
		StartedAt: start.UTC(),
		Params: output.RunParams{
			Input:       input,
			Workers:     workers,
			Partition:   string(strategy),
			WindowDays:  windowDays,
			Opportunity: cfg.Output.Opportunity,
			Formats:     formats,
		},
		Stats:         netted.Stats,
		Blocks:        netted.Blocks,
		RowsWritten:   art.Rows,
		UnmatchedRows: art.UnmatchedRows,
		Files:         art.Files,
		Warnings:      art.Warnings,
	}

	if cfg.Postgres.URL != "" {
		n, err := storeRows(ctx, cfg.Postgres.URL, runID, netted.Block, logger)
		if err != nil {
			return nil, err
		}
		summary.StoredRows = n
	}

	if cfg.AWS.Bucket != "" {
		keys, err := s3c.UploadRun(ctx, cfg.AWS.Prefix, runID.String(), art.Files)
		if err != nil {
			return nil, fmt.Errorf("uploading results: %w", err)
		}
		for _, k := range keys {
			summary.Uploaded = append(summary.Uploaded, "s3://"+s3c.Bucket()+"/"+k)
		}
		logger.Info("uploaded results", slog.Int("files", len(keys)), slog.String("bucket", s3c.Bucket()))
	}

	summary.ElapsedMS = time.Since(start).Milliseconds()
	if cfg.Output.Summary != "" {
		if err := output.WriteSummary(cfg.Output.Summary, *summary); err != nil {
			return nil, fmt.Errorf("writing summary: %w", err)
		}
	}

	logger.Info("netting complete",
		slog.Int("records", netted.Stats.Records),
		slog.Int("matched", netted.Stats.Matched),
		slog.Int("unmatched", netted.Stats.Unmatched),
		slog.Int("blocks", netted.Blocks),
		slog.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func storeRows(ctx context.Context, connStr string, runID uuid.UUID, b *claims.Block, logger *slog.Logger) (int64, error) {
	sink, err := store.Open(ctx, connStr, logger)
	if err != nil {
		return 0, fmt.Errorf("postgres: %w", err)
	}
	defer sink.Close()

	if err := sink.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	return sink.Write(ctx, runID, b)
}

func newInspectCmd(gf *globalFlags) *cobra.Command {
	nf := &netFlags{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load and prepare a claims file and print what netting would see",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, nf, gf)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.ErrOrStderr())
			defer stop()

			table, err := source.Load(ctx, nf.input, source.Options{
				Sheet:      cfg.Input.Sheet,
				TmpDir:     cfg.Input.TmpDir,
				UseStdGzip: cfg.Input.StdGzip,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			report := inspectTable(claims.Prepare(table))
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVarP(&nf.input, "input", "i", "", "Claims file (local path or http(s) URL)")
	cmd.Flags().StringVar(&nf.sheet, "sheet", "", "Workbook sheet to read (default: first sheet)")
	cmd.Flags().StringVar(&nf.tmpDir, "tmp-dir", "", "Temp directory for downloads (default: system temp)")
	cmd.MarkFlagRequired("input")
	return cmd
}

// inspectReport describes a prepared table without netting it.
type inspectReport struct {
	Columns        []string `json:"columns"`
	MissingColumns []string `json:"missing_columns,omitempty"`
	Records        int      `json:"records"`
	Claims         int      `json:"claims"`
	Reversals      int      `json:"reversals"`
	ZeroQuantity   int      `json:"zero_quantity"`
	UnknownDates   int      `json:"unknown_dates"`
	AlreadyMarked  int      `json:"already_marked"`
	Members        int      `json:"members"`
	DrugCodes      int      `json:"drug_codes"`
}

func inspectTable(b *claims.Block) inspectReport {
	cls := netting.Classify(b.Records)
	r := inspectReport{
		Columns:   b.Columns,
		Records:   b.Len(),
		Claims:    len(cls.Claims),
		Reversals: len(cls.Reversals),
	}
	var schemaErr *claims.SchemaError
	if err := claims.CheckSchema(b); err != nil && errors.As(err, &schemaErr) {
		r.MissingColumns = schemaErr.Missing
	}

	members := map[string]struct{}{}
	drugs := map[string]struct{}{}
	for i := range b.Records {
		rec := &b.Records[i]
		if rec.Kind() == claims.KindNeither {
			r.ZeroQuantity++
		}
		if !rec.DateFilled.Valid() {
			r.UnknownDates++
		}
		if rec.IsOffset() {
			r.AlreadyMarked++
		}
		members[rec.SubjectID] = struct{}{}
		drugs[rec.DrugCode] = struct{}{}
	}
	r.Members = len(members)
	r.DrugCodes = len(drugs)
	return r
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(stderr io.Writer) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
