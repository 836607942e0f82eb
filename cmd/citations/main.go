// Package main provides the citations binary: it runs the parking citation
// ETL once, serves its results over HTTP, and exposes the code mapper.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/internal/analysis"
	"github.com/citation-etl/backend/internal/api"
	"github.com/citation-etl/backend/internal/api/handlers"
	"github.com/citation-etl/backend/internal/codes"
	"github.com/citation-etl/backend/internal/dataset"
	"github.com/citation-etl/backend/internal/export"
	"github.com/citation-etl/backend/internal/pipeline"
	"github.com/citation-etl/backend/internal/storage/models"
	"github.com/citation-etl/backend/pkg/logger"
)

const (
	Version = "0.1.0"
	appName = "citations"
)

var BuildTime = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Parking citation ETL",
		Long: `Retrieves the parking citation dataset page by page, cleans it,
maps violation codes to descriptions and stores the enriched result.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(
		runCmd(&configPath),
		serveCmd(&configPath),
		exportCmd(&configPath),
		mapCmd(&configPath),
		invalidateCacheCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func runCmd(configPath *string) *cobra.Command {
	var csvOut, xlsxOut bool
	var exportDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := newPipeline(a)
			if err != nil {
				return err
			}

			report, err := p.Run(ctx)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), report.Run)

			if csvOut || xlsxOut {
				if exportDir == "" {
					exportDir = a.cfg.Export.Dir
				}
				files, err := export.SaveFiles(exportDir, report.Run.ID, report.Citations,
					analysis.Analyze(report.Citations), csvOut, xlsxOut)
				if err != nil {
					return err
				}
				printFiles(cmd.OutOrStdout(), files)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&csvOut, "csv", false, "Write the enriched citations as CSV")
	cmd.Flags().BoolVar(&xlsxOut, "xlsx", false, "Write an XLSX workbook with the analysis")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "Export directory (default from config)")

	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve runs, summaries and code lookups over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := newPipeline(a)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps := api.Deps{
				Runner: p,
				Store:  a.store,
				Mapper: newMapper(a.cfg.Reference.Path, a.cfg.Mapping.Threshold, a.cfg.Mapping.Scorer),
				Ready:  map[string]handlers.Pinger{"sqlite": a.store},
			}
			if a.cache != nil {
				deps.Cache = a.cache
				deps.Ready["redis"] = a.cache
			}

			server := api.NewApp(ctx, api.Config{
				ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout) * time.Second,
				RateLimit:    a.cfg.Server.RateLimit,
				Development:  a.cfg.Server.Development,
			}, deps)

			addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
			logger.Info("Server starting", zap.String("address", addr))

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Listen(addr)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Server shutting down gracefully...")
			if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
				logger.Warn("Server shutdown incomplete", zap.Error(err))
			}
			logger.Info("Server stopped")
			return nil
		},
	}
}

func exportCmd(configPath *string) *cobra.Command {
	var runID, exportDir string
	var csvOut, xlsxOut bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored run to CSV and XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			var run *models.PipelineRun
			if runID != "" {
				run, err = a.store.GetRun(ctx, runID)
			} else {
				run, err = a.store.LatestRun(ctx, models.RunSucceeded)
			}
			if err != nil {
				return err
			}
			if run.Status != models.RunSucceeded {
				return fmt.Errorf("run %s has status %s", run.ID, run.Status)
			}

			citations, err := a.store.LoadCitations(ctx, run.ID)
			if err != nil {
				return err
			}

			if exportDir == "" {
				exportDir = a.cfg.Export.Dir
			}
			files, err := export.SaveFiles(exportDir, run.ID, citations, analysis.Analyze(citations), csvOut, xlsxOut)
			if err != nil {
				return err
			}
			printFiles(cmd.OutOrStdout(), files)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run ID (default: latest successful run)")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "Export directory (default from config)")
	cmd.Flags().BoolVar(&csvOut, "csv", true, "Write CSV")
	cmd.Flags().BoolVar(&xlsxOut, "xlsx", true, "Write XLSX")

	return cmd
}

func mapCmd(configPath *string) *cobra.Command {
	var referencePath, scorer string
	var threshold float64

	cmd := &cobra.Command{
		Use:   "map <code>...",
		Short: "Resolve violation codes against the reference table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if referencePath == "" {
				referencePath = cfg.Reference.Path
			}
			if scorer == "" {
				scorer = cfg.Mapping.Scorer
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Mapping.Threshold
			}

			if _, err := codes.ScorerByName(scorer); err != nil {
				return err
			}
			mapper := newMapper(referencePath, threshold, scorer)
			if mapper.Reference().Empty() {
				return fmt.Errorf("reference %s unavailable: %w", referencePath, mapper.Reference().Err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tKEY\tOUTCOME\tMATCH\tSCORE\tDESCRIPTION")
			for _, code := range args {
				res := mapper.Resolve(code)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
					res.Code, res.Key, res.Outcome, res.MatchedKey, res.Score, res.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&referencePath, "reference", "", "Reference table path (default from config)")
	cmd.Flags().StringVar(&scorer, "scorer", "", "Similarity scorer: ratio or jaro_winkler")
	cmd.Flags().Float64Var(&threshold, "threshold", codes.DefaultThreshold, "Minimum fuzzy score")

	return cmd
}

func invalidateCacheCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate-cache",
		Short: "Drop every cached source page",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cache == nil {
				return errors.New("redis cache is not enabled or unreachable")
			}
			removed, err := a.cache.InvalidatePages(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached pages\n", removed)
			return nil
		},
	}
}

func newPipeline(a *app) (*pipeline.Pipeline, error) {
	retriever, err := pipeline.NewRetriever(a.cfg, a.pageCache())
	if err != nil {
		return nil, err
	}
	return pipeline.New(retriever, a.store, pipeline.OptionsFromConfig(a.cfg))
}

func newMapper(referencePath string, threshold float64, scorerName string) *codes.Mapper {
	scorer, err := codes.ScorerByName(scorerName)
	if err != nil {
		scorer = codes.Ratio
	}
	return codes.NewMapper(codes.LoadReference(referencePath), threshold, scorer)
}

func printRun(w io.Writer, run *models.PipelineRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	fmt.Fprintf(tw, "status\t%s\n", run.Status)
	fmt.Fprintf(tw, "duration\t%s\n", run.Duration())
	fmt.Fprintf(tw, "pages\t%d ok, %d failed\n", run.PagesTotal-run.PagesFailed, run.PagesFailed)
	if len(run.FailedOffsets) > 0 {
		fmt.Fprintf(tw, "failed offsets\t%v\n", run.FailedOffsets)
	}
	fmt.Fprintf(tw, "rows retrieved\t%d\n", run.RowsRetrieved)
	fmt.Fprintf(tw, "rows clean\t%d\n", run.RowsClean)
	fmt.Fprintf(tw, "mapped\t%d exact, %d fuzzy, %d unknown\n", run.MappedExact, run.MappedFuzzy, run.Unknown)
	if !run.ReferenceAvailable {
		fmt.Fprintf(tw, "reference\tunavailable, every code marked %s\n", dataset.UnknownDescription)
	}
	tw.Flush()
}

func printFiles(w io.Writer, files *export.Files) {
	if files.CSV != "" {
		fmt.Fprintf(w, "wrote %s\n", files.CSV)
	}
	if files.XLSX != "" {
		fmt.Fprintf(w, "wrote %s\n", files.XLSX)
	}
}
