package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dw2rc/internal/app"
	"dw2rc/internal/config"
	"dw2rc/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "dw2rc",
	Short: "Migrate DokuWiki Bible translation content to Resource Containers",
	Long: `Converts Open Bible Stories, translationNotes, translationQuestions and
translationWords from DokuWiki repositories into Resource Container
repositories, records the outcome per language and resource type, and
uploads the results to a Gogs/Gitea git host. Reruns only redo what is
missing or failed.`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert every listed DokuWiki repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
			stats, err := a.Migrate(ctx)
			log.Info("Migration completed",
				zap.Int("repos", stats.Repos),
				zap.Int("converted", stats.Converted),
				zap.Int("skipped", stats.Skipped),
				zap.Int("failed", stats.Failed),
				zap.Int("invalid", stats.Invalid),
				zap.Duration("duration", stats.Duration),
			)
			return err
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Push converted repositories to the git host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
			_, err := a.Upload(ctx)
			return err
		})
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Report persisted conversion and upload results",
	RunE: func(cmd *cobra.Command, args []string) error {
		reload, _ := cmd.Flags().GetBool("reload")
		offline, _ := cmd.Flags().GetBool("offline")
		format, _ := cmd.Flags().GetString("output")
		return run(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
			return a.Summary(ctx, app.SummaryOptions{Reload: reload, Offline: offline, Format: format})
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Mirror converted repositories to S3-compatible storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, a *app.App, log *zap.Logger) error {
			_, err := a.Archive(ctx)
			return err
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().String("out-dir", "./ConvertedDokuWiki", "Folder holding one sub-folder per language")
	rootCmd.PersistentFlags().StringSlice("lang", nil, "Only process these language codes (repeatable)")
	rootCmd.PersistentFlags().String("checkpoint-backend", "json", "Batch results backend (json/sqlite)")
	rootCmd.PersistentFlags().String("checkpoint", "", "Batch results file (default under out-dir)")

	migrateCmd.Flags().Bool("retry-failures", false, "Reconvert resources whose last conversion failed")
	migrateCmd.Flags().Bool("quiet", false, "Pass -q to the converters")
	migrateCmd.Flags().StringSlice("type", []string{"obs", "tq", "tn"}, "Resource types to convert, in order")
	migrateCmd.Flags().Duration("timeout", 0, "Per-conversion timeout")
	migrateCmd.Flags().String("catalog", "", "Language catalog URL or file")
	migrateCmd.Flags().String("valid-list", "", "File with one supported language code per line")
	migrateCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	migrateCmd.Flags().Bool("show-progress", true, "Show progress display")

	uploadCmd.Flags().String("org", "DokuWiki", "Destination organisation")
	uploadCmd.Flags().String("remote-url", "", "Git host base URL")
	uploadCmd.Flags().Bool("retry-on-error", false, "Retry uploads whose last attempt failed")
	uploadCmd.Flags().Bool("repair-manifest", true, "Fix manifest language identifiers before committing")
	uploadCmd.Flags().StringSlice("upload-type", []string{"obs", "tq", "tn"}, "Resource types to upload")
	uploadCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	uploadCmd.Flags().Bool("show-progress", true, "Show progress display")

	summaryCmd.Flags().Bool("reload", false, "Rebuild the batch results from per-language files")
	summaryCmd.Flags().Bool("offline", false, "Do not query the git host or local working trees")
	summaryCmd.Flags().StringP("output", "o", "text", "Output format (text/json)")
	summaryCmd.Flags().String("org", "DokuWiki", "Destination organisation")

	archiveCmd.Flags().String("endpoint", "", "S3-compatible endpoint")
	archiveCmd.Flags().String("bucket", "", "Destination bucket")
	archiveCmd.Flags().String("prefix", "converted", "Object key prefix")
	archiveCmd.Flags().Int("concurrency", 8, "Number of concurrent uploads")
	archiveCmd.Flags().Bool("dry-run", false, "List files without uploading")
	archiveCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	archiveCmd.Flags().Bool("show-progress", true, "Show progress display")

	rootCmd.AddCommand(migrateCmd, uploadCmd, summaryCmd, archiveCmd)
}

func run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, log *zap.Logger) error) error {
	path := configFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Info("Received shutdown signal, finishing the current item...")
		case <-done:
		}
	}()

	return fn(ctx, app.New(cfg, log, os.Stdout), log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
