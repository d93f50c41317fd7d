package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/shopsage/internal/config"
	"github.com/FranksOps/shopsage/internal/metrics"
	"github.com/FranksOps/shopsage/internal/report"
	"github.com/FranksOps/shopsage/internal/scout"
	"github.com/FranksOps/shopsage/internal/server"
	"github.com/FranksOps/shopsage/internal/storage"
)

var envFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "shopsage",
		Short:        "AI-powered shopping recommendations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(serveCmd(), recommendCmd(), searchCmd(), auditCmd())
	return root
}

// setup loads and validates configuration and builds the logger.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.MetricsPort > 0 {
				ms := metrics.Start(metrics.Addr(cfg.MetricsPort), logger)
				defer func() { _ = ms.Stop(context.Background()) }()
			}

			srv := server.New(a.pipeline, a.scout, a.judge, logger)
			return srv.ListenAndServe(ctx, cfg.Addr())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides SHOPSAGE_HOST)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides SHOPSAGE_PORT)")
	return cmd
}

func recommendCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "recommend <question>",
		Short: "Answer a shopping question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.pipeline.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return report.WriteRecommendationJSON(cmd.OutOrStdout(), rec)
			}
			return report.WriteRecommendationText(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the recommendation as JSON")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "List search candidates without ranking them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			cands, err := a.scout.Search(ctx, query, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return report.WriteCandidatesJSON(cmd.OutOrStdout(), strings.TrimSpace(query), cands)
			}
			return report.WriteCandidatesText(cmd.OutOrStdout(), cands)
		},
	}
	cmd.Flags().IntVarP(&limit, "max-results", "n", scout.DefaultMaxResults, "maximum number of candidates (1-20)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		since  time.Duration
		limit  int
		domain string
		format string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Summarize the enrichment fetch audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if cfg.AuditBackend == "" || cfg.AuditBackend == "none" {
				return fmt.Errorf("no audit backend configured, set AUDIT_BACKEND and AUDIT_DSN")
			}

			ctx := cmd.Context()
			backend, err := openAudit(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			filter := storage.Filter{Domain: domain, Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			results, err := backend.Query(ctx, filter)
			if err != nil {
				return fmt.Errorf("query audit log: %w", err)
			}

			summary := report.GenerateSummary(results)
			switch format {
			case "json":
				return report.WriteJSON(cmd.OutOrStdout(), summary)
			case "text":
				return report.WriteText(cmd.OutOrStdout(), summary)
			default:
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only include fetches newer than this (0 = all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of fetches to summarize (0 = all)")
	cmd.Flags().StringVar(&domain, "domain", "", "only include fetches for this domain")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}
