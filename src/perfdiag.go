// Package main is the perfdiag command: a performance diagnostics
// engine combining tech-log analysis, cluster monitoring and SQL
// inspection behind one HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SandersNeo/perfdiag/src/aggregator"
	"github.com/SandersNeo/perfdiag/src/api"
	"github.com/SandersNeo/perfdiag/src/config"
	"github.com/SandersNeo/perfdiag/src/ras"
)

const toolVersion = "1.2.0"

var (
	configPath string
	useLocal   bool
	mssqlURL   string
	optimize   bool
)

var rootCmd = &cobra.Command{
	Use:          "perfdiag",
	Short:        "Performance diagnostics engine",
	Version:      toolVersion,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diagnostics engine and its HTTP API",
	RunE:  runServe,
}

var analyzeLogCmd = &cobra.Command{
	Use:   "analyze-log <path>...",
	Short: "Analyze tech-log files or directories and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyzeLog,
}

var analyzeSQLCmd = &cobra.Command{
	Use:   "analyze-sql <query>",
	Short: "Analyze a SQL query, optionally rewriting it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyzeSQL,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	serveCmd.Flags().BoolVar(&useLocal, "local", false, "monitor the local host instead of a remote cluster")
	serveCmd.Flags().StringVar(&mssqlURL, "mssql-url", "", "poll sessions from a SQL Server instance at this URL")
	analyzeSQLCmd.Flags().BoolVar(&optimize, "optimize", false, "also run the query rewriter")
	rootCmd.AddCommand(serveCmd, analyzeLogCmd, analyzeSQLCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newSource picks the session source: a SQL Server instance, the local
// host, or the cluster administration endpoint from the configuration.
func newSource(cfg *config.Config) (ras.SessionSource, func(), error) {
	switch {
	case mssqlURL != "":
		source, err := ras.NewSQLSessionSource(mssqlURL, cfg.RAS.Host)
		if err != nil {
			return nil, nil, err
		}
		return source, func() { _ = source.Close() }, nil
	case useLocal:
		return &ras.LocalSource{}, func() {}, nil
	default:
		client := ras.NewClient(cfg.RAS.Host, cfg.RAS.Port)
		client.MinAgentVersion = cfg.RAS.MinAgentVersion
		return client, func() {}, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	source, closeSource, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	engine, err := aggregator.NewEngine(cfg, source, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go engine.Loop(ctx)

	server := api.NewServer(engine, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(cfg.Server.Address) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func runAnalyzeLog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	engine, err := aggregator.NewEngine(cfg, &ras.LocalSource{}, logger)
	if err != nil {
		return err
	}

	result, err := engine.AnalyzeLogs(cmd.Context(), args...)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runAnalyzeSQL(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	engine, err := aggregator.NewEngine(cfg, &ras.LocalSource{}, logger)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	if err := printJSON(engine.AnalyzeSQL(query)); err != nil {
		return err
	}
	if optimize {
		return printJSON(engine.OptimizeSQL(query))
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
