package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "yieldscope",
		Short:        "Pool yield history and position earnings",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("store", "postgres", "store backend (postgres, memory)")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}
	root.AddCommand(migrateCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch pool metrics and append snapshots",
		RunE:  runIngest,
	}
	ingestCmd.Flags().Bool("once", false, "run a single ingestion and exit")
	addIngestFlags(ingestCmd)
	root.AddCommand(ingestCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("http-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Bool("schedule", false, "also run scheduled ingestion")
	serveCmd.Flags().String("rpc-url", "", "Ethereum RPC URL for confirming deposit and withdrawal transactions")
	addIngestFlags(serveCmd)
	root.AddCommand(serveCmd)

	positionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "Print a user's positions and projected earnings",
		RunE:  runPositions,
	}
	positionsCmd.Flags().String("user", "", "user id")
	_ = positionsCmd.MarkFlagRequired("user")
	root.AddCommand(positionsCmd)

	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Print a pool's current yield and history",
		RunE:  runPool,
	}
	poolCmd.Flags().String("id", "", "pool id")
	poolCmd.Flags().String("window", "", "only print history for this window (7d, 30d)")
	_ = poolCmd.MarkFlagRequired("id")
	root.AddCommand(poolCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addIngestFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "curve", "metrics provider (curve, subgraph)")
	cmd.Flags().String("provider-url", "", "provider endpoint, empty for the provider default")
	cmd.Flags().Duration("provider-timeout", 30*time.Second, "provider request timeout")
	cmd.Flags().Bool("percent-units", true, "provider reports yields as percentages")
	cmd.Flags().Int("batch-size", 500, "snapshots per write")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Duration("schedule-interval", 8*time.Hour, "time between scheduled runs")
	cmd.Flags().Duration("run-timeout", 10*time.Minute, "maximum duration of one run")
	cmd.Flags().Bool("run-on-start", true, "run immediately when the scheduler starts")
	cmd.Flags().String("state-file", "", "local run-state file, empty to keep it in the store")
	cmd.Flags().String("redis-addr", "", "Redis address for the cross-process run lock")
	cmd.Flags().String("redis-password", "", "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")
	cmd.Flags().Duration("lock-ttl", 15*time.Minute, "run lock expiry")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
