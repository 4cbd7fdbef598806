package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yieldscope/internal/chain"
	"yieldscope/internal/earnings"
	"yieldscope/internal/history"
	"yieldscope/internal/httpapi"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// setup applies the schema when connecting.
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("schema applied", zap.String("store", a.cfg.Store))
	return nil
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	pipeline := a.pipeline()
	a.logger.Info("ingest configured",
		zap.String("provider", a.cfg.Provider),
		zap.String("store", a.cfg.Store),
		zap.Int("batch_size", a.cfg.BatchSize),
		zap.Bool("percent_units", a.cfg.PercentUnits),
	)

	once, _ := cmd.Flags().GetBool("once")
	if once {
		result, err := pipeline.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	sched, cleanup, err := a.scheduler(ctx, pipeline)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sched.Stop()
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	hist := history.NewService(a.store)
	engine := earnings.NewEngine(a.store, hist, a.logger)
	if a.cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, a.cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer client.Close()
		engine.WithConfirmer(client)
	}

	// Manual refreshes take the scheduler's lock even when it is not started.
	sched, cleanup, err := a.scheduler(ctx, a.pipeline())
	if err != nil {
		return err
	}
	defer cleanup()

	schedule, _ := cmd.Flags().GetBool("schedule")
	if schedule {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}
	api := httpapi.NewServer(hist, engine, sched, a.logger)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runPositions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	userID, _ := cmd.Flags().GetString("user")
	engine := earnings.NewEngine(a.store, history.NewService(a.store), a.logger)
	summary, err := engine.PositionsFor(ctx, userID)
	if err != nil {
		return err
	}
	if err := summary.Inconsistencies(); err != nil {
		a.logger.Warn("positions inconsistent", zap.Error(err))
	}
	return printJSON(summary)
}

func runPool(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	poolID, _ := cmd.Flags().GetString("id")
	hist := history.NewService(a.store)

	windowFlag, _ := cmd.Flags().GetString("window")
	if windowFlag != "" {
		window, err := history.ParseWindow(windowFlag)
		if err != nil {
			return err
		}
		snaps, err := hist.WindowHistory(ctx, poolID, window)
		if err != nil {
			return err
		}
		return printJSON(snaps)
	}

	report, err := hist.PoolReport(ctx, poolID)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
