package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-lead-exchange/internal/queue"
)

func workerCommand(in *instance) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued batches and run scheduled reconciliation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), in, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address serving /metrics; empty disables it")
	return cmd
}

func runWorker(parent context.Context, in *instance, metricsAddr string) error {
	cfg := in.cfg
	if cfg.Redis.URL == "" {
		return errors.New("worker requires REDIS_URL; without it `leadx serve` processes batches in-process")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, "worker")
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	srv := queue.NewServer(a.redisOpt, cfg.Queue)
	if err := srv.Start(queue.NewMux(a.processor, a.reconciler)); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer srv.Shutdown()

	sched, err := queue.NewScheduler(a.redisOpt, cfg.Queue)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Shutdown()

	if metricsAddr != "" {
		ms := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Str("component", "worker").Msg("metrics server")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	log.Info().
		Str("component", "worker").
		Str("queue", cfg.Queue.Name).
		Int("concurrency", cfg.Queue.Concurrency).
		Dur("reconcile_interval", cfg.Queue.ReconcileInterval).
		Msg("worker started")
	<-ctx.Done()
	log.Info().Str("component", "worker").Msg("worker stopping")
	return nil
}
