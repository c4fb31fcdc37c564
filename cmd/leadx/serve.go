package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/go-lead-exchange/internal/http"
	"github.com/tbourn/go-lead-exchange/internal/http/handlers"
	"github.com/tbourn/go-lead-exchange/internal/ratelimit"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func serveCommand(in *instance) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: "Start the HTTP API. Without REDIS_URL, uploaded batches are processed " +
			"in this process and the reconciler runs on a timer.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), in)
		},
	}
}

func runServe(parent context.Context, in *instance) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := in.cfg
	a, err := newApp(ctx, cfg, "serve")
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var rdb redis.UniversalClient
	if a.rdb != nil {
		rdb = a.rdb
	}
	lim, err := ratelimit.New(cfg.RateLimit, rdb)
	if err != nil {
		return err
	}

	svcs := handlers.Services{
		Uploads:     a.uploads,
		Purchases:   a.purchases,
		Marketplace: a.marketplace,
		Partners:    a.partners,
		Credits:     a.credits,
		APIBasePath: cfg.APIBasePath,
	}
	if local, isLocal := a.store.(*storage.Local); isLocal {
		svcs.Files = local
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: a.db, Services: svcs, Limiter: lim}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if a.inline != nil {
		go a.reconcileLoop(ctx, cfg.Queue.ReconcileInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := a.waitInline(sctx); err != nil {
		log.Warn().Err(err).Msg("in-process batches still running at shutdown")
	}
	return nil
}
