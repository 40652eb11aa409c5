package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"booklend/internal/app"
	"booklend/internal/catalog"
	"booklend/internal/ratelimit"
	"booklend/internal/server"
	"booklend/internal/util"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := util.InitLogger(cfg.LogLevel)

	core, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer core.Close()

	if cfg.CatalogSource != "" {
		objects, err := objectStore(cfg)
		if err != nil {
			return err
		}
		if _, err := catalog.NewImporter(core.Store(), objects).Import(ctx, cfg.CatalogSource); err != nil {
			return fmt.Errorf("import catalog: %w", err)
		}
	}

	var limiter server.RateLimiter
	if cfg.RateLimitEnabled() {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "booklend:ratelimit", cfg.CheckUserRateLimitPerMinute, time.Minute)
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		defer l.Close()
		limiter = l
	} else {
		logger.Warn("credential rate limiting disabled", "reason", "redisAddr not set")
	}

	httpServer, err := server.New(server.Config{
		App:            core,
		Limiter:        limiter,
		TrustedProxies: cfg.TrustedProxies,
		AllowedOrigins: cfg.AllowedOrigins,
		KeepAlive:      time.Duration(cfg.SubscribeKeepAliveSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("booklend server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Subscription streams only end when their hub closes.
		core.CloseSubscriptions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("booklend server stopped")
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		return err
	}
	return nil
}
