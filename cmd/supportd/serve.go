package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	_ "github.com/tbourn/go-support-agent/docs"
	"github.com/tbourn/go-support-agent/internal/config"
	httpapi "github.com/tbourn/go-support-agent/internal/http"
	"github.com/tbourn/go-support-agent/internal/http/handlers"
	"github.com/tbourn/go-support-agent/internal/observability"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat and tool API",
	Long: `Start the HTTP server. The database is migrated on start and, unless
SEED_DEMO_DATA=false, the demo orders are inserted. With POLICY_WATCH=true
the policy file is reloaded whenever it changes on disk.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.Version(),
		attribute.String("support.agent_mode", cfg.AgentMode))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Policy.Watch {
		w := &policy.Watcher{
			Path:     cfg.Policy.File,
			Provider: a.provider,
			Debounce: 250 * time.Millisecond,
			Logger:   log.With().Str("component", "policy_watcher").Logger(),
		}
		go func() {
			if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("policy watcher stopped")
			}
		}()
	}

	srv := newServer(cfg, a)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", sysutil.Version()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newServer(cfg config.Config, a *app) *http.Server {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	h := handlers.New(a.chat, a.tools).WithMaxUpload(cfg.Evidence.MaxUploadBytes)
	httpapi.RegisterRoutes(r, a.db, h, cfg)

	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
