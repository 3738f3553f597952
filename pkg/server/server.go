// Package server provides the public entry point for initializing the
// idvault wallet daemon.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":7337", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idvault/idvault/internal/api"
	"github.com/idvault/idvault/internal/api/handlers"
	"github.com/idvault/idvault/internal/config"
	"github.com/idvault/idvault/internal/gateway"
	"github.com/idvault/idvault/internal/kv"
	"github.com/idvault/idvault/internal/retention"
	"github.com/idvault/idvault/internal/telemetry"
	"github.com/idvault/idvault/internal/wallet"
)

// Server holds the initialized wallet daemon.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the kv store; Close flushes the final snapshot.
	Store kv.Store

	// Wallet is the identity/profile/agent manager.
	Wallet *wallet.Wallet

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the wallet daemon with an explicit configuration.
func NewWithConfig(_ context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store := kv.NewFileStore(cfg.DataDir)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Store initialized")

	w := wallet.New(store, wallet.WithClearOnRegenerate(cfg.ClearOnRegenerate))

	gen := newGenerator(cfg.Gateway)
	assist := gateway.NewAssist(gen)

	h := handlers.New(w, assist)
	router := api.NewRouter(cfg, h)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	if cfg.HandshakeTTL > 0 {
		go retention.NewJanitor(store, time.Hour, cfg.HandshakeTTL).Run(janitorCtx)
	}

	return &Server{
		Handler: router,
		Store:   store,
		Wallet:  w,
		Config:  cfg,
		Port:    cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			stopJanitor()
			return shutdown(ctx)
		},
	}, nil
}

// newGenerator picks the language-model provider. Only Gemini ships
// today; unknown kinds fall back to it so misconfiguration surfaces as
// a call-time gateway error rather than a nil dereference.
func newGenerator(cfg config.GatewayConfig) gateway.Generator {
	switch cfg.Kind {
	case "gemini", "":
		return gateway.NewGemini(cfg.Endpoint, cfg.APIKey, cfg.Model)
	default:
		log.Warn().Str("kind", cfg.Kind).Msg("Unknown gateway kind, using gemini")
		return gateway.NewGemini(cfg.Endpoint, cfg.APIKey, cfg.Model)
	}
}
