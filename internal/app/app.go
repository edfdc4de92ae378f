// Package app wires configuration, stores, external collaborators, the
// gateway core, and the HTTP server into a runnable unit.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/auth"
	"github.com/lumachat/gateway/internal/collab"
	"github.com/lumachat/gateway/internal/config"
	"github.com/lumachat/gateway/internal/devices"
	"github.com/lumachat/gateway/internal/files"
	"github.com/lumachat/gateway/internal/gateway"
	"github.com/lumachat/gateway/internal/notify"
	"github.com/lumachat/gateway/internal/store/sqlite"
	"github.com/lumachat/gateway/internal/transport/ws"
)

// App owns the process-lifetime resources of the gateway.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	gw              *gateway.Gateway
	store           *sqlite.Store
	mirror          devices.Mirror
	notifier        collab.Notifier
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
// Redis and NATS are optional: left unconfigured, the gateway runs
// single-instance with in-process fallbacks.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	verifier := auth.NewVerifier(auth.Config{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})

	var mirror devices.Mirror = devices.Noop{}
	if cfg.RedisAddr != "" {
		rm, err := devices.NewRedisMirror(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DeviceTTL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init device mirror: %w", err)
		}
		mirror = rm
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("device mirror enabled")
	}

	var notifier collab.Notifier = notify.Noop{}
	if cfg.NATSURL != "" {
		nn, err := notify.NewNATS(cfg.NATSURL, cfg.GatewayID)
		if err != nil {
			closeMirror(mirror, logger)
			st.Close()
			return nil, fmt.Errorf("init notifier: %w", err)
		}
		notifier = nn
		logger.Info().Str("nats_url", cfg.NATSURL).Msg("push notifier enabled")
	}

	gw := gateway.New(gateway.Deps{
		Log:           logger,
		Messages:      st,
		Conversations: st,
		Contacts:      st,
		Files:         files.NewMemory(),
		Notifier:      notifier,
		Mirror:        mirror,
		GatewayID:     cfg.GatewayID,
		TypingExpiry:  cfg.TypingExpiry,
		CallTimeout:   cfg.CallTimeout,
		CallDebounce:  cfg.CallDebounce,
	})

	server := ws.NewServer(gw, verifier, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		gw:              gw,
		store:           st,
		mirror:          mirror,
		notifier:        notifier,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("gateway listening")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		// Signal live sessions first: Shutdown waits for in-flight
		// websocket requests, which only end once their clients are told
		// to close.
		a.log.Info().Msg("shutting down http server")
		a.gw.Shutdown()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup stops timers and closes external resources.
func (a *App) cleanup() {
	a.gw.Shutdown()

	if nn, ok := a.notifier.(*notify.NATSNotifier); ok {
		nn.Close()
	}
	closeMirror(a.mirror, a.log)

	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}

func closeMirror(m devices.Mirror, logger *zerolog.Logger) {
	if rm, ok := m.(*devices.RedisMirror); ok {
		if err := rm.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close device mirror")
		}
	}
}
