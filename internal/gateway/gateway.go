// ABOUTME: Gateway orchestrator: wiring, listeners, and graceful shutdown.
// ABOUTME: Serves plain TCP by default or a tsnet node when configured.

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/flint-sh/flint/internal/config"
	"github.com/flint-sh/flint/internal/dedupe"
	"github.com/flint-sh/flint/internal/idempotency"
	"github.com/flint-sh/flint/internal/protocol"
	"github.com/flint-sh/flint/internal/queue"
	"github.com/flint-sh/flint/internal/runtime"
	"github.com/flint-sh/flint/internal/threadstore"
)

// webhookDedupeTTL bounds how long adapter event ids are remembered.
const webhookDedupeTTL = 5 * time.Minute

// Options configures a Gateway. Store and Spawn exist for tests; nil
// selects the production implementations.
type Options struct {
	Config         *config.Config
	Settings       *config.Settings
	CodexConfigErr error
	Logger         *slog.Logger
	Version        string

	Store    threadstore.Store
	Spawn    runtime.SpawnFunc
	Adapters map[string]ChannelAdapter
}

// Gateway composes the core components behind the HTTP surface.
type Gateway struct {
	cfg      *config.Config
	settings *config.Settings
	logger   *slog.Logger
	version  string

	store       threadstore.Store
	registry    *runtime.Registry
	queue       *queue.Queue
	idem        *idempotency.Store
	eventDedupe *dedupe.Cache
	adapters    map[string]ChannelAdapter

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	now func() time.Time
}

// New wires a Gateway from options.
func New(opts Options) (*Gateway, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	settings := opts.Settings
	if settings == nil {
		settings = &config.Settings{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The YAML idle_timeout keeps working for deployments that predate
	// the session.reset settings block.
	if settings.Session.LegacyIdleMinutes == nil && cfg.Gateway.IdleTimeout > 0 {
		minutes := int(cfg.Gateway.IdleTimeout.Minutes())
		if minutes < 1 {
			minutes = 1
		}
		settings.Session.LegacyIdleMinutes = &minutes
	}

	store := opts.Store
	if store == nil {
		store = threadstore.NewFileStore(cfg.Gateway.StorePath, logger.With("component", "threadstore"))
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("initializing thread store: %w", err)
	}

	spawn := opts.Spawn
	if spawn == nil {
		spawn = spawnFromConfig(cfg, logger)
	}

	g := &Gateway{
		cfg:      cfg,
		settings: settings,
		logger:   logger.With("component", "gateway"),
		version:  opts.Version,
		store:    store,
		registry: runtime.NewRegistry(runtime.Config{
			Spawn:  spawn,
			Logger: logger.With("component", "runtime"),
			Codex: runtime.CodexDefaults{
				ApprovalPolicy: settings.Codex.ApprovalPolicy,
				SandboxMode:    settings.Codex.SandboxMode,
			},
			CodexConfigErr: opts.CodexConfigErr,
		}),
		queue:       queue.New(),
		idem:        idempotency.New(cfg.Gateway.IdempotencyTTL),
		eventDedupe: dedupe.New(webhookDedupeTTL, 100_000),
		adapters:    map[string]ChannelAdapter{},
		now:         time.Now,
	}
	for name, adapter := range opts.Adapters {
		g.adapters[name] = adapter
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// spawnFromConfig builds the production spawn function from the provider
// command catalog.
func spawnFromConfig(cfg *config.Config, logger *slog.Logger) runtime.SpawnFunc {
	return func(ctx context.Context, provider runtime.Provider) (*protocol.Peer, error) {
		agent, ok := cfg.Agents.Providers[string(provider)]
		if !ok {
			return nil, fmt.Errorf("no agent command configured for provider %q", provider)
		}
		return protocol.Spawn(ctx, protocol.SpawnConfig{
			PeerConfig: protocol.PeerConfig{
				Logger:           logger.With("component", "peer", "provider", string(provider)),
				ApprovalDecision: cfg.Agents.ApprovalDecision,
				ClientName:       "flint-gateway",
				ClientVersion:    "1",
			},
			Command: agent.Command,
		})
	}
}

// RegisterAdapter plugs a channel adapter in under /webhooks/{name}.
func (g *Gateway) RegisterAdapter(name string, adapter ChannelAdapter) {
	g.adapters[name] = adapter
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		g.logger.Error("server error", "error", serveErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context: the serve context
// is already canceled by the time we get here.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown drains the HTTP listener, closes every runtime, and releases
// background resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.registry.Close()
	g.eventDedupe.Close()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener returns a plain TCP listener or a tsnet one.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.cfg.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}
	return net.Listen("tcp", g.cfg.Server.HTTPAddr)
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.cfg.Tailscale

	stateDir := tsCfg.StateDir
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "share", "flint", "tailscale")
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := tsCfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	if _, err := g.tsnetServer.Up(ctx); err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}
