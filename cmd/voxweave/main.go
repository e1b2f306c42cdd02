// Command voxweave runs the realtime voice transcript server: it joins a
// conversation channel, splits the agent's speech from generated web-page
// code, and serves the transcript, version history, and live update feed over
// HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxweave/internal/archive"
	"github.com/MrWong99/voxweave/internal/config"
	"github.com/MrWong99/voxweave/internal/health"
	"github.com/MrWong99/voxweave/internal/observe"
	"github.com/MrWong99/voxweave/internal/server"
	"github.com/MrWong99/voxweave/internal/session"
	"github.com/MrWong99/voxweave/pkg/prompt"
	"github.com/MrWong99/voxweave/pkg/realtime"
	"github.com/MrWong99/voxweave/pkg/realtime/convoai"
	"github.com/MrWong99/voxweave/pkg/realtime/mock"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it without
	// restarting.
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	// ── Load configuration + watch for changes ────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("configuration change requires a restart to take effect")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxweave: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxweave: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	levelVar.Set(slogLevel(cfg.Server.LogLevel))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("voxweave starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownObs, err := observe.Init(ctx, observe.Options{
		ServiceName: "voxweave",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Realtime provider ─────────────────────────────────────────────────────
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to build realtime provider", "err", err)
		return 1
	}

	// ── Archive (optional) ────────────────────────────────────────────────────
	var store archive.Store
	var checkers []health.Checker
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		pg, err := archive.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect archive store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Checker{
			Name: "archive",
			Check: func(ctx context.Context) error {
				_, err := pg.Versions(ctx, "readyz-check")
				return err
			},
		})
		slog.Info("archive store connected")
	} else {
		slog.Info("archive disabled; transcript history is in-memory only")
	}

	// ── Session manager ───────────────────────────────────────────────────────
	mgr, err := session.NewManager(session.Config{
		Provider:     provider,
		ChannelID:    cfg.Realtime.ChannelID,
		AgentID:      cfg.Realtime.AgentID,
		Instructions: prompt.Instructions(cfg.Realtime.ExtraInstructions),
		Archive:      store,
		UpdateBuf:    cfg.Feed.Buffer,
	})
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srvCfg := server.Config{
		Addr:    listenAddr,
		Manager: mgr,
		Health:  health.New(checkers...),
	}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		slog.Error("failed to create server", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	if mgr.IsActive() {
		if err := mgr.Stop(); err != nil {
			slog.Warn("session stop error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// buildProvider constructs the realtime transport named in the config.
func buildProvider(cfg *config.Config) (realtime.Provider, error) {
	switch cfg.Realtime.Provider {
	case config.ProviderConvoAI:
		var opts []convoai.Option
		if cfg.Realtime.BaseURL != "" {
			opts = append(opts, convoai.WithBaseURL(cfg.Realtime.BaseURL))
		}
		return convoai.New(cfg.Realtime.APIKey, opts...), nil

	case config.ProviderMock:
		// Loopback transport for local development; produces no messages.
		return &mock.Provider{}, nil

	case "":
		return nil, fmt.Errorf("realtime.provider must be set")

	default:
		return nil, fmt.Errorf("unknown realtime provider %q", cfg.Realtime.Provider)
	}
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
