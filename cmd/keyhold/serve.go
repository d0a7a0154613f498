package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/keyhold/internal/api"
	"github.com/benaskins/keyhold/internal/config"
	"github.com/benaskins/keyhold/internal/keychain"
)

func newServeCmd(e *env, g *globalFlags) *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the keyhold agent",
		Long:  "Serve the keychain to local processes over a Unix socket. The config file is watched and reloaded on change.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.remote {
				return errors.New("--remote cannot be used with serve")
			}
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-addr") {
				cfg.APIAddr = apiAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return runServe(ctx, cmd, e, g, cfg)
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for the API (e.g. 127.0.0.1:9090)")
	return cmd
}

// agentStore tracks the store currently served and how to release it.
type agentStore struct {
	mu      sync.Mutex
	closeFn func() error
}

func (a *agentStore) swap(closeFn func() error) {
	a.mu.Lock()
	prev := a.closeFn
	a.closeFn = closeFn
	a.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// agentBackends keeps one backend per kind for the agent's lifetime, so a
// config reload does not drop items held by the memory backend.
type agentBackends struct {
	mu     sync.Mutex
	memory *keychain.MemoryBackend
}

func (b *agentBackends) options(cfg config.Config) []keychain.Option {
	if cfg.Backend != config.BackendMemory {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.memory == nil {
		b.memory = keychain.NewMemoryBackend()
	}
	return []keychain.Option{keychain.WithBackend(b.memory)}
}

func runServe(ctx context.Context, cmd *cobra.Command, e *env, g *globalFlags, cfg config.Config) error {
	backends := &agentBackends{}
	store, closeFn, err := e.open(cfg, "agent", false, backends.options(cfg)...)
	if err != nil {
		return err
	}
	current := &agentStore{}
	current.swap(closeFn)
	defer current.swap(nil)

	socketPath := cfg.Socket
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}
	// Remove stale socket
	os.Remove(socketPath)

	srv := api.NewServer(store, serverOptions(cfg))

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()
	if cfg.APIAddr != "" {
		go func() {
			errCh <- srv.ListenTCP(cfg.APIAddr)
		}()
	}

	go func() {
		err := config.Watch(ctx, g.configPath, func(next *config.Config) {
			g.apply(cmd, next)
			if err := next.Validate(); err != nil {
				slog.Warn("ignoring config overridden by invalid flags", "error", err)
				return
			}
			reloaded := next.WithDefaults()
			if reloaded.Socket != cfg.Socket || reloaded.APIAddr != cfg.APIAddr {
				slog.Warn("listen addresses changed; restart keyhold serve to apply")
			}
			s, c, err := e.open(reloaded, "agent", false, backends.options(reloaded)...)
			if err != nil {
				slog.Error("reopening store after config change", "error", err)
				return
			}
			srv.Reconfigure(s, serverOptions(reloaded))
			current.swap(c)
		})
		if err != nil {
			slog.Warn("config watch disabled", "error", err)
		}
	}()

	slog.Info("keyhold agent ready", "socket", socketPath, "service", cfg.Service)

	select {
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	os.Remove(socketPath)

	slog.Info("keyhold agent stopped")
	return nil
}

func serverOptions(cfg config.Config) api.Options {
	return api.Options{ReadRate: cfg.ReadRate, ReadBurst: cfg.ReadBurst}
}
