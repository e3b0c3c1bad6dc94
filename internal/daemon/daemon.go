// Package daemon wires config, persistence, the registry's agent-facing TCP
// listener, and the operator-facing HTTP surface into one running process,
// the way cmd/wtd/main.go assembles the relay server's pieces.
package daemon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bootwake/bootwaked/internal/config"
	"github.com/bootwake/bootwaked/internal/httpapi"
	"github.com/bootwake/bootwaked/internal/logger"
	"github.com/bootwake/bootwaked/internal/persist"
	"github.com/bootwake/bootwaked/internal/registry"
)

// saveInterval is how often the registry's state is flushed to disk while
// running, independent of the save-on-shutdown flush.
const saveInterval = 30 * time.Second

// Run loads cfg's persisted state, starts both listeners, and blocks until
// ctx is cancelled, at which point it saves once more and shuts down cleanly.
// configPath, if non-empty, is watched for edits so the operator password
// can be rotated without a restart.
func Run(ctx context.Context, cfg config.Config, configPath string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	password, err := cfg.ResolvePassword()
	if err != nil {
		return err
	}
	passwordHash, err := config.HashPassword(password)
	if err != nil {
		return err
	}

	reg := registry.New(logger.Component(log, "registry"), cfg.RingCapacity)

	records, err := persist.Load(cfg.SavePath)
	if err != nil {
		return fmt.Errorf("daemon: load saved state: %w", err)
	}
	reg.Import(records)
	log.Info("daemon: loaded saved state", "machines", len(records))

	agentLn, err := net.Listen("tcp", cfg.AgentAddr)
	if err != nil {
		return fmt.Errorf("daemon: listen agent addr %s: %w", cfg.AgentAddr, err)
	}

	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("daemon: generate session secret: %w", err)
	}
	api := httpapi.NewServer(reg, passwordHash, jwtSecret, logger.Component(log, "httpapi"))
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Handler(),
	}

	if configPath != "" {
		err := config.Watch(ctx, configPath, log, func(next config.Config) {
			pw, err := next.ResolvePassword()
			if err != nil {
				log.Warn("daemon: config reload has no usable password, keeping previous", "error", err)
				return
			}
			hash, err := config.HashPassword(pw)
			if err != nil {
				log.Warn("daemon: config reload password hash failed, keeping previous", "error", err)
				return
			}
			api.SetPasswordHash(hash)
		})
		if err != nil {
			return fmt.Errorf("daemon: watch config: %w", err)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("daemon: agent listener up", "addr", cfg.AgentAddr)
		errCh <- reg.Serve(ctx, agentLn)
	}()
	go func() {
		log.Info("daemon: http listener up", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("daemon: http serve: %w", err)
			return
		}
		errCh <- nil
	}()

	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("daemon: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			httpSrv.Shutdown(shutdownCtx)
			cancel()
			saveBudget := 10 * time.Second
			saved := make(chan error, 1)
			go func() { saved <- saveState(cfg.SavePath, reg, log) }()
			select {
			case err := <-saved:
				return err
			case <-time.After(saveBudget):
				log.Error("daemon: final save exceeded its budget, exiting without it", "budget", saveBudget)
				return fmt.Errorf("daemon: final save exceeded %s", saveBudget)
			}
		case <-ticker.C:
			if err := saveState(cfg.SavePath, reg, log); err != nil {
				log.Warn("daemon: periodic save failed", "error", err)
			}
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
	}
}

// randomSecret generates a fresh per-process JWT signing key. Session
// cookies therefore don't survive a restart, which is fine: the operator
// just logs in again, and it keeps key storage out of scope entirely.
func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func saveState(path string, reg *registry.Server, log *slog.Logger) error {
	if err := persist.Save(path, reg.Export()); err != nil {
		return fmt.Errorf("daemon: save state: %w", err)
	}
	log.Debug("daemon: saved state", "path", path)
	return nil
}
