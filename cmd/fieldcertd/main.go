// Command fieldcertd runs the field inspection daemon: the session sequencer,
// the submission queue, and the HTTP API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldcert/fieldcert/internal/api"
	"github.com/fieldcert/fieldcert/internal/config"
	"github.com/fieldcert/fieldcert/internal/inspection/model"
	"github.com/fieldcert/fieldcert/internal/inspection/provider"
	"github.com/fieldcert/fieldcert/internal/inspection/sequencer"
	"github.com/fieldcert/fieldcert/internal/log"
	"github.com/fieldcert/fieldcert/internal/queue"
	"github.com/fieldcert/fieldcert/internal/queue/store"
)

func main() {
	if err := run(); err != nil {
		logger := log.WithComponent("main")
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "fieldcert"})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}

	syncer, err := newSyncer(cfg)
	if err != nil {
		return err
	}
	q := queue.New(st, syncer, queue.Options{})
	defer func() {
		if err := q.Close(); err != nil {
			logger.Error().Err(err).Msg("queue close failed")
		}
	}()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	seq := sequencer.New(providers, q)
	sessions := sequencer.NewRegistry()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(sessions, seq, q, cfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("listen", cfg.ListenAddr).
			Str("backend", cfg.StoreBackend).
			Str("sync_target", syncTarget(cfg)).
			Msg("fieldcertd starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.FlushInterval > 0 {
		g.Go(func() error {
			return runFlusher(ctx, q, cfg)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("fieldcertd stopped")
	return nil
}

// runFlusher periodically retries queued submissions using the daemon-level
// connectivity assumption. Clients that know better drive POST /queue/flush
// with an explicit signal.
func runFlusher(ctx context.Context, q *queue.Queue, cfg config.Config) error {
	logger := log.WithComponent("flusher")
	ticker := time.NewTicker(cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			synced, err := q.Flush(ctx, cfg.AssumeOnline)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("background flush failed")
				continue
			}
			if synced > 0 {
				logger.Info().Int("synced", synced).Msg("background flush drained entries")
			}
		}
	}
}

func newSyncer(cfg config.Config) (queue.Syncer, error) {
	if cfg.SyncEndpoint != "" {
		return queue.NewHTTPSyncer(cfg.SyncEndpoint, cfg.SyncTimeout), nil
	}
	return queue.NewSpoolSyncer(filepath.Join(cfg.DataDir, "outbox"))
}

func syncTarget(cfg config.Config) string {
	if cfg.SyncEndpoint != "" {
		return cfg.SyncEndpoint
	}
	return filepath.Join(cfg.DataDir, "outbox")
}

func buildProviders(cfg config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for m, rate := range map[model.Method]float64{
		model.MethodGPS:    cfg.GPSSuccessRate,
		model.MethodBeacon: cfg.BeaconSuccessRate,
		model.MethodQR:     cfg.QRSuccessRate,
	} {
		p := provider.NewSimulated(m, provider.SimulatedConfig{
			SuccessRate: rate,
			Latency:     cfg.ProviderLatency,
			Timeout:     cfg.ProviderTimeout,
			Seed:        cfg.ProviderSeed,
		})
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
