package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/deskdup/internal/config"
	"github.com/breeze-rmm/deskdup/internal/duplication"
	"github.com/breeze-rmm/deskdup/internal/framestream"
	"github.com/breeze-rmm/deskdup/internal/health"
	"github.com/breeze-rmm/deskdup/internal/workerpool"
	"github.com/spf13/cobra"
)

const (
	restartBackoff  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream captured frames to websocket viewers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	policy, err := duplication.ParsePolicy(cfg.Backpressure)
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	monitor := health.NewMonitor()
	snapshots := workerpool.New("snapshot", cfg.SnapshotWorkers, cfg.SnapshotWorkers*2)
	hub := framestream.NewHub(framestream.Config{
		MaxViewers: cfg.MaxViewers,
		QueueSize:  cfg.ViewerQueueSize,
	}, snapshots, func() any {
		return map[string]any{
			"metrics": s.Metrics(),
			"health":  monitor.Report(),
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	terminal := make(chan struct{}, 1)
	onFrame := func(res duplication.CaptureResult) {
		monitor.ObserveCapture("capture", res)
		hub.Publish(res)
		if res.Terminal {
			select {
			case terminal <- struct{}{}:
			default:
			}
		}
	}
	if !s.StartAutoCapture(cfg.Interval(), policy, onFrame) {
		return fmt.Errorf("auto capture already running")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "output", cfg.OutputIndex)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			break loop
		case err, ok := <-serveErr:
			if ok {
				runErr = fmt.Errorf("http server: %w", err)
			}
			break loop
		case <-terminal:
			if !restartCapture(ctx, s, cfg, policy, onFrame) {
				break loop
			}
		}
	}

	s.StopAutoCapture(true)
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	snapshots.Shutdown(shutdownCtx)
	return runErr
}

// restartCapture re-initializes the output after the loop gave up and
// starts a new loop, retrying retryable failures until ctx is done.
func restartCapture(ctx context.Context, s *duplication.Session, cfg *config.Config, policy duplication.Policy, onFrame duplication.FrameHandler) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(restartBackoff):
		}

		err := s.Initialize(cfg.OutputIndex)
		if err == nil {
			if s.StartAutoCapture(cfg.Interval(), policy, onFrame) {
				log.Info("auto capture restarted")
				return true
			}
			log.Warn("auto capture restart rejected")
			return false
		}
		if !duplication.IsRetryable(err) {
			log.Error("capture cannot be restarted", "error", err)
			return false
		}
		log.Warn("re-initialize failed, retrying", "error", err)
	}
}
