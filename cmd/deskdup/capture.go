package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/deskdup/internal/duplication"
	"github.com/spf13/cobra"
)

var (
	grabOut       string
	statsInterval time.Duration
)

var grabCmd = &cobra.Command{
	Use:   "grab",
	Short: "Capture a single frame and write it as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		s, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		start := time.Now()
		frame, err := s.GetFrame(ctx, cfg.GetFrameRetries)
		if err != nil {
			return fmt.Errorf("capture frame: %w", err)
		}
		defer frame.Release()
		log.Info("frame captured",
			"width", frame.Width,
			"height", frame.Height,
			"durationMs", time.Since(start).Milliseconds())

		return writePNG(grabOut, frame)
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the capture loop and log throughput until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		policy, err := duplication.ParsePolicy(cfg.Backpressure)
		if err != nil {
			return err
		}
		s, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		terminal := make(chan duplication.CaptureResult, 1)
		started := s.StartAutoCapture(cfg.Interval(), policy, func(res duplication.CaptureResult) {
			if res.Frame != nil {
				res.Frame.Release()
			}
			if res.Terminal {
				terminal <- res
			}
		})
		if !started {
			return fmt.Errorf("auto capture already running")
		}
		log.Info("auto capture started",
			"intervalMs", cfg.IntervalMs,
			"backpressure", cfg.Backpressure)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		if statsInterval <= 0 {
			statsInterval = 5 * time.Second
		}
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := s.Metrics()
				log.Info("capture stats",
					"captured", m.FramesCaptured,
					"delivered", m.FramesDelivered,
					"dropped", m.FramesDropped,
					"timeouts", m.Timeouts,
					"errors", m.Errors,
					"reinits", m.Reinits,
					"fps", m.CaptureFPS,
					"acquireMs", m.AcquireMs,
					"rssBytes", m.RSSBytes)
			case res := <-terminal:
				return fmt.Errorf("capture stopped: %s", res.Message())
			case <-sigChan:
				log.Info("stopping auto capture")
				s.StopAutoCapture(false)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return s.WaitDelivery(ctx)
			}
		}
	},
}

func init() {
	grabCmd.Flags().StringVarP(&grabOut, "out", "o", "frame.png", "output PNG path")
	streamCmd.Flags().DurationVar(&statsInterval, "stats-interval", 5*time.Second, "how often to log capture statistics")
}

func writePNG(path string, frame *duplication.Frame) error {
	img := &image.RGBA{
		Pix:    frame.Data,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}
