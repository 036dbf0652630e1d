package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var validBackends = map[string]bool{
	"auto":       true,
	"dxgi":       true,
	"screenshot": true,
}

var validBackpressure = map[string]bool{
	"latest":    true,
	"skip":      true,
	"queue":     true,
	"unbounded": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits problems into fatals, which must stop startup, and
// warnings, which were logged and usually corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped to safe
// values and reported as warnings; values that cannot be corrected are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.OutputIndex < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("output_index %d must not be negative", c.OutputIndex))
	}
	if !validBackends[strings.ToLower(c.Backend)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("backend %q is not valid (use auto, dxgi or screenshot)", c.Backend))
	}
	if !validBackpressure[strings.ToLower(c.Backpressure)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("backpressure %q is not valid (use latest or queue)", c.Backpressure))
	}
	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
		}
	}

	clamp(&r, "interval_ms", &c.IntervalMs, 1, 60_000)
	clamp(&r, "timeout_ms", &c.TimeoutMs, 1, 60_000)
	clamp(&r, "get_frame_retries", &c.GetFrameRetries, 0, 100)
	clamp(&r, "log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)
	clamp(&r, "log_max_backups", &c.LogMaxBackups, 0, 50)
	clamp(&r, "max_viewers", &c.MaxViewers, 1, 256)
	clamp(&r, "viewer_queue_size", &c.ViewerQueueSize, 1, 64)
	clamp(&r, "snapshot_workers", &c.SnapshotWorkers, 1, 16)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}

// Validate returns every problem found; see ValidateTiered.
func (c *Config) Validate() []error {
	return c.ValidateTiered().AllErrors()
}

func clamp(r *ValidationResult, key string, v *int, min, max int) {
	if *v < min {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, *v, min))
		*v = min
	} else if *v > max {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, *v, max))
		*v = max
	}
}
