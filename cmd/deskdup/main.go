package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/breeze-rmm/deskdup/internal/config"
	"github.com/breeze-rmm/deskdup/internal/duplication"
	"github.com/breeze-rmm/deskdup/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version     = "0.1.0"
	cfgFile     string
	outputIndex int
	backend     string
	logLevel    string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "deskdup",
	Short: "Desktop duplication frame capture",
	Long:  `deskdup captures RGBA frames from a display output using DXGI Desktop Duplication, with a polling fallback on other platforms.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskdup v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List display outputs available for capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		p, err := duplication.NewPlatform(cfg.Backend)
		if err != nil {
			return err
		}
		monitors, err := duplication.ListMonitors(p)
		if err != nil {
			return err
		}
		log.Debug("monitor enumeration", "active", duplication.MonitorCount(), "outputs", len(monitors))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(monitors)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is deskdup.yaml in the platform config dir)")
	rootCmd.PersistentFlags().IntVar(&outputIndex, "output", 0, "output index on the default adapter")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "capture backend: auto, dxgi or screenshot")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(grabCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setup loads and validates the configuration, applies flag overrides and
// initializes logging. The returned closer flushes the log file, if any.
func setup(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.OutputIndex = outputIndex
	}
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		for _, e := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config: %v\n", e)
		}
		return nil, nil, fmt.Errorf("invalid configuration")
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, rw)
		closer = rw
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return cfg, closer, nil
}

// openSession creates a session on the configured backend and initializes
// the configured output.
func openSession(cfg *config.Config) (*duplication.Session, error) {
	p, err := duplication.NewPlatform(cfg.Backend)
	if err != nil {
		return nil, err
	}
	s := duplication.New(
		duplication.WithPlatform(p),
		duplication.WithFrameTimeout(cfg.Timeout()),
		duplication.WithLogger(logging.WithOutput(logging.L("capture"), cfg.OutputIndex)),
	)
	if err := s.Initialize(cfg.OutputIndex); err != nil {
		s.Close()
		return nil, err
	}
	if out, ok := s.Output(); ok {
		log.Info("output initialized",
			"output", cfg.OutputIndex,
			"device", out.DeviceName,
			"width", out.Bounds.Dx(),
			"height", out.Bounds.Dy())
	}
	return s, nil
}
