package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harun/stepcore/internal/config"
	"github.com/harun/stepcore/internal/logger"
	"github.com/harun/stepcore/pkg/bridge"
	"github.com/harun/stepcore/pkg/retry"
	"github.com/harun/stepcore/pkg/runlog"
	"github.com/harun/stepcore/pkg/scope"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stepcore daemon",
	Long: `Run the stepcore daemon in the foreground. Starts the run log
sweeper and, when enabled, the control bridge, then blocks until the
process receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := logger.New(logger.FromApp(cfg.Logging, true))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	pidFile := getPIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if cfg.Tracing.Enabled {
		if err := scope.InitTracing(cfg.Tracing.ServiceName); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = scope.ShutdownTracing(ctx)
		}()
	}

	store, err := runlog.NewStore(runlog.Config{
		Path:   cfg.Runlog.Path,
		Logger: zl,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	sweeper, err := runlog.NewSweeper(store, runlog.SweeperConfig{
		Schedule:  cfg.Runlog.SweepSchedule,
		Retention: time.Duration(cfg.Runlog.RetentionDays) * 24 * time.Hour,
		Logger:    zl,
	})
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.Bridge.Enabled {
		hub, err := bridge.NewHub(bridge.Config{
			Port:         cfg.Bridge.Port,
			SharedSecret: cfg.Bridge.SharedSecret,
			Logger:       zl,
		})
		if err != nil {
			return err
		}
		if err := hub.Start(); err != nil {
			return err
		}
		defer func() {
			if err := hub.Stop(); err != nil {
				zl.Error().Err(err).Msg("Failed to stop control bridge")
			}
		}()
	}

	watcher, err := config.NewWatcher(config.NewLoader(cfgFile).GetConfigPath(), zl, func() {
		zl.Info().Msg("Config file changed; restart to apply")
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	zl.Info().
		Str("version", version).
		Str("retry_policy", fmt.Sprintf("%d attempts", retryPolicy(cfg).MaxAttempts())).
		Bool("bridge", cfg.Bridge.Enabled).
		Msg("stepcored running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig

	zl.Info().Str("signal", s.String()).Msg("Shutting down")
	return nil
}

// retryPolicy builds the daemon-wide retry policy from config.
func retryPolicy(cfg *config.Config) retry.Exponential {
	return retry.Exponential{
		Attempts:   cfg.Retry.MaxAttempts,
		Initial:    time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		Max:        time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier: cfg.Retry.Multiplier,
		Jitter:     cfg.Retry.Jitter,
	}
}

func getPIDFilePath(dataDir string) string {
	if dataDir != "" {
		return filepath.Join(dataDir, "stepcored.pid")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/stepcored.pid"
	}
	return filepath.Join(home, ".stepcore", "stepcored.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0.
	return process.Signal(syscall.Signal(0)) == nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}
