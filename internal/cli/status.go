package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/harun/stepcore/internal/config"
	"github.com/harun/stepcore/pkg/runlog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusRecent int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the daemon is running and the most recent outcome events.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRecent, "recent", 5, "number of recent outcome events to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	pidFile := getPIDFilePath(cfg.DataDir)

	if !isRunning(pidFile) {
		fmt.Println("Status: stopped")
	} else {
		pid, err := readPID(pidFile)
		if err != nil {
			return err
		}

		fmt.Println("Status: running")
		fmt.Printf("PID: %d\n", pid)

		if info, err := os.Stat(pidFile); err == nil {
			fmt.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	}

	if statusRecent <= 0 {
		return nil
	}

	if _, err := os.Stat(cfg.Runlog.Path); os.IsNotExist(err) {
		return nil
	}

	store, err := runlog.NewStore(runlog.Config{
		Path:   cfg.Runlog.Path,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(context.Background(), statusRecent)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Println("\nRecent outcomes:")
	for _, e := range events {
		fmt.Printf("  %s  %-18s  trace=%s  %dms\n",
			time.UnixMilli(e.CreatedAt).Format(time.RFC3339),
			e.State,
			e.TraceID,
			e.DurationMs,
		)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
