package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/helioscrm/helios/internal/config"
	"github.com/helioscrm/helios/internal/service"
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one maintenance pass and exit",
		Long:  "Expire overdue API keys and purge usage logs past the retention window. The serve command runs this on a schedule; this command is for cron-style setups and one-off maintenance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup()
		},
	}
	return cmd
}

func runCleanup() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	job := service.NewCleanupJob(st, st,
		config.ParseDuration(cfg.Cleanup.Interval, 24*time.Hour),
		config.ParseDuration(cfg.Cleanup.LogRetention, 90*24*time.Hour),
		cfg.Cleanup.DeleteBatch,
		logger)

	stats, err := job.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Printf("Expired keys:  %d\n", stats.KeysExpired)
	fmt.Printf("Purged logs:   %d\n", stats.LogsPurged)
	fmt.Printf("Duration:      %s\n", stats.Duration.Round(time.Millisecond))
	return nil
}
