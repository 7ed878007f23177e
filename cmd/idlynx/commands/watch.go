package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/internal/orchestration"
)

func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [target...]",
		Short: "Alert on new breaches for watched targets",
		Long: `Re-check the breach sources for every watched target on an interval and
send a Telegram alert when a breach name appears that was not seen before.
Targets given as arguments replace watch.targets from the configuration.
The first check of a target only records a baseline.`,
		RunE: runWatch,
	}

	cmd.Flags().Bool("authorized", false, "Confirm you are authorized to monitor these targets")
	cmd.Flags().Duration("interval", 0, "Time between checks (default watch.interval)")
	_ = viper.BindPFlag("watch_cmd.authorized", cmd.Flags().Lookup("authorized"))
	_ = viper.BindPFlag("watch_cmd.interval", cmd.Flags().Lookup("interval"))
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !viper.GetBool("watch_cmd.authorized") {
		return ErrNotAuthorized
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Watch.Targets = args
	}
	if d := viper.GetDuration("watch_cmd.interval"); d > 0 {
		cfg.Watch.Interval = d
	}
	cfg.Watch.Enabled = true
	if err := cfg.Validate(); err != nil {
		return err
	}

	watcher, err := orchestration.NewWatcher(cfg, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()
	if err := watcher.Run(ctx); err != nil {
		return fmt.Errorf("watch stopped: %w", err)
	}
	logrus.WithFields(logrus.Fields(watcher.GetStats())).Info("Watch stopped")
	return nil
}
