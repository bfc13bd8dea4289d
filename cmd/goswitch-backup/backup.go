package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/fgeck/goswitch-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	backupAll    bool
	backupTags   []string
	backupDryRun bool
)

var backupCmd = &cobra.Command{
	Use:   "backup [SWITCH...]",
	Short: "Back up switch configurations",
	Long: `Back up the named switches, or every enabled switch with --all.
For each switch:
1. Connect over SSH (retried with backoff, authentication errors are not retried)
2. Fetch the running-config and, where supported, the startup-config
3. Normalize volatile lines such as uptime counters and timestamps
4. Store the configuration and commit it if it changed
5. Push the commit (if auto_push is enabled)
After the run a Telegram notification is sent and metrics are published (if configured).`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "back up every enabled switch")
	backupCmd.Flags().StringSliceVar(&backupTags, "tags", nil, "only back up switches with one of these tags")
	backupCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "report what would change without writing or committing")
}

func runBackup(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !backupAll && len(backupTags) == 0 {
		log.Error().Msg("name switches to back up or use --all")
		return cmd.Help()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	targets, err := selectTargets(cfg.Switches, args)
	if err != nil {
		log.Error().Err(err).Msg("invalid switch selection")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("repository", cfg.Repository.Path).
		Int("switches", len(cfg.Switches)).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	runnerSvc, err := runner.New(log.Logger, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up backup")
		return err
	}

	if !backupDryRun {
		if err := runnerSvc.Prepare(ctx); err != nil {
			log.Error().Err(err).Msg("failed to prepare repository")
			return err
		}
	}

	summary := runnerSvc.BackupBatch(ctx, targets, backupTags, backupDryRun)
	printSummary(cmd.OutOrStdout(), summary)

	if summary.Failed() {
		log.Error().Strs("failed", summary.FailedNames()).Msg("backup finished with failures")
		return runner.ErrBatchFailed
	}

	log.Info().Msg("backup completed successfully")
	return nil
}

// selectTargets returns the named switches, or all switches when no names are given.
// Named switches are backed up even when disabled in the inventory.
func selectTargets(switches []models.SwitchTarget, names []string) ([]models.SwitchTarget, error) {
	if len(names) == 0 {
		return switches, nil
	}

	byName := make(map[string]models.SwitchTarget, len(switches))
	for _, s := range switches {
		byName[s.Name] = s
	}

	targets := make([]models.SwitchTarget, 0, len(names))
	for _, name := range names {
		target, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown switch %q", name)
		}
		target.Enabled = true
		targets = append(targets, target)
	}
	return targets, nil
}

func printSummary(w io.Writer, summary models.BatchSummary) {
	fmt.Fprintln(w)
	if summary.DryRun {
		fmt.Fprintln(w, "Dry run, nothing was written:")
	} else {
		fmt.Fprintln(w, "Backup summary:")
	}

	for _, r := range summary.Results {
		line := fmt.Sprintf("  %-24s %-26s", r.Name, r.Outcome())
		if r.CommitID != "" {
			line += " " + shortID(r.CommitID)
		}
		if r.Error != nil {
			line += " " + r.Error.Error()
		}
		fmt.Fprintln(w, line)
	}

	counts := summary.Counts()
	fmt.Fprintln(w)
	for _, o := range models.Outcomes {
		if counts[o] > 0 {
			fmt.Fprintf(w, "  %s: %d\n", o, counts[o])
		}
	}
	fmt.Fprintf(w, "  duration: %s\n", summary.Duration.Round(100*time.Millisecond))
}

func shortID(id string) string {
	return models.Commit{ID: id}.ShortID()
}
