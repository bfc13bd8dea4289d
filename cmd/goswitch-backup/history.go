package main

import (
	"context"
	"fmt"

	"github.com/fgeck/goswitch-backup/internal/services/git"
	"github.com/fgeck/goswitch-backup/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history SWITCH",
	Short: "Show the backup history of a switch",
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of commits to show (0 for all)")
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	name := args[0]
	gitSvc := git.New(log.Logger, cfg.Repository)

	shown := 0
	for c, err := range gitSvc.History(context.Background(), storage.DeviceDir(name)) {
		if err != nil {
			log.Error().Err(err).Str("device", name).Msg("failed to read history")
			return err
		}
		fmt.Printf("%s  %s  %-20s %s\n", c.ShortID(), c.Time.Format("2006-01-02 15:04"), c.Author, c.Subject)
		shown++
		if historyLimit > 0 && shown >= historyLimit {
			break
		}
	}

	if shown == 0 {
		fmt.Printf("No backups recorded for %s\n", name)
	}
	return nil
}
