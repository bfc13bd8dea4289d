package main

import (
	"context"
	"fmt"

	"github.com/fgeck/goswitch-backup/internal/services/git"
	"github.com/fgeck/goswitch-backup/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	diffFrom string
	diffTo   string
)

var diffCmd = &cobra.Command{
	Use:   "diff SWITCH",
	Short: "Show configuration changes of a switch",
	Long: `Show the git diff of a switch's stored configuration.
Without --from the two most recent backups of the switch are compared.`,
	Args: cobra.ExactArgs(1),
	RunE: showDiff,
}

func init() {
	diffCmd.Flags().StringVar(&diffFrom, "from", "", "revision to compare from")
	diffCmd.Flags().StringVar(&diffTo, "to", "", "revision to compare to (default: the latest backup)")
}

func showDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	name := args[0]
	path := storage.DeviceDir(name)
	gitSvc := git.New(log.Logger, cfg.Repository)

	from, to := diffFrom, diffTo
	if from == "" {
		var ids []string
		for c, err := range gitSvc.History(ctx, path) {
			if err != nil {
				log.Error().Err(err).Str("device", name).Msg("failed to read history")
				return err
			}
			ids = append(ids, c.ID)
			if len(ids) == 2 {
				break
			}
		}
		if len(ids) < 2 {
			fmt.Printf("Fewer than two backups recorded for %s, nothing to compare\n", name)
			return nil
		}
		from, to = ids[1], ids[0]
	}

	out, err := gitSvc.Diff(ctx, from, to, path)
	if err != nil {
		log.Error().Err(err).Str("device", name).Msg("failed to diff")
		return err
	}

	if out == "" {
		fmt.Println("No differences")
		return nil
	}
	fmt.Print(out)
	return nil
}
