package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/fgeck/goswitch-backup/internal/services/git"
	"github.com/fgeck/goswitch-backup/internal/services/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultInventory = "inventory.yaml"

const sampleInventory = `repository:
  path: %q
  remote: origin
  auto_push: false
  author_name: goswitch-backup
  author_email: goswitch-backup@localhost
retry:
  attempts: 3
  initial_delay: 2s
  max_delay: 30s
defaults:
  username: admin
  password: ${SWITCH_PASSWORD}
  port: 22
  timeout: 30s
  command_timeout: 60s
  device_type: cisco_ios
switches:
  - name: core-sw1
    host: 10.0.0.1
    tags: [core]
# telegram:
#   bot_token: ${TELEGRAM_BOT_TOKEN}
#   chat_id: ${TELEGRAM_CHAT_ID}
# metrics:
#   pushgateway_url: http://localhost:9091
#   job: goswitch-backup
`

var initCmd = &cobra.Command{
	Use:   "init PATH",
	Short: "Create a backup repository and a sample inventory",
	Long: `Create the storage layout and git repository at PATH and write a sample
inventory to --config (default ./inventory.yaml) unless one already exists.
Running init again leaves an existing repository and inventory untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	inventory := configFile
	if inventory == "" {
		inventory = defaultInventory
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	created, err := initRepository(ctx, args[0], inventory)
	if err != nil {
		log.Error().Err(err).Str("path", args[0]).Msg("failed to initialize repository")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Repository ready at %s\n", args[0])
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Sample inventory written to %s\n", inventory)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Inventory %s already exists, left unchanged\n", inventory)
	}
	return nil
}

// initRepository prepares root for backups and reports whether a sample inventory was written.
func initRepository(ctx context.Context, root, inventory string) (bool, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}

	if err := storage.New(log.Logger, root).Init(); err != nil {
		return false, err
	}
	repo := models.RepositoryConfig{Path: root}
	if err := git.New(log.Logger, repo, storage.TempPattern).Init(ctx); err != nil {
		return false, err
	}

	f, err := os.OpenFile(inventory, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		log.Debug().Str("file", inventory).Msg("inventory already exists")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create inventory: %w", err)
	}
	if _, err := fmt.Fprintf(f, sampleInventory, root); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("failed to write inventory: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to write inventory: %w", err)
	}

	log.Info().Str("file", inventory).Msg("sample inventory written")
	return true, nil
}
