package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fgeck/goswitch-backup/internal/config"
	"github.com/fgeck/goswitch-backup/internal/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRepository_Idempotent(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	ctx := context.Background()
	dir := t.TempDir()
	root := filepath.Join(dir, "configs")
	inventory := filepath.Join(dir, "inventory.yaml")

	created, err := initRepository(ctx, root, inventory)
	require.NoError(t, err)
	assert.True(t, created)

	first, err := os.ReadFile(inventory)
	require.NoError(t, err)
	info, err := os.Stat(inventory)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	created, err = initRepository(ctx, root, inventory)
	require.NoError(t, err)
	assert.False(t, created)

	second, err := os.ReadFile(inventory)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	assert.DirExists(t, filepath.Join(root, storage.SwitchesDir))

	count, err := exec.Command("git", "-C", root, "rev-list", "--count", "HEAD").Output()
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(string(count)))

	exclude, err := os.ReadFile(filepath.Join(root, ".git", "info", "exclude"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(exclude), storage.TempPattern))

	cfg, err := config.NewParser().LoadFile(inventory)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Repository.Path)
	require.Len(t, cfg.Switches, 1)
	assert.Equal(t, "core-sw1", cfg.Switches[0].Name)
	assert.Equal(t, "cisco_ios", cfg.Switches[0].DeviceType)
	assert.Equal(t, []string{"core"}, cfg.Switches[0].Tags)
}

func TestInitRepository_KeepsExistingInventory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	dir := t.TempDir()
	inventory := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(inventory, []byte("repository:\n  path: /srv/configs\n"), 0o600))

	created, err := initRepository(context.Background(), filepath.Join(dir, "configs"), inventory)
	require.NoError(t, err)
	assert.False(t, created)

	content, err := os.ReadFile(inventory)
	require.NoError(t, err)
	assert.Equal(t, "repository:\n  path: /srv/configs\n", string(content))
}
