package main

import (
	"fmt"
	"strings"

	"github.com/fgeck/goswitch-backup/internal/profiles"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List supported device types",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := profiles.Default()
		for _, deviceType := range registry.Types() {
			p, _ := registry.Lookup(deviceType)
			startup := p.StartupCommand
			if !p.HasStartup() {
				startup = "-"
			}
			fmt.Printf("%-14s running: %-34s startup: %-22s rules: %d\n",
				deviceType, strings.Join(p.RunningCommands, "; "), startup, len(p.NormalizationRules))
		}
		return nil
	},
}
