package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/goswitch-backup/internal/profiles"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the inventory file without connecting to any switch.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := profiles.Default()
	for _, s := range cfg.Switches {
		if _, ok := registry.Lookup(s.DeviceType); !ok {
			log.Warn().
				Str("device", s.Name).
				Str("device_type", s.DeviceType).
				Msg("unknown device type, the generic profile will be used")
		}
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Repository:")
	fmt.Printf("  Path: %s\n", cfg.Repository.Path)
	fmt.Printf("  Remote: %s\n", cfg.Repository.Remote)
	fmt.Printf("  Auto push: %v\n", cfg.Repository.AutoPush)
	fmt.Println()
	fmt.Println("Retry Policy:")
	fmt.Printf("  Attempts: %d\n", cfg.Retry.Attempts)
	fmt.Printf("  Initial delay: %s\n", cfg.Retry.InitialDelay)
	fmt.Printf("  Max delay: %s\n", cfg.Retry.MaxDelay)
	fmt.Println()
	fmt.Printf("Switches (%d):\n", len(cfg.Switches))
	for _, s := range cfg.Switches {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %-24s %s:%d  %-14s %-8s %s\n",
			s.Name, s.Host, s.Port, s.DeviceType, state, strings.Join(s.Tags, ","))
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Known hosts: %v\n", cfg.SSH.KnownHostsFile != "")
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics != nil)

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.Metrics != nil {
		fmt.Println()
		fmt.Println("Metrics Configuration:")
		if cfg.Metrics.PushgatewayURL != "" {
			fmt.Printf("  Pushgateway: %s\n", cfg.Metrics.PushgatewayURL)
		}
		if cfg.Metrics.TextfilePath != "" {
			fmt.Printf("  Textfile: %s\n", cfg.Metrics.TextfilePath)
		}
	}

	return nil
}
