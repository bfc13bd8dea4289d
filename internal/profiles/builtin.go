package profiles

import (
	"regexp"

	"github.com/fgeck/goswitch-backup/internal/models"
)

// noiseRules strip timestamps and counters that vary between captures on any vendor.
func noiseRules() []models.NormalizationRule {
	return []models.NormalizationRule{
		Remove("last-config-change", `(?i)^! Last configuration change at`),
		Remove("nvram-updated", `(?i)^! NVRAM config last updated at`),
		Remove("last-modified-by", `(?i)^! Configuration last modified by`),
		Remove("time-banner", `(?i)^!\s?Time:`),
		Remove("last-modified", `(?i)^! Last Modified:`),
		Remove("written", `(?i)^! Written:`),
		Remove("generated", `(?i)^! Generated`),
		Remove("created", `(?i)^! Created:`),
		Substitute("uptime", `(?i)\b((?:system )?uptime(?: is|:))\s*.*$`, "${1} <uptime>"),
		Remove("ntp-clock-period", `(?i)^ntp clock-period \d+$`),
		Remove("pid-comment", `(?i)^! PID:`),
		Remove("sn-comment", `(?i)^! SN:`),
	}
}

func withNoise(rules ...models.NormalizationRule) []models.NormalizationRule {
	return append(noiseRules(), rules...)
}

var startupMissing = []string{"not found", "does not exist", "not present", "no configuration"}

func ciscoRules(extra ...models.NormalizationRule) []models.NormalizationRule {
	rules := []models.NormalizationRule{
		Remove("building-configuration", `^Building configuration`),
		Remove("current-configuration-size", `^Current configuration ?: ?\d+ bytes$`),
	}
	return withNoise(append(rules, extra...)...)
}

func builtinProfiles() []models.DeviceProfile {
	return []models.DeviceProfile{
		{
			DeviceType:            "cisco_ios",
			RunningCommands:       []string{"show running-config"},
			StartupCommand:        "show startup-config",
			NormalizationRules:    ciscoRules(),
			MissingStartupMarkers: startupMissing,
		},
		{
			DeviceType:            "cisco_xe",
			RunningCommands:       []string{"show running-config"},
			StartupCommand:        "show startup-config",
			NormalizationRules:    ciscoRules(),
			MissingStartupMarkers: startupMissing,
		},
		{
			DeviceType:      "cisco_nxos",
			RunningCommands: []string{"show running-config"},
			StartupCommand:  "show startup-config",
			NormalizationRules: ciscoRules(
				Remove("nxos-command-banner", `^!Command: show (running|startup)-config`),
				Remove("nxos-running-config-time", `^!Running configuration last done at`),
				Remove("nxos-startup-config-time", `^!Startup config saved at`),
			),
			MissingStartupMarkers: startupMissing,
		},
		{
			DeviceType:      "cisco_asa",
			RunningCommands: []string{"show running-config"},
			StartupCommand:  "show startup-config",
			NormalizationRules: ciscoRules(
				Remove("asa-saved", `^: Saved$`),
				Remove("asa-written-by", `^: Written by`),
				Remove("asa-checksum", `^Cryptochecksum:`),
				Remove("asa-serial", `^: Serial Number:`),
			),
			MissingStartupMarkers: startupMissing,
		},
		{
			DeviceType:      "arista_eos",
			RunningCommands: []string{"show running-config"},
			StartupCommand:  "show startup-config",
			NormalizationRules: withNoise(
				Remove("eos-command-banner", `^! Command: show (running|startup)-config`),
				Remove("eos-startup-modified", `^! Startup-config last modified at`),
			),
			MissingStartupMarkers: startupMissing,
		},
		{
			// Junos has no separate startup configuration: the committed config is what boots.
			DeviceType:      "juniper_junos",
			RunningCommands: []string{"show configuration | no-more"},
			NormalizationRules: withNoise(
				Remove("junos-last-commit", `^## Last commit:`),
				Remove("junos-last-changed", `^## Last changed:`),
			),
			ErrorPatterns: []*regexp.Regexp{
				regexp.MustCompile(`(?m)^error: `),
			},
		},
		{
			DeviceType:      "hp_procurve",
			RunningCommands: []string{"show running-config"},
			StartupCommand:  "show config",
			NormalizationRules: withNoise(
				Remove("procurve-running-header", `^Running configuration:$`),
				Remove("procurve-startup-header", `^Startup configuration:`),
			),
			MissingStartupMarkers: startupMissing,
		},
		{
			DeviceType:            Generic,
			RunningCommands:       []string{"show running-config"},
			StartupCommand:        "show startup-config",
			NormalizationRules:    withNoise(),
			MissingStartupMarkers: startupMissing,
		},
	}
}
