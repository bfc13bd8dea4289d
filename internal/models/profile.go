package models

import (
	"regexp"
	"time"
)

// ConfigKind names a configuration type retrieved from a switch.
type ConfigKind string

const (
	ConfigRunning ConfigKind = "running-config"
	ConfigStartup ConfigKind = "startup-config"
)

// NormalizationRule is applied to every line of a configuration.
// A Remove rule drops matching lines; otherwise matches are replaced with Replacement.
type NormalizationRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
	Remove      bool
}

// DeviceProfile bundles the vendor-specific commands and normalization rules for a device type.
type DeviceProfile struct {
	DeviceType            string
	RunningCommands       []string
	StartupCommand        string // empty if the vendor has no separate startup config
	NormalizationRules    []NormalizationRule
	ErrorPatterns         []*regexp.Regexp
	MissingStartupMarkers []string
}

// HasStartup reports whether the profile can retrieve a startup config.
func (p DeviceProfile) HasStartup() bool {
	return p.StartupCommand != ""
}

// RetrievedConfig is raw configuration text as returned by the switch.
type RetrievedConfig struct {
	Kind       ConfigKind
	Text       string
	CapturedAt time.Time
	Commands   []string
}

// NormalizedConfig is configuration text in canonical form.
type NormalizedConfig struct {
	Kind ConfigKind
	Text string
}
