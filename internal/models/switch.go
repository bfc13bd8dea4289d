package models

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

var deviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Credentials holds the login for one switch. Either Password or a key is required.
type Credentials struct {
	Username      string
	Password      string
	KeyPath       string
	KeyPassphrase string
	PrivateKey    []byte // loaded from KeyPath when nil
}

// SwitchTarget describes one device to back up.
type SwitchTarget struct {
	Name             string
	Host             string
	Port             int
	Credentials      Credentials
	Timeout          time.Duration // connect and handshake timeout
	CommandTimeout   time.Duration
	DeviceType       string
	Enabled          bool
	Tags             []string
	AutoPush         *bool // nil inherits the repository default
	LegacyAlgorithms bool
}

// MatchesTags reports whether the target carries at least one of the given tags.
// An empty filter matches every target.
func (t SwitchTarget) MatchesTags(filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, tag := range filter {
		if slices.Contains(t.Tags, tag) {
			return true
		}
	}
	return false
}

// PushEnabled resolves the per-switch auto-push override against the repository default.
func (t SwitchTarget) PushEnabled(repositoryDefault bool) bool {
	if t.AutoPush != nil {
		return *t.AutoPush
	}
	return repositoryDefault
}

// Info returns the identity recorded next to the target's stored configs.
func (t SwitchTarget) Info() DeviceInfo {
	return DeviceInfo{Name: t.Name, Host: t.Host, DeviceType: t.DeviceType}
}

// ValidateDeviceName checks that a switch name is usable as a directory name.
func ValidateDeviceName(name string) error {
	if !deviceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid switch name %q: must match %s", name, deviceNamePattern.String())
	}
	return nil
}
