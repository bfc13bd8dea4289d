// Package models contains the data structures used throughout goswitch-backup.
package models

import "time"

// AppConfig holds the complete configuration for a backup run.
type AppConfig struct {
	Repository RepositoryConfig
	Retry      RetryPolicy
	SSH        SSHSettings
	Switches   []SwitchTarget
	Telegram   *TelegramConfig // nil if not configured
	Metrics    *MetricsConfig  // nil if not configured
}

// RepositoryConfig holds the storage root and its git settings.
type RepositoryConfig struct {
	Path        string // storage root, also the git working tree
	Remote      string // remote name used for push, e.g. "origin"
	AutoPush    bool   // default for switches without an override
	AuthorName  string
	AuthorEmail string
}

// RetryPolicy controls connection retries.
type RetryPolicy struct {
	Attempts     int           // total connection attempts, including the first
	InitialDelay time.Duration // delay before the second attempt, doubled afterwards
	MaxDelay     time.Duration
	Jitter       time.Duration // 0 disables jitter
}

// SSHSettings holds SSH settings shared by all switches.
type SSHSettings struct {
	KnownHostsFile string // empty accepts any host key
}

// MetricsConfig holds batch metrics publication settings.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
	TextfilePath   string // node_exporter textfile collector output
}

// DefaultRetryPolicy returns the connection retry policy used when none is configured:
// three attempts with 2s and 4s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}
