// Package config provides inventory file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	defaultPort           = 22
	defaultTimeout        = 30 * time.Second
	defaultCommandTimeout = 60 * time.Second
	defaultDeviceType     = "generic"
	defaultRemote         = "origin"
)

// Parser handles inventory file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	// Parse repository settings (required).
	cfg.Repository = models.RepositoryConfig{
		Path:        expandPath(p.v.GetString("repository.path")),
		Remote:      p.v.GetString("repository.remote"),
		AutoPush:    p.v.GetBool("repository.auto_push"),
		AuthorName:  p.v.GetString("repository.author_name"),
		AuthorEmail: p.v.GetString("repository.author_email"),
	}
	if cfg.Repository.Path == "" {
		return nil, fmt.Errorf("repository.path is required")
	}
	if cfg.Repository.Remote == "" {
		cfg.Repository.Remote = defaultRemote
	}

	// Parse retry policy, falling back to the default per field.
	cfg.Retry = models.DefaultRetryPolicy()
	if p.v.IsSet("retry.attempts") {
		attempts, err := cast.ToIntE(p.v.Get("retry.attempts"))
		if err != nil {
			return nil, fmt.Errorf("retry.attempts: %w", err)
		}
		cfg.Retry.Attempts = attempts
	}
	for key, dst := range map[string]*time.Duration{
		"retry.initial_delay": &cfg.Retry.InitialDelay,
		"retry.max_delay":     &cfg.Retry.MaxDelay,
		"retry.jitter":        &cfg.Retry.Jitter,
	} {
		if !p.v.IsSet(key) {
			continue
		}
		d, err := toDuration(p.v.Get(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	cfg.SSH = models.SSHSettings{
		KnownHostsFile: expandPath(p.v.GetString("ssh.known_hosts")),
	}

	// Parse switches; every entry inherits unset fields from defaults.
	defaults := lowerKeys(p.v.GetStringMap("defaults"))
	var entries []any
	if raw := p.v.Get("switches"); raw != nil {
		var err error
		if entries, err = cast.ToSliceE(raw); err != nil {
			return nil, fmt.Errorf("switches must be a list: %w", err)
		}
	}
	for i, entry := range entries {
		fields, err := cast.ToStringMapE(entry)
		if err != nil {
			return nil, fmt.Errorf("switches[%d] must be a mapping: %w", i, err)
		}
		target, err := parseSwitch(merge(defaults, lowerKeys(fields)))
		if err != nil {
			return nil, fmt.Errorf("switches[%d]: %w", i, err)
		}
		cfg.Switches = append(cfg.Switches, target)
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: os.ExpandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   os.ExpandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse optional metrics config.
	if p.v.IsSet("metrics") {
		cfg.Metrics = &models.MetricsConfig{
			PushgatewayURL: os.ExpandEnv(p.v.GetString("metrics.pushgateway_url")),
			Job:            p.v.GetString("metrics.job"),
			TextfilePath:   expandPath(p.v.GetString("metrics.textfile")),
		}

		if cfg.Metrics.PushgatewayURL == "" && cfg.Metrics.TextfilePath == "" {
			return nil, fmt.Errorf("metrics.pushgateway_url or metrics.textfile is required when metrics is configured")
		}
	}

	return cfg, nil
}

func parseSwitch(fields map[string]any) (models.SwitchTarget, error) {
	t := models.SwitchTarget{
		Name:       cast.ToString(fields["name"]),
		Host:       cast.ToString(fields["host"]),
		Port:       defaultPort,
		Timeout:    defaultTimeout,
		DeviceType: defaultDeviceType,
		Enabled:    true,
		Credentials: models.Credentials{
			Username:      os.ExpandEnv(cast.ToString(fields["username"])),
			Password:      os.ExpandEnv(cast.ToString(fields["password"])),
			KeyPath:       expandPath(cast.ToString(fields["key_path"])),
			KeyPassphrase: os.ExpandEnv(cast.ToString(fields["key_passphrase"])),
		},
		CommandTimeout: defaultCommandTimeout,
	}

	var err error
	if v, ok := fields["port"]; ok {
		if t.Port, err = cast.ToIntE(v); err != nil {
			return t, fmt.Errorf("port: %w", err)
		}
	}
	if v, ok := fields["timeout"]; ok {
		if t.Timeout, err = toDuration(v); err != nil {
			return t, fmt.Errorf("timeout: %w", err)
		}
	}
	if v, ok := fields["command_timeout"]; ok {
		if t.CommandTimeout, err = toDuration(v); err != nil {
			return t, fmt.Errorf("command_timeout: %w", err)
		}
	}
	if v := cast.ToString(fields["device_type"]); v != "" {
		t.DeviceType = strings.ToLower(v)
	}
	if v, ok := fields["enabled"]; ok {
		if t.Enabled, err = cast.ToBoolE(v); err != nil {
			return t, fmt.Errorf("enabled: %w", err)
		}
	}
	if v, ok := fields["tags"]; ok {
		if t.Tags, err = cast.ToStringSliceE(v); err != nil {
			return t, fmt.Errorf("tags: %w", err)
		}
	}
	if v, ok := fields["auto_push"]; ok {
		push, err := cast.ToBoolE(v)
		if err != nil {
			return t, fmt.Errorf("auto_push: %w", err)
		}
		t.AutoPush = &push
	}
	if v, ok := fields["legacy_algorithms"]; ok {
		if t.LegacyAlgorithms, err = cast.ToBoolE(v); err != nil {
			return t, fmt.Errorf("legacy_algorithms: %w", err)
		}
	}

	return t, nil
}

// toDuration accepts Go duration strings ("90s", "2m") and plain numbers of seconds.
func toDuration(v any) (time.Duration, error) {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %v", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// expandPath expands environment variables and a leading "~/".
func expandPath(s string) string {
	s = os.ExpandEnv(s)
	if strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[2:])
		}
	}
	return s
}

// Validate performs validation on the loaded configuration and reports every problem found.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []error
	if cfg.Repository.Path == "" {
		errs = append(errs, fmt.Errorf("repository.path is required"))
	}
	if cfg.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1"))
	}
	if len(cfg.Switches) == 0 {
		errs = append(errs, fmt.Errorf("at least one switch is required"))
	}

	seen := make(map[string]bool, len(cfg.Switches))
	for i, t := range cfg.Switches {
		label := fmt.Sprintf("switches[%d]", i)
		if t.Name != "" {
			label = fmt.Sprintf("switch %q", t.Name)
		}

		if err := models.ValidateDeviceName(t.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		} else if seen[t.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		seen[t.Name] = true

		if t.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required", label))
		}
		if t.Port < 1 || t.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: port %d out of range", label, t.Port))
		}
		if t.Credentials.Username == "" {
			errs = append(errs, fmt.Errorf("%s: username is required", label))
		}
		if t.Credentials.Password == "" && t.Credentials.KeyPath == "" && len(t.Credentials.PrivateKey) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", label, models.ErrNoCredentials))
		}
		if t.Timeout <= 0 || t.CommandTimeout <= 0 {
			errs = append(errs, fmt.Errorf("%s: timeouts must be positive", label))
		}
	}

	return errors.Join(errs...)
}
