package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/fgeck/goswitch-backup/internal/services/ssh"
	"github.com/rs/zerolog"
)

// Executor runs a command on a connected switch.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Service defines the interface for retrieving raw configurations.
type Service interface {
	FetchRunning(ctx context.Context, exec Executor, target models.SwitchTarget, profile models.DeviceProfile) (models.RetrievedConfig, error)
	FetchStartup(ctx context.Context, exec Executor, target models.SwitchTarget, profile models.DeviceProfile) (*models.RetrievedConfig, error)
}

// Impl implements the retriever Service interface.
type Impl struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new retriever service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClock(logger, time.Now)
}

// NewWithClock creates a new retriever service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, now func() time.Time) *Impl {
	return &Impl{logger: logger, now: now}
}

// FetchRunning runs the profile's running-config commands in order and joins their output.
func (s *Impl) FetchRunning(ctx context.Context, exec Executor, target models.SwitchTarget, profile models.DeviceProfile) (models.RetrievedConfig, error) {
	if len(profile.RunningCommands) == 0 {
		return models.RetrievedConfig{}, models.NewError(models.KindRetrieval, target.Name, "fetch running-config",
			fmt.Errorf("profile %s has no running-config command", profile.DeviceType))
	}

	captured := s.now()
	var parts []string
	for _, command := range profile.RunningCommands {
		out, err := s.run(ctx, exec, target, profile, command)
		if err != nil {
			return models.RetrievedConfig{}, err
		}
		parts = append(parts, out)
	}

	text := strings.Join(parts, "\n")
	s.logger.Debug().
		Str("device", target.Name).
		Int("bytes", len(text)).
		Msg("retrieved running-config")

	return models.RetrievedConfig{
		Kind:       models.ConfigRunning,
		Text:       text,
		CapturedAt: captured,
		Commands:   profile.RunningCommands,
	}, nil
}

// FetchStartup retrieves the startup config. It returns nil without error when the
// device type has no separate startup config or the device reports none stored.
func (s *Impl) FetchStartup(ctx context.Context, exec Executor, target models.SwitchTarget, profile models.DeviceProfile) (*models.RetrievedConfig, error) {
	if !profile.HasStartup() {
		return nil, nil
	}

	captured := s.now()
	out, err := s.run(ctx, exec, target, profile, profile.StartupCommand)
	if err != nil {
		return nil, err
	}

	if startupMissing(out, profile.MissingStartupMarkers) {
		s.logger.Info().Str("device", target.Name).Msg("device reports no startup-config")
		return nil, nil
	}

	return &models.RetrievedConfig{
		Kind:       models.ConfigStartup,
		Text:       out,
		CapturedAt: captured,
		Commands:   []string{profile.StartupCommand},
	}, nil
}

func (s *Impl) run(ctx context.Context, exec Executor, target models.SwitchTarget, profile models.DeviceProfile, command string) (string, error) {
	s.logger.Debug().Str("device", target.Name).Str("command", command).Msg("running command")

	out, err := exec.Execute(ctx, command, target.CommandTimeout)
	if err != nil {
		var be *models.BackupError
		if errors.As(err, &be) {
			return "", err
		}
		return "", models.NewError(models.KindRetrieval, target.Name, command, err)
	}

	if line, ok := ssh.MatchBanner(out, profile.ErrorPatterns); ok {
		return "", models.NewError(models.KindRetrieval, target.Name, command,
			fmt.Errorf("%w: %s", models.ErrCommandRejected, line))
	}

	return out, nil
}

// Missing-startup markers only count on short outputs; a real config may mention them.
const missingStartupMaxLines = 3

func startupMissing(out string, markers []string) bool {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return true
	}
	if strings.Count(trimmed, "\n") >= missingStartupMaxLines {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
