// Package runner orchestrates the switch backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/fgeck/goswitch-backup/internal/profiles"
	"github.com/fgeck/goswitch-backup/internal/services/git"
	"github.com/fgeck/goswitch-backup/internal/services/metrics"
	"github.com/fgeck/goswitch-backup/internal/services/normalizer"
	"github.com/fgeck/goswitch-backup/internal/services/retriever"
	"github.com/fgeck/goswitch-backup/internal/services/ssh"
	"github.com/fgeck/goswitch-backup/internal/services/storage"
	"github.com/fgeck/goswitch-backup/internal/services/telegram"
	"github.com/rs/zerolog"
)

const commitFooter = "Automated backup by goswitch-backup"

// ErrBatchFailed reports that at least one switch in a batch failed.
var ErrBatchFailed = errors.New("one or more switches failed")

// Service defines the interface for the backup runner.
type Service interface {
	Prepare(ctx context.Context) error
	BackupOne(ctx context.Context, target models.SwitchTarget, dryRun bool) models.BackupResult
	BackupBatch(ctx context.Context, targets []models.SwitchTarget, tags []string, dryRun bool) models.BatchSummary
}

// Services bundles the collaborators of the runner.
type Services struct {
	SSH       ssh.Service
	Retriever retriever.Service
	Storage   storage.Service
	Git       git.Service
	Telegram  telegram.Service
	Metrics   metrics.Service
	Profiles  *profiles.Registry
}

// Impl implements the runner Service interface.
type Impl struct {
	svc    Services
	cfg    models.AppConfig
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new runner service for cfg.
func New(logger zerolog.Logger, cfg models.AppConfig) (*Impl, error) {
	sshSvc, err := ssh.New(logger, cfg.SSH, cfg.Retry)
	if err != nil {
		return nil, err
	}

	return NewWithServices(logger, cfg, Services{
		SSH:       sshSvc,
		Retriever: retriever.New(logger),
		Storage:   storage.New(logger, cfg.Repository.Path),
		Git:       git.New(logger, cfg.Repository, storage.TempPattern),
		Telegram:  telegram.New(logger),
		Metrics:   metrics.New(logger),
		Profiles:  profiles.Default(),
	}), nil
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(logger zerolog.Logger, cfg models.AppConfig, svc Services) *Impl {
	if svc.Profiles == nil {
		svc.Profiles = profiles.Default()
	}
	return &Impl{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Select returns the enabled targets carrying at least one of tags, in input order.
func Select(targets []models.SwitchTarget, tags []string) []models.SwitchTarget {
	var selected []models.SwitchTarget
	for _, t := range targets {
		if t.Enabled && t.MatchesTags(tags) {
			selected = append(selected, t)
		}
	}
	return selected
}

// Prepare initializes the storage root and the git repository.
func (s *Impl) Prepare(ctx context.Context) error {
	if err := s.svc.Storage.Init(); err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	if err := s.svc.Git.Init(ctx); err != nil {
		return fmt.Errorf("git init failed: %w", err)
	}
	return nil
}

// BackupBatch backs up the selected targets one after another. A failing switch
// never stops the batch; cancellation of ctx stops it from starting further switches.
func (s *Impl) BackupBatch(ctx context.Context, targets []models.SwitchTarget, tags []string, dryRun bool) models.BatchSummary {
	summary := models.BatchSummary{StartTime: s.now(), DryRun: dryRun}
	selected := Select(targets, tags)

	s.logger.Info().
		Int("switches", len(selected)).
		Strs("tags", tags).
		Bool("dry_run", dryRun).
		Msg("starting backup run")

	for _, target := range selected {
		if err := ctx.Err(); err != nil {
			s.logger.Warn().Str("device", target.Name).Msg("run cancelled, switch skipped")
			summary.Results = append(summary.Results, models.BackupResult{
				Name:   target.Name,
				DryRun: dryRun,
				Error:  models.NewError(models.KindConnection, target.Name, "skipped", err),
			})
			continue
		}

		result := s.BackupOne(ctx, target, dryRun)
		s.logResult(result)
		summary.Results = append(summary.Results, result)
	}

	summary.Duration = s.now().Sub(summary.StartTime)

	counts := summary.Counts()
	event := s.logger.Info()
	if summary.Failed() {
		event = s.logger.Warn()
	}
	for _, o := range models.Outcomes {
		if counts[o] > 0 {
			event = event.Int(string(o), counts[o])
		}
	}
	event.Dur("duration", summary.Duration).Msg("backup run completed")

	s.report(context.WithoutCancel(ctx), summary)

	return summary
}

func (s *Impl) logResult(r models.BackupResult) {
	event := s.logger.Info()
	if r.Failed() {
		event = s.logger.Error().Err(r.Error)
	}
	event.
		Str("device", r.Name).
		Str("outcome", string(r.Outcome())).
		Str("commit", r.CommitID).
		Dur("duration", r.Duration).
		Msg("switch processed")
}

// BackupOne backs up a single switch. It never panics and always closes the connection.
func (s *Impl) BackupOne(ctx context.Context, target models.SwitchTarget, dryRun bool) (result models.BackupResult) {
	start := s.now()
	result = models.BackupResult{Name: target.Name, DryRun: dryRun}
	logger := s.logger.With().Str("device", target.Name).Logger()

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("panic while backing up %s: %v", target.Name, r)
			logger.Error().Interface("panic", r).Msg("recovered from panic")
		}
		result.Duration = s.now().Sub(start)
	}()

	profile, known := s.svc.Profiles.Resolve(target.DeviceType)
	if !known {
		logger.Warn().
			Str("device_type", target.DeviceType).
			Str("profile", profile.DeviceType).
			Msg("unknown device type, using generic profile")
	}

	conn, err := s.svc.SSH.Connect(ctx, target)
	if err != nil {
		result.Error = err
		return result
	}
	result.Connected = true
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("failed to close connection")
		}
	}()

	configs, err := s.retrieve(ctx, conn, target, profile, logger)
	if err != nil {
		result.Error = err
		return result
	}

	meta, err := s.svc.Storage.Metadata(target.Name)
	if err != nil {
		result.Error = err
		return result
	}
	previous := meta.Configs

	for _, cfg := range configs {
		var changed bool
		if dryRun {
			changed, err = s.svc.Storage.Changed(target.Name, cfg)
		} else {
			changed, err = s.svc.Storage.Save(target.Info(), cfg)
		}
		if err != nil {
			result.Error = err
			return result
		}
		if changed {
			result.ChangedKinds = append(result.ChangedKinds, cfg.Kind)
		}
	}
	result.Changed = len(result.ChangedKinds) > 0

	if dryRun {
		if result.Changed {
			logger.Info().Interface("kinds", result.ChangedKinds).Msg("configuration would change")
		}
		return result
	}

	if !result.Changed {
		pending, err := s.svc.Git.Pending(ctx, storage.DeviceDir(target.Name))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to check for uncommitted changes")
		}
		if !pending {
			logger.Debug().Msg("configuration unchanged")
			return result
		}
		logger.Warn().Msg("committing changes left uncommitted by an earlier run")
		result.Changed = true
	}

	message := commitMessage(target.Name, previous, configs, result.ChangedKinds)
	id, err := s.svc.Git.Commit(ctx, message, storage.DeviceDir(target.Name))
	if err != nil {
		result.Error = models.NewError(models.KindGit, target.Name, "commit", err)
		return result
	}
	if id == "" {
		logger.Warn().Msg("stored configuration changed but git found nothing to commit")
		result.Changed = false
		result.ChangedKinds = nil
		return result
	}
	result.Committed = true
	result.CommitID = id

	if target.PushEnabled(s.cfg.Repository.AutoPush) {
		result.PushAttempted = true
		result.Pushed = s.svc.Git.Push(ctx, s.cfg.Repository.Remote)
	}

	return result
}

// retrieve fetches and normalizes the running config and, where available, the
// startup config. Startup failures are logged and the startup config skipped.
func (s *Impl) retrieve(
	ctx context.Context,
	conn ssh.Conn,
	target models.SwitchTarget,
	profile models.DeviceProfile,
	logger zerolog.Logger,
) ([]models.NormalizedConfig, error) {
	raw, err := s.svc.Retriever.FetchRunning(ctx, conn, target, profile)
	if err != nil {
		return nil, err
	}
	running, err := normalizer.Normalize(raw, profile)
	if err != nil {
		return nil, models.NewError(models.KindRetrieval, target.Name, "normalize running-config", err)
	}
	configs := []models.NormalizedConfig{running}

	startupRaw, err := s.svc.Retriever.FetchStartup(ctx, conn, target, profile)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Warn().Err(err).Msg("failed to retrieve startup-config, skipping it")
	case startupRaw != nil:
		startup, err := normalizer.Normalize(*startupRaw, profile)
		if err != nil {
			logger.Warn().Err(err).Msg("startup-config is empty after normalization, skipping it")
			break
		}
		configs = append(configs, startup)
	}

	return configs, nil
}

func commitMessage(
	name string,
	previous map[models.ConfigKind]models.StoredConfigRecord,
	configs []models.NormalizedConfig,
	changed []models.ConfigKind,
) string {
	var b strings.Builder

	if _, ok := previous[models.ConfigRunning]; ok {
		fmt.Fprintf(&b, "[%s] Configuration updated\n\n", name)
	} else {
		fmt.Fprintf(&b, "[%s] Initial backup\n\n", name)
	}

	if len(changed) == 0 {
		b.WriteString("- changes stored by an earlier run\n")
	}
	for _, kind := range changed {
		verb := "updated"
		if _, ok := previous[kind]; !ok {
			verb = "added"
		}
		lines := 0
		for _, cfg := range configs {
			if cfg.Kind == kind {
				lines = strings.Count(cfg.Text, "\n")
			}
		}
		fmt.Fprintf(&b, "- %s: %s (%d lines)\n", kind, verb, lines)
	}

	b.WriteString("\n" + commitFooter + "\n")
	return b.String()
}

func (s *Impl) report(ctx context.Context, summary models.BatchSummary) {
	if s.cfg.Telegram != nil && s.svc.Telegram != nil {
		msg := telegram.NewMessage(summary, s.cfg.Repository.Path)
		result, err := s.svc.Telegram.SendNotification(ctx, *s.cfg.Telegram, msg)
		if err == nil && result != nil {
			err = result.Error
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		} else {
			s.logger.Info().Msg("Telegram notification sent")
		}
	}

	if s.cfg.Metrics != nil && s.svc.Metrics != nil {
		if err := s.svc.Metrics.Publish(ctx, *s.cfg.Metrics, summary); err != nil {
			s.logger.Error().Err(err).Msg("failed to publish metrics")
		}
	}
}
