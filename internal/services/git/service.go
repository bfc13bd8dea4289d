package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/rs/zerolog"
)

const (
	defaultRemote      = "origin"
	defaultAuthorName  = "goswitch-backup"
	defaultAuthorEmail = "goswitch-backup@localhost"

	historyPageSize = 50
	pushAttempts    = 3

	logFieldSep = "\x1f"
	logFormat   = "--format=%H%x1f%an%x1f%aI%x1f%s"
)

// Service defines the interface for git repository operations.
type Service interface {
	Init(ctx context.Context) error
	Commit(ctx context.Context, message string, paths ...string) (string, error)
	Pending(ctx context.Context, path string) (bool, error)
	Push(ctx context.Context, remote string) bool
	History(ctx context.Context, path string) iter.Seq2[models.Commit, error]
	Diff(ctx context.Context, from, to, path string) (string, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command in dir with additional environment variables and returns its
// standard output. Standard error is appended to the returned error.
func (e *DefaultExecutor) Execute(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Impl implements the Service interface.
type Impl struct {
	executor  CommandExecutor
	repo      models.RepositoryConfig
	excludes  []string
	pushDelay time.Duration
	logger    zerolog.Logger
}

// New creates a new git service for the repository at repo.Path.
// excludes are written to .git/info/exclude when the repository is created.
func New(logger zerolog.Logger, repo models.RepositoryConfig, excludes ...string) *Impl {
	return NewWithExecutor(logger, repo, &DefaultExecutor{}, excludes...)
}

// NewWithExecutor creates a new git service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, repo models.RepositoryConfig, executor CommandExecutor, excludes ...string) *Impl {
	if repo.Remote == "" {
		repo.Remote = defaultRemote
	}
	if repo.AuthorName == "" {
		repo.AuthorName = defaultAuthorName
	}
	if repo.AuthorEmail == "" {
		repo.AuthorEmail = defaultAuthorEmail
	}
	return &Impl{
		executor:  executor,
		repo:      repo,
		excludes:  excludes,
		pushDelay: time.Second,
		logger:    logger,
	}
}

func (s *Impl) env() []string {
	return []string{
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME=" + s.repo.AuthorName,
		"GIT_AUTHOR_EMAIL=" + s.repo.AuthorEmail,
		"GIT_COMMITTER_NAME=" + s.repo.AuthorName,
		"GIT_COMMITTER_EMAIL=" + s.repo.AuthorEmail,
	}
}

func (s *Impl) git(ctx context.Context, args ...string) (string, error) {
	out, err := s.executor.Execute(ctx, s.repo.Path, s.env(), "git", args...)
	return string(out), err
}

// Init creates the repository with an initial empty commit unless it already exists.
func (s *Impl) Init(ctx context.Context) error {
	gitDir := filepath.Join(s.repo.Path, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		s.logger.Debug().Str("path", s.repo.Path).Msg("git repository already initialized")
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return models.NewError(models.KindGit, "", "init", err)
	}

	s.logger.Info().Str("path", s.repo.Path).Msg("initializing git repository")

	if err := os.MkdirAll(s.repo.Path, 0o750); err != nil {
		return models.NewError(models.KindGit, "", "init", err)
	}
	if out, err := s.git(ctx, "init"); err != nil {
		return models.NewError(models.KindGit, "", "init", fmt.Errorf("git init failed: %w, output: %s", err, out))
	}
	identity := [][2]string{{"user.name", s.repo.AuthorName}, {"user.email", s.repo.AuthorEmail}}
	for _, kv := range identity {
		if _, err := s.git(ctx, "config", kv[0], kv[1]); err != nil {
			return models.NewError(models.KindGit, "", "init", fmt.Errorf("failed to set %s: %w", kv[0], err))
		}
	}
	if err := s.writeExcludes(gitDir); err != nil {
		return models.NewError(models.KindGit, "", "init", err)
	}
	if _, err := s.git(ctx, "commit", "--allow-empty", "-q", "-m", "Initial commit"); err != nil {
		return models.NewError(models.KindGit, "", "init", fmt.Errorf("initial commit failed: %w", err))
	}

	s.logger.Info().Msg("git repository initialized")
	return nil
}

func (s *Impl) writeExcludes(gitDir string) error {
	if len(s.excludes) == 0 {
		return nil
	}
	dir := filepath.Join(gitDir, "info")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "exclude"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open exclude file: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(strings.Join(s.excludes, "\n") + "\n")
	return err
}

// Commit stages every change below paths (the whole working tree when empty)
// and commits it. It returns the new commit id, or "" when nothing was staged.
func (s *Impl) Commit(ctx context.Context, message string, paths ...string) (string, error) {
	// Changes staged outside paths, e.g. by another switch whose commit failed,
	// stay staged for their own commit.
	add := []string{"add", "-A"}
	diff := []string{"diff", "--cached", "--name-only"}
	commit := []string{"commit", "-q", "-m", message}
	if len(paths) > 0 {
		add = append(append(add, "--"), paths...)
		diff = append(append(diff, "--"), paths...)
		commit = append(append(commit, "--"), paths...)
	}
	if _, err := s.git(ctx, add...); err != nil {
		return "", models.NewError(models.KindGit, "", "stage changes", err)
	}

	staged, err := s.git(ctx, diff...)
	if err != nil {
		return "", models.NewError(models.KindGit, "", "list staged changes", err)
	}
	if strings.TrimSpace(staged) == "" {
		s.logger.Debug().Msg("nothing to commit")
		return "", nil
	}

	if _, err := s.git(ctx, commit...); err != nil {
		return "", models.NewError(models.KindGit, "", "commit", err)
	}

	head, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", models.NewError(models.KindGit, "", "resolve HEAD", err)
	}
	id := strings.TrimSpace(head)

	s.logger.Info().
		Str("commit", id).
		Int("files", len(strings.Fields(staged))).
		Msg("created commit")

	return id, nil
}

// Pending reports whether path has uncommitted changes, such as files stored by a
// run whose commit failed.
func (s *Impl) Pending(ctx context.Context, path string) (bool, error) {
	out, err := s.git(ctx, "status", "--porcelain", "--", path)
	if err != nil {
		return false, models.NewError(models.KindGit, "", "status", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Push pushes HEAD to remote. Failures are logged and reported as false;
// local commits are kept either way.
func (s *Impl) Push(ctx context.Context, remote string) bool {
	if remote == "" {
		remote = s.repo.Remote
	}

	if _, err := s.git(ctx, "remote", "get-url", remote); err != nil {
		s.logger.Warn().Str("remote", remote).Msg("git remote not configured, skipping push")
		return false
	}

	err := retry.Do(
		func() error {
			_, err := s.git(ctx, "push", "-q", remote, "HEAD")
			return err
		},
		retry.Context(ctx),
		retry.Attempts(pushAttempts),
		retry.Delay(s.pushDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			msg := err.Error()
			return !strings.Contains(msg, "[rejected]") && !strings.Contains(msg, "non-fast-forward")
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Err(err).Str("remote", remote).Uint("attempt", n+1).Msg("push attempt failed")
		}),
	)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", remote).Msg("push failed, commits kept locally")
		return false
	}

	s.logger.Info().Str("remote", remote).Msg("pushed to remote")
	return true
}

// History returns the commits touching path, newest first. Commits are read
// from git in pages as the sequence is consumed. An empty path selects all commits.
func (s *Impl) History(ctx context.Context, path string) iter.Seq2[models.Commit, error] {
	return func(yield func(models.Commit, error) bool) {
		for skip := 0; ; skip += historyPageSize {
			args := []string{
				"log",
				"--max-count=" + strconv.Itoa(historyPageSize),
				"--skip=" + strconv.Itoa(skip),
				logFormat,
			}
			if path != "" {
				args = append(args, "--", path)
			}

			out, err := s.git(ctx, args...)
			if err != nil {
				yield(models.Commit{}, models.NewError(models.KindGit, "", "log", err))
				return
			}

			commits, err := parseLog(out)
			if err != nil {
				yield(models.Commit{}, models.NewError(models.KindGit, "", "log", err))
				return
			}
			for _, c := range commits {
				if !yield(c, nil) {
					return
				}
			}
			if len(commits) < historyPageSize {
				return
			}
		}
	}
}

func parseLog(out string) ([]models.Commit, error) {
	var commits []models.Commit
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, logFieldSep, 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected log line %q", line)
		}
		ts, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse commit time %q: %w", fields[2], err)
		}
		commits = append(commits, models.Commit{
			ID:      fields[0],
			Author:  fields[1],
			Time:    ts,
			Subject: fields[3],
		})
	}
	return commits, nil
}

// Diff returns the unified diff of path between two revisions. An empty to
// compares against the working tree.
func (s *Impl) Diff(ctx context.Context, from, to, path string) (string, error) {
	args := []string{"diff", from}
	if to != "" {
		args = append(args, to)
	}
	if path != "" {
		args = append(args, "--", path)
	}

	out, err := s.git(ctx, args...)
	if err != nil {
		return "", models.NewError(models.KindGit, "", "diff", err)
	}
	return out, nil
}
