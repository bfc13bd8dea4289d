package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/fgeck/goswitch-backup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 30 * time.Second
	defaultCommandTimeout = 60 * time.Second

	// Error banners are only looked for in the first lines of output so that
	// configuration text quoting them (banners, descriptions) is not rejected.
	bannerScanLines = 5
)

// State is the lifecycle state of a switch connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var errorBanners = []*regexp.Regexp{
	regexp.MustCompile(`^\s*% ?(Invalid|Incomplete|Ambiguous|Unknown|Unrecognized) (input|command)`),
	regexp.MustCompile(`(?i)^\s*(error: )?unknown command`),
	regexp.MustCompile(`(?i)^\s*syntax error`),
	regexp.MustCompile(`(?i)^\s*invalid input:`),
	regexp.MustCompile(`(?i)^\s*% ?permission denied`),
}

// Service defines the interface for switch SSH connections.
type Service interface {
	Connect(ctx context.Context, target models.SwitchTarget) (Conn, error)
}

// Conn is an authenticated session to one switch.
type Conn interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
	State() State
	Close() error
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(ctx context.Context, network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient dials addr and performs the SSH handshake. config.Timeout bounds both.
func (f *DefaultClientFactory) NewClient(ctx context.Context, network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if config.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(config.Timeout)); err != nil {
			conn.Close()
			return nil, err
		}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}

	return &defaultSSHClient{client: ssh.NewClient(c, chans, reqs)}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory   ClientFactory
	hostKeyCallback ssh.HostKeyCallback
	policy          models.RetryPolicy
	timer           retry.Timer // nil waits in real time
	logger          zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger, settings models.SSHSettings, policy models.RetryPolicy) (*Impl, error) {
	return NewWithClientFactory(logger, settings, policy, &DefaultClientFactory{})
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, settings models.SSHSettings, policy models.RetryPolicy, factory ClientFactory) (*Impl, error) {
	callback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in verification via known_hosts
	if settings.KnownHostsFile != "" {
		var err error
		callback, err = knownhosts.New(settings.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", settings.KnownHostsFile, err)
		}
	}

	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	return &Impl{
		clientFactory:   factory,
		hostKeyCallback: callback,
		policy:          policy,
		logger:          logger,
	}, nil
}

func (s *Impl) buildConfig(target models.SwitchTarget) (*ssh.ClientConfig, error) {
	creds := target.Credentials

	var auth []ssh.AuthMethod

	key := creds.PrivateKey
	if len(key) == 0 && creds.KeyPath != "" {
		var err error
		key, err = os.ReadFile(creds.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", creds.KeyPath, err)
		}
	}
	if len(key) > 0 {
		var signer ssh.Signer
		var err error
		if creds.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(creds.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if creds.Password != "" {
		password := creds.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auth) == 0 {
		return nil, models.ErrNoCredentials
	}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	config := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: s.hostKeyCallback,
		Timeout:         timeout,
	}

	if target.LegacyAlgorithms {
		supported := ssh.SupportedAlgorithms()
		insecure := ssh.InsecureAlgorithms()
		config.KeyExchanges = slices.Concat(supported.KeyExchanges, insecure.KeyExchanges)
		config.Ciphers = slices.Concat(supported.Ciphers, insecure.Ciphers)
		config.MACs = slices.Concat(supported.MACs, insecure.MACs)
		config.HostKeyAlgorithms = slices.Concat(supported.HostKeys, insecure.HostKeys)
	}

	return config, nil
}

// Connect opens an authenticated connection to target, retrying transport failures
// with exponential backoff. Authentication failures are returned after one attempt.
func (s *Impl) Connect(ctx context.Context, target models.SwitchTarget) (Conn, error) {
	sshConfig, err := s.buildConfig(target)
	if err != nil {
		return nil, models.NewError(models.KindAuthentication, target.Name, "load credentials", err)
	}

	port := target.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	conn := &connection{
		name:   target.Name,
		state:  StateConnecting,
		logger: s.logger.With().Str("device", target.Name).Logger(),
	}

	s.logger.Info().
		Str("device", target.Name).
		Str("host", target.Host).
		Int("port", port).
		Str("user", target.Credentials.Username).
		Msg("connecting to switch")

	var (
		attempts int
		lastErr  error
	)
	err = retry.Do(
		func() error {
			attempts++
			client, err := s.clientFactory.NewClient(ctx, "tcp", addr, sshConfig)
			if err != nil {
				lastErr = err
				return err
			}
			conn.client = client
			return nil
		},
		s.retryOptions(ctx, target.Name)...,
	)
	if err != nil {
		conn.setState(StateDisconnected)
		if lastErr == nil {
			lastErr = err
		}
		kind := models.KindConnection
		if isAuthError(lastErr) {
			kind = models.KindAuthentication
		}
		s.logger.Error().
			Err(lastErr).
			Str("device", target.Name).
			Int("attempts", attempts).
			Msg("failed to connect to switch")
		return nil, models.NewError(kind, target.Name, fmt.Sprintf("connect to %s (%d attempts)", addr, attempts), lastErr)
	}

	conn.setState(StateConnected)
	s.logger.Debug().
		Str("device", target.Name).
		Int("attempts", attempts).
		Msg("connected to switch")

	return conn, nil
}

func (s *Impl) retryOptions(ctx context.Context, device string) []retry.Option {
	delayType := retry.BackOffDelay
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(s.policy.Attempts)),
		retry.Delay(s.policy.InitialDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !isAuthError(err) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().
				Err(err).
				Str("device", device).
				Uint("attempt", n+1).
				Int("max_attempts", s.policy.Attempts).
				Msg("connection attempt failed")
		}),
	}
	if s.policy.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(s.policy.MaxDelay))
	}
	if s.policy.Jitter > 0 {
		delayType = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
		opts = append(opts, retry.MaxJitter(s.policy.Jitter))
	}
	if s.timer != nil {
		opts = append(opts, retry.WithTimer(s.timer))
	}
	return append(opts, retry.DelayType(delayType))
}

// isAuthError reports whether err means the server rejected the credentials or
// the credentials could not be loaded. Retrying such errors cannot succeed.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrNoCredentials) {
		return true
	}
	var pkErr *ssh.PassphraseMissingError
	if errors.As(err, &pkErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

type connection struct {
	name   string
	logger zerolog.Logger

	mu     sync.Mutex
	client SSHClient
	state  State
}

func (c *connection) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// State returns the current connection state.
func (c *connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close closes the connection. It is safe to call more than once.
func (c *connection) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	c.logger.Debug().Msg("closing connection")
	return client.Close()
}

// Execute runs one command in a fresh exec session and returns its output.
func (c *connection) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	client, state := c.client, c.state
	c.mu.Unlock()

	if state != StateConnected || client == nil {
		return "", models.NewError(models.KindRetrieval, c.name, command, models.ErrNotConnected)
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	session, err := client.NewSession()
	if err != nil {
		return "", models.NewError(models.KindRetrieval, c.name, command, fmt.Errorf("failed to create session: %w", err))
	}
	defer session.Close()

	c.logger.Debug().Str("command", command).Dur("timeout", timeout).Msg("executing command")

	type output struct {
		data []byte
		err  error
	}
	done := make(chan output, 1)
	go func() {
		data, err := session.CombinedOutput(command)
		done <- output{data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		session.Close()
		return "", models.NewError(models.KindRetrieval, c.name, command, ctx.Err())
	case <-timer.C:
		session.Close()
		return "", models.NewError(models.KindRetrieval, c.name, command,
			fmt.Errorf("%w after %s", models.ErrCommandTimeout, timeout))
	case res := <-done:
		text := string(res.data)
		if res.err != nil {
			var missing *ssh.ExitMissingError
			if !errors.As(res.err, &missing) {
				return text, models.NewError(models.KindRetrieval, c.name, command, fmt.Errorf("command failed: %w", res.err))
			}
			c.logger.Debug().Str("command", command).Msg("command finished without exit status")
		}
		if line, ok := MatchBanner(text, errorBanners); ok {
			return text, models.NewError(models.KindRetrieval, c.name, command,
				fmt.Errorf("%w: %s", models.ErrCommandRejected, line))
		}
		return text, nil
	}
}

// MatchBanner reports the first line among the leading non-empty lines of output
// that matches one of patterns.
func MatchBanner(output string, patterns []*regexp.Regexp) (string, bool) {
	scanned := 0
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, p := range patterns {
			if p.MatchString(line) {
				return strings.TrimSpace(line), true
			}
		}
		scanned++
		if scanned >= bannerScanLines {
			break
		}
	}
	return "", false
}
