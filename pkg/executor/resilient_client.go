package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort       = 22
	DefaultTimeout    = 10 * time.Second
	DefaultKnownHosts = "~/.ssh/known_hosts"
)

var ErrNoAuthMethod = errors.New("no ssh auth method configured")

// SSHConfig describes the one remote host every remote operation talks to.
type SSHConfig struct {
	Host                  string
	Port                  int
	User                  string
	KeyFile               string
	Password              string
	UseAgent              bool
	KnownHosts            string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
	// Retries bounds how many times dialing or opening a session is retried.
	// Zero means a single attempt.
	Retries uint64
}

func (c SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	MaxRetries             uint64
	CircuitBreakerSettings gobreaker.Settings
	CircuitBreaker         *gobreaker.CircuitBreaker
}

func NewResilienceConfig(defaultBackOff *backoff.ExponentialBackOff, maxRetries uint64, cbs gobreaker.Settings) *ResilienceConfig {
	return &ResilienceConfig{
		BackoffSettings:        defaultBackOff,
		MaxRetries:             maxRetries,
		CircuitBreakerSettings: cbs,
		CircuitBreaker:         gobreaker.NewCircuitBreaker(cbs),
	}
}

// DefaultResilienceConfig mirrors the policy used for every ssh connection:
// exponential backoff between attempts and a breaker that opens after
// five consecutive session failures.
func DefaultResilienceConfig(maxRetries uint64) *ResilienceConfig {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 2 * time.Minute

	cbs := gobreaker.Settings{
		Name:        "ssh-session",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return NewResilienceConfig(b, maxRetries, cbs)
}

// policy returns a fresh retry policy bound to ctx.
func (r *ResilienceConfig) policy(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if r.MaxRetries > 0 && r.BackoffSettings != nil {
		eb := *r.BackoffSettings
		b = backoff.WithMaxRetries(&eb, r.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// ResilientSSHClient is one authenticated connection shared by command
// execution and file transfer.
type ResilientSSHClient struct {
	SSHClient *ssh.Client
	ResConf   *ResilienceConfig
}

func (c *ResilientSSHClient) Close() error {
	return c.SSHClient.Close()
}

func (c *ResilientSSHClient) RemoteAddr() string {
	return c.SSHClient.RemoteAddr().String()
}

// Dial connects to cfg.Addr(), retrying according to cfg.Retries.
func Dial(ctx context.Context, cfg SSHConfig) (*ResilientSSHClient, error) {
	logger := lg.FromContext(ctx).With(lg.String("remote", cfg.Addr()))

	clientConfig, cleanup, err := NewClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	resConf := DefaultResilienceConfig(cfg.Retries)
	dialer := &net.Dialer{Timeout: clientConfig.Timeout}

	operation := func() (*ssh.Client, error) {
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
		if err != nil {
			return nil, err
		}
		sconn, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), clientConfig)
		if err != nil {
			conn.Close()
			if isAuthError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return ssh.NewClient(sconn, chans, reqs), nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("ssh dial failed, retrying", lg.Err(err), lg.Duration("wait", wait))
	}

	logger.Debug("dialing ssh", lg.String("user", cfg.User))
	client, err := backoff.RetryNotifyWithData(operation, resConf.policy(ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Addr(), err)
	}
	logger.Debug("ssh connection established")

	return &ResilientSSHClient{
		SSHClient: client,
		ResConf:   resConf,
	}, nil
}

// NewClientConfig builds the ssh client configuration for cfg. The returned
// cleanup releases the agent connection, if one was opened; call it once the
// handshake is done.
func NewClientConfig(cfg SSHConfig) (*ssh.ClientConfig, func(), error) {
	cleanup := func() {}
	var auth []ssh.AuthMethod

	if cfg.KeyFile != "" {
		keyAuth, err := publicKeyAuth(cfg.KeyFile)
		if err != nil {
			return nil, cleanup, err
		}
		auth = append(auth, keyAuth)
	}
	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, cleanup, fmt.Errorf("connect to ssh agent: %w", err)
			}
			cleanup = func() { conn.Close() }
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, cleanup, ErrNoAuthMethod
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}, cleanup, nil
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHosts
	if path == "" {
		path = DefaultKnownHosts
	}
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	path, err := ExpandHome(privateKeyPath)
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func isAuthError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

// newSession opens a session through the circuit breaker, retrying transport
// failures according to the resilience policy.
func (c *ResilientSSHClient) newSession(ctx context.Context) (*ssh.Session, error) {
	logger := lg.FromContext(ctx)
	operation := func() (*ssh.Session, error) {
		res, err := c.ResConf.CircuitBreaker.Execute(func() (any, error) {
			return c.SSHClient.NewSession()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res.(*ssh.Session), nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("ssh session failed, retrying", lg.Err(err), lg.Duration("wait", wait))
	}
	return backoff.RetryNotifyWithData(operation, c.ResConf.policy(ctx), notify)
}
