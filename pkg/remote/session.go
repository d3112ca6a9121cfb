// Package remote holds the single connection a command invocation uses.
// The connection is opened on first use, so local-only work (building the
// archive) happens before the host is contacted.
package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/andrej220/webdeploy/pkg/transfer"
)

// Session implements both executor.Executor and transfer.Uploader over one
// lazily dialed ssh connection.
type Session struct {
	cfg          executor.SSHConfig
	sudoPassword string
	dial         func(context.Context, executor.SSHConfig) (*executor.ResilientSSHClient, error)

	mu       sync.Mutex
	client   *executor.ResilientSSHClient
	exec     *executor.SSHExecutor
	uploader *transfer.SFTPUploader
}

var (
	_ executor.Executor = (*Session)(nil)
	_ transfer.Uploader = (*Session)(nil)
)

func NewSession(cfg executor.SSHConfig, sudoPassword string) *Session {
	return &Session{cfg: cfg, sudoPassword: sudoPassword, dial: executor.Dial}
}

func (s *Session) connect(ctx context.Context) (*executor.ResilientSSHClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := s.dial(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	lg.FromContext(ctx).Info("connected", lg.String("remote", client.RemoteAddr()), lg.String("user", s.cfg.User))
	s.client = client
	s.exec = executor.NewSSHExecutor(client, s.sudoPassword)
	return client, nil
}

func (s *Session) Run(ctx context.Context, cmd executor.Command) (*executor.Result, error) {
	if _, err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s.exec.Run(ctx, cmd)
}

func (s *Session) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.uploader == nil {
		up, err := transfer.NewSFTPUploader(client.SSHClient)
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
		s.uploader = up
	}
	up := s.uploader
	s.mu.Unlock()
	return up.Upload(ctx, localPath, remoteDir)
}

// Connected reports whether the host has been contacted.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.uploader != nil {
		errs = append(errs, s.uploader.Close())
		s.uploader = nil
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
		s.client = nil
	}
	return errors.Join(errs...)
}
