package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHExecutor runs commands on the remote host, one session per command.
type SSHExecutor struct {
	client       *ResilientSSHClient
	sudoPassword string
}

// NewSSHExecutor returns an executor bound to client. When sudoPassword is
// empty, privileged commands run with "sudo -n" and fail instead of prompting.
func NewSSHExecutor(client *ResilientSSHClient, sudoPassword string) *SSHExecutor {
	return &SSHExecutor{client: client, sudoPassword: sudoPassword}
}

func (e *SSHExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	logger := lg.FromContext(ctx).With(lg.String("cmd", cmd.String()))

	sess, err := e.client.newSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	line := cmd.Line
	if cmd.Sudo {
		line = sudoLine(cmd.Line, e.sudoPassword != "")
		if e.sudoPassword != "" {
			sess.Stdin = strings.NewReader(e.sudoPassword + "\n")
		}
	}

	// pipes
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	logger.Debug("running remote command")
	start := time.Now()
	if err := sess.Start(line); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	// closing the session unblocks the readers and Wait on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()

	var outLines, errLines []string
	var g errgroup.Group
	g.Go(func() (err error) {
		outLines, err = readLines(stdout)
		return err
	})
	g.Go(func() (err error) {
		errLines, err = readLines(stderr)
		return err
	})
	scanErr := g.Wait()
	waitErr := sess.Wait()

	res := &Result{
		Command:  cmd.String(),
		Stdout:   outLines,
		Stderr:   errLines,
		Duration: time.Since(start),
	}
	if scanErr != nil {
		logger.Warn("output truncated", lg.Err(scanErr))
	}
	if ctx.Err() != nil {
		res.ExitStatus = -1
		return res, ctx.Err()
	}

	var exitErr *ssh.ExitError
	switch {
	case waitErr == nil:
		res.ExitStatus = 0
	case errors.As(waitErr, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
		logger.Debug("remote command failed", lg.Int("status", res.ExitStatus))
		return res, &ExitError{Result: res}
	default:
		res.ExitStatus = -1
		return res, fmt.Errorf("wait %q: %w", cmd.String(), waitErr)
	}
	return res, nil
}

// sudoLine wraps line so it runs under sudo. With a password the prompt is
// suppressed and the password is read from stdin; without one sudo must not
// prompt at all.
func sudoLine(line string, withPassword bool) string {
	if withPassword {
		return shellquote.Join("sudo", "-S", "-p", "", "sh", "-c", line)
	}
	return shellquote.Join("sudo", "-n", "sh", "-c", line)
}
