package executor_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrej220/webdeploy/internal/sshtest"
	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/knownhosts"
)

const testPassword = "secret"

func echoHandler(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32 {
	switch {
	case cmd == "uptime":
		fmt.Fprintln(stdout, "up 3 days")
		fmt.Fprintln(stdout, "load average: 0.01")
		return 0
	case cmd == "false":
		fmt.Fprintln(stderr, "it failed")
		return 3
	case strings.HasPrefix(cmd, "sudo -S"):
		line, _ := bufio.NewReader(stdin).ReadString('\n')
		if strings.TrimSpace(line) != "sudopass" {
			fmt.Fprintln(stderr, "sudo: incorrect password")
			return 1
		}
		return 0
	default:
		return 127
	}
}

func dial(t *testing.T, srv *sshtest.Server) *executor.ResilientSSHClient {
	t.Helper()
	client, err := executor.Dial(context.Background(), executor.SSHConfig{
		Host:                  srv.Host,
		Port:                  srv.Port,
		User:                  "deploy",
		Password:              testPassword,
		InsecureIgnoreHostKey: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSSHExecutorRun(t *testing.T) {
	srv := sshtest.NewServer(t, testPassword, echoHandler)
	exec := executor.NewSSHExecutor(dial(t, srv), "")

	res, err := exec.Run(context.Background(), executor.Command{Line: "uptime"})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "uptime", res.Command)
	assert.Equal(t, []string{"up 3 days", "load average: 0.01"}, res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestSSHExecutorExitStatus(t *testing.T) {
	srv := sshtest.NewServer(t, testPassword, echoHandler)
	exec := executor.NewSSHExecutor(dial(t, srv), "")

	res, err := exec.Run(context.Background(), executor.Command{Line: "false"})
	require.Error(t, err)

	var exitErr *executor.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Equal(t, 3, res.ExitStatus)
	assert.Equal(t, []string{"it failed"}, res.Stderr)
	assert.Contains(t, err.Error(), "it failed")
}

func TestSSHExecutorSudo(t *testing.T) {
	srv := sshtest.NewServer(t, testPassword, echoHandler)
	client := dial(t, srv)

	t.Run("password on stdin", func(t *testing.T) {
		exec := executor.NewSSHExecutor(client, "sudopass")
		_, err := exec.Run(context.Background(), executor.Command{Line: "systemctl restart web", Sudo: true})
		require.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		exec := executor.NewSSHExecutor(client, "nope")
		res, err := exec.Run(context.Background(), executor.Command{Line: "systemctl restart web", Sudo: true})
		require.Error(t, err)
		assert.Equal(t, 1, res.ExitStatus)
	})

	t.Run("non-interactive", func(t *testing.T) {
		exec := executor.NewSSHExecutor(client, "")
		_, _ = exec.Run(context.Background(), executor.Command{Line: "systemctl restart web", Sudo: true})
	})

	cmds := srv.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "sudo -S -p '' sh -c 'systemctl restart web'", cmds[0])
	assert.Equal(t, "sudo -n sh -c 'systemctl restart web'", cmds[2])
}

func TestDialWrongPassword(t *testing.T) {
	srv := sshtest.NewServer(t, testPassword, echoHandler)
	_, err := executor.Dial(context.Background(), executor.SSHConfig{
		Host:                  srv.Host,
		Port:                  srv.Port,
		User:                  "deploy",
		Password:              "wrong",
		InsecureIgnoreHostKey: true,
		Retries:               3,
	})
	require.Error(t, err)
}

func TestDialUnreachable(t *testing.T) {
	srv := sshtest.NewServer(t, testPassword, echoHandler)
	cfg := executor.SSHConfig{Host: srv.Host, Port: srv.Port, User: "deploy", Password: testPassword, InsecureIgnoreHostKey: true}
	srv.Close()

	_, err := executor.Dial(context.Background(), cfg)
	require.Error(t, err)
}

func TestDialKnownHosts(t *testing.T) {
	srv := sshtest.NewServer(t, testPassword, echoHandler)
	path := filepath.Join(t.TempDir(), "known_hosts")

	cfg := executor.SSHConfig{
		Host:       srv.Host,
		Port:       srv.Port,
		User:       "deploy",
		Password:   testPassword,
		KnownHosts: path,
	}

	require.NoError(t, os.WriteFile(path, nil, 0600))
	_, err := executor.Dial(context.Background(), cfg)
	require.Error(t, err, "unknown host key must be rejected")

	line := knownhosts.Line([]string{srv.Addr()}, srv.PublicKey)
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0600))
	client, err := executor.Dial(context.Background(), cfg)
	require.NoError(t, err)
	client.Close()
}

func TestNewClientConfigRequiresAuth(t *testing.T) {
	_, _, err := executor.NewClientConfig(executor.SSHConfig{Host: "example.com", InsecureIgnoreHostKey: true})
	assert.ErrorIs(t, err, executor.ErrNoAuthMethod)
}

func TestSSHConfigAddr(t *testing.T) {
	assert.Equal(t, "example.com:22", executor.SSHConfig{Host: "example.com"}.Addr())
	assert.Equal(t, "example.com:2222", executor.SSHConfig{Host: "example.com", Port: 2222}.Addr())
}
