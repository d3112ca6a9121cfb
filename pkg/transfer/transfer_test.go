package transfer_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/webdeploy/internal/sshtest"
	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/andrej220/webdeploy/pkg/transfer"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noExec(string, io.Reader, io.Writer, io.Writer) uint32 { return 127 }

func TestRemoteDir(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"~/cydev.ru", "cydev.ru"},
		{"~", "."},
		{"~/", "."},
		{"", "."},
		{"/srv/www", "/srv/www"},
		{"site", "site"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transfer.RemoteDir(tt.in), tt.in)
	}
}

func TestSFTPUpload(t *testing.T) {
	srv := sshtest.NewServer(t, "secret", noExec)
	client, err := executor.Dial(context.Background(), executor.SSHConfig{
		Host:                  srv.Host,
		Port:                  srv.Port,
		User:                  "deploy",
		Password:              "secret",
		InsecureIgnoreHostKey: true,
	})
	require.NoError(t, err)
	defer client.Close()

	up, err := transfer.NewSFTPUploader(client.SSHClient)
	require.NoError(t, err)
	defer up.Close()

	local := filepath.Join(t.TempDir(), "cydev_web.tgz")
	require.NoError(t, os.WriteFile(local, []byte("archive-bytes"), 0644))

	remote, err := up.Upload(context.Background(), local, "/srv/cydev.ru")
	require.NoError(t, err)
	assert.Equal(t, "/srv/cydev.ru/cydev_web.tgz", remote)

	// a second upload overwrites the first
	require.NoError(t, os.WriteFile(local, []byte("v2"), 0644))
	_, err = up.Upload(context.Background(), local, "/srv/cydev.ru")
	require.NoError(t, err)

	assert.Equal(t, "v2", readRemote(t, client, remote))
}

func readRemote(t *testing.T, client *executor.ResilientSSHClient, name string) string {
	t.Helper()
	sc, err := sftp.NewClient(client.SSHClient)
	require.NoError(t, err)
	defer sc.Close()

	f, err := sc.Open(name)
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(body)
}

func TestSFTPUploadMissingLocal(t *testing.T) {
	srv := sshtest.NewServer(t, "secret", noExec)
	client, err := executor.Dial(context.Background(), executor.SSHConfig{
		Host: srv.Host, Port: srv.Port, User: "deploy", Password: "secret", InsecureIgnoreHostKey: true,
	})
	require.NoError(t, err)
	defer client.Close()

	up, err := transfer.NewSFTPUploader(client.SSHClient)
	require.NoError(t, err)
	defer up.Close()

	_, err = up.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.tgz"), "/srv")
	require.Error(t, err)
}

func TestSFTPUploadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transfer.NewSFTPUploaderFromClient(nil).Upload(ctx, "x", "/srv")
	assert.ErrorIs(t, err, context.Canceled)
}
