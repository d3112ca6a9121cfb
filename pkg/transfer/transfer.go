// Package transfer copies files to the remote host over SFTP.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Uploader copies one local file into a remote directory and returns the
// remote path it wrote.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteDir string) (string, error)
}

// SFTPUploader uploads over an SFTP subsystem opened on an existing
// connection.
type SFTPUploader struct {
	client *sftp.Client
}

// NewSFTPUploader starts the sftp subsystem on conn. Close releases the
// subsystem, not the connection.
func NewSFTPUploader(conn *ssh.Client) (*SFTPUploader, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	return &SFTPUploader{client: client}, nil
}

func NewSFTPUploaderFromClient(client *sftp.Client) *SFTPUploader {
	return &SFTPUploader{client: client}
}

func (u *SFTPUploader) Close() error {
	return u.client.Close()
}

func (u *SFTPUploader) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	logger := lg.FromContext(ctx)

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	dir := RemoteDir(remoteDir)
	if err := u.client.MkdirAll(dir); err != nil {
		return "", fmt.Errorf("create remote dir %s: %w", dir, err)
	}

	dst := path.Join(dir, filepath.Base(localPath))
	f, err := u.client.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := f.ReadFrom(src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", dst, err)
	}

	logger.Debug("uploaded", lg.String("local", localPath), lg.String("remote", dst), lg.Int64("bytes", n))
	return dst, nil
}

// RemoteDir turns a home-relative path ("~/site", "~") into the form SFTP
// and a login shell both resolve against the login directory.
func RemoteDir(dir string) string {
	switch {
	case dir == "" || dir == "~" || dir == "~/":
		return "."
	case strings.HasPrefix(dir, "~/"):
		return strings.TrimPrefix(dir, "~/")
	default:
		return dir
	}
}
