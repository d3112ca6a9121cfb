// Package archive bundles the local web application trees into one
// gzip-compressed tarball.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/kballard/go-shellquote"
)

const (
	MethodShell  = "shell"
	MethodNative = "native"
)

var ErrSourceMissing = errors.New("archive source missing")

// Archiver produces the archive and returns its path.
type Archiver interface {
	Build(ctx context.Context) (string, error)
}

// Spec names the archive and the trees that go into it. Paths are relative
// to Dir.
type Spec struct {
	Dir     string
	Name    string
	Sources []string
}

func (s Spec) OutputPath() string {
	return filepath.Join(s.Dir, s.Name)
}

// New returns the archiver for method. Unknown methods fall back to shell.
func New(method string, spec Spec, local executor.Executor) Archiver {
	if method == MethodNative {
		return &NativeArchiver{Spec: spec}
	}
	return &ShellArchiver{Spec: spec, Exec: local}
}

// checkSources fails with ErrSourceMissing for the first absent source.
func (s Spec) checkSources() error {
	if len(s.Sources) == 0 {
		return fmt.Errorf("%w: no sources configured", ErrSourceMissing)
	}
	for _, src := range s.Sources {
		if _, err := os.Lstat(filepath.Join(s.Dir, src)); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrSourceMissing, src)
			}
			return fmt.Errorf("stat %s: %w", src, err)
		}
	}
	return nil
}

// ShellArchiver runs "tar -czf" through a local executor.
type ShellArchiver struct {
	Spec Spec
	Exec executor.Executor
}

func (a *ShellArchiver) Command() executor.Command {
	args := append([]string{"tar", "-czf", a.Spec.Name}, a.Spec.Sources...)
	return executor.Command{Line: shellquote.Join(args...)}
}

func (a *ShellArchiver) Build(ctx context.Context) (string, error) {
	if err := a.Spec.checkSources(); err != nil {
		return "", err
	}
	cmd := a.Command()
	lg.FromContext(ctx).Debug("creating archive", lg.String("cmd", cmd.Line))
	if _, err := a.Exec.Run(ctx, cmd); err != nil {
		return "", err
	}
	return a.Spec.OutputPath(), nil
}
