package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/klauspost/compress/gzip"
)

// NativeArchiver writes the tarball in-process. The archive is built under a
// temporary name and renamed into place once complete.
type NativeArchiver struct {
	Spec Spec
}

func (a *NativeArchiver) Build(ctx context.Context) (string, error) {
	if err := a.Spec.checkSources(); err != nil {
		return "", err
	}
	logger := lg.FromContext(ctx)
	out := a.Spec.OutputPath()

	tmp, err := os.CreateTemp(filepath.Dir(out), "."+a.Spec.Name+".*")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	files, err := a.write(ctx, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return "", fmt.Errorf("replace %s: %w", out, err)
	}
	logger.Debug("archive written", lg.String("path", out), lg.Int("entries", files))
	return out, nil
}

func (a *NativeArchiver) write(ctx context.Context, w io.Writer) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	entries := 0
	for _, src := range a.Spec.Sources {
		err := filepath.WalkDir(filepath.Join(a.Spec.Dir, src), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := addEntry(tw, a.Spec.Dir, path, d); err != nil {
				return err
			}
			entries++
			return nil
		})
		if err != nil {
			return entries, err
		}
	}

	if err := tw.Close(); err != nil {
		return entries, err
	}
	return entries, gz.Close()
}

func addEntry(tw *tar.Writer, root, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
