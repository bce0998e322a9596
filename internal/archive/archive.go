// Package archive builds zip downloads of directory trees.
package archive

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"filedeck/internal/apperr"
	"filedeck/internal/fsutil"
)

// Archiver writes zip files into a temporary directory.
type Archiver struct {
	tempDir string
	log     *slog.Logger
}

func New(tempDir string, logger *slog.Logger) *Archiver {
	return &Archiver{tempDir: tempDir, log: logger.With(slog.String("component", "archive"))}
}

// Archive is a finished zip on disk. Callers must Remove it when done.
type Archive struct {
	Path  string
	Name  string // download name, e.g. "photos.zip"
	Size  int64
	Files int
}

func (a *Archive) Open() (*os.File, error) { return os.Open(a.Path) }

func (a *Archive) Remove() error { return os.Remove(a.Path) }

// DownloadName returns the sanitized attachment name for src.
func DownloadName(src string) string {
	name := fsutil.SanitizeName(filepath.Base(src) + ".zip")
	if name == "" || name == "zip" {
		return "download.zip"
	}
	return name
}

// Build archives src. Every regular file below src becomes an entry named by
// its slash-separated path relative to src; directories only appear through
// their files, and symlinks are skipped. A regular file src yields a single
// entry with its base name.
func (a *Archiver) Build(ctx context.Context, src string) (*Archive, error) {
	st, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Wrap(apperr.NotFound, "Not Found", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "stat failed", err)
	}

	out := &Archive{
		Path: filepath.Join(a.tempDir, "filedeck-"+uuid.NewString()+".zip"),
		Name: DownloadName(src),
	}
	f, err := os.OpenFile(out.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create archive", err)
	}
	zw := zip.NewWriter(f)

	if st.IsDir() {
		var self fs.FileInfo
		if self, err = f.Stat(); err == nil {
			err = a.addDir(ctx, zw, src, out, self)
		}
	} else {
		err = addFile(zw, src, st.Name(), st)
		out.Files = 1
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out.Path)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, "write archive", err)
	}

	if info, err := os.Stat(out.Path); err == nil {
		out.Size = info.Size()
	}
	a.log.Info("archive built", slog.String("src", src), slog.Int("files", out.Files), slog.Int64("bytes", out.Size))
	return out, nil
}

func (a *Archiver) addDir(ctx context.Context, zw *zip.Writer, src string, out *Archive, self fs.FileInfo) error {
	tmp, _ := os.Stat(a.tempDir)
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, the root itself is not
			if p == src {
				return err
			}
			a.log.Warn("archive walk", slog.String("path", p), slog.Any("err", err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			// never archive our own temp dir, it holds in-progress zips
			if st, err := d.Info(); err == nil && tmp != nil && os.SameFile(st, tmp) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if self != nil && os.SameFile(info, self) {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if err := addFile(zw, p, filepath.ToSlash(rel), info); err != nil {
			return err
		}
		out.Files++
		return nil
	})
}

func addFile(zw *zip.Writer, abs, name string, info fs.FileInfo) error {
	h, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	h.Name = strings.TrimPrefix(name, "/")
	h.Method = zip.Deflate
	w, err := zw.CreateHeader(h)
	if err != nil {
		return err
	}
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
