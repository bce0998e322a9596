package files

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"filedeck/internal/apperr"
	"filedeck/internal/fsutil"
)

// Service performs filesystem operations below the resolver's root. Every
// path argument is a caller supplied relative path.
type Service struct {
	res *fsutil.Resolver
	log *slog.Logger
}

func New(res *fsutil.Resolver, logger *slog.Logger) *Service {
	return &Service{res: res, log: logger.With(slog.String("component", "files"))}
}

func (s *Service) Resolver() *fsutil.Resolver { return s.res }

// ItemError is a per-path failure inside a batch delete.
type ItemError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type DeleteResult struct {
	Deleted []string    `json:"deleted"`
	Errors  []ItemError `json:"errors"`
}

// UploadError is a per-file failure inside a batch upload.
type UploadError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type UploadResult struct {
	Uploaded []string      `json:"uploaded"`
	Errors   []UploadError `json:"errors"`
}

// Stat resolves rel and stats it.
func (s *Service) Stat(rel string) (string, fs.FileInfo, error) {
	abs, err := s.res.Resolve(rel)
	if err != nil {
		return "", nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, apperr.Wrap(apperr.NotFound, "Path not found", err)
		}
		return "", nil, apperr.Wrap(apperr.Internal, "stat failed", err)
	}
	return abs, st, nil
}

// StatFile is Stat restricted to non-directories.
func (s *Service) StatFile(rel string) (string, fs.FileInfo, error) {
	abs, st, err := s.Stat(rel)
	if err != nil {
		return "", nil, err
	}
	if st.IsDir() {
		return "", nil, apperr.New(apperr.BadRequest, "Path is a directory")
	}
	return abs, st, nil
}

// Open opens a regular file for serving.
func (s *Service) Open(rel string) (*os.File, fs.FileInfo, error) {
	abs, st, err := s.StatFile(rel)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "open failed", err)
	}
	return f, st, nil
}

// List returns the entries of a directory in enumeration order. Entries that
// vanish or cannot be stat'ed mid-listing are skipped.
func (s *Service) List(rel string) ([]Entry, error) {
	abs, st, err := s.Stat(rel)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, apperr.New(apperr.BadRequest, "Path is not a directory")
	}
	dirRel, err := s.res.Rel(abs)
	if err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "read failed", err)
	}
	items := make([]Entry, 0, len(ents))
	for _, e := range ents {
		info, err := s.res.EntryInfo(filepath.Join(abs, e.Name()))
		if err != nil {
			continue
		}
		items = append(items, NewEntry(e.Name(), fsutil.JoinRel(dirRel, e.Name()), info))
	}
	return items, nil
}

// Delete removes every path independently. Containment is checked for all
// paths before anything is removed; after that, failures are reported per
// item and never abort the batch.
func (s *Service) Delete(paths []string) (DeleteResult, error) {
	res := DeleteResult{Deleted: []string{}, Errors: []ItemError{}}
	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := s.res.ResolveEntry(p)
		if err != nil {
			return res, err
		}
		abs[i] = a
	}
	for i, p := range paths {
		if err := s.remove(abs[i]); err != nil {
			s.log.Warn("delete failed", slog.String("path", abs[i]), slog.Any("err", err))
			res.Errors = append(res.Errors, ItemError{Path: p, Error: apperr.Message(err)})
			continue
		}
		res.Deleted = append(res.Deleted, p)
	}
	return res, nil
}

// DeleteOne removes a single path.
func (s *Service) DeleteOne(rel string) error {
	abs, err := s.res.ResolveEntry(rel)
	if err != nil {
		return err
	}
	if err := s.remove(abs); err != nil {
		s.log.Warn("delete failed", slog.String("path", abs), slog.Any("err", err))
		return err
	}
	return nil
}

func (s *Service) remove(abs string) error {
	if abs == s.res.Root() {
		return apperr.New(apperr.BadRequest, "Cannot delete root")
	}
	st, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.Wrap(apperr.NotFound, "File not found", err)
		}
		return apperr.Wrap(apperr.Internal, "stat failed", err)
	}
	if st.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "", err)
	}
	s.log.Info("deleted", slog.String("path", abs), slog.Bool("dir", st.IsDir()))
	return nil
}

// Upload stores each file into dirRel, creating it if needed. Names are
// sanitized and made unique against both the directory and earlier files of
// the same batch. A failing file never aborts the others.
func (s *Service) Upload(ctx context.Context, dirRel string, fhs []*multipart.FileHeader) (UploadResult, error) {
	res := UploadResult{Uploaded: []string{}, Errors: []UploadError{}}
	dir, err := s.res.Resolve(dirRel)
	if err != nil {
		return res, err
	}
	if st, err := os.Stat(dir); err == nil && !st.IsDir() {
		return res, apperr.New(apperr.BadRequest, "Path is not a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, apperr.Wrap(apperr.Internal, "mkdir failed", err)
	}

	taken := map[string]bool{}
	for _, fh := range fhs {
		if fh == nil || fh.Filename == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, UploadError{File: fh.Filename, Error: err.Error()})
			continue
		}
		name, err := s.saveUpload(dir, fh, taken)
		if err != nil {
			s.log.Warn("upload failed", slog.String("file", fh.Filename), slog.String("dir", dir), slog.Any("err", err))
			res.Errors = append(res.Errors, UploadError{File: fh.Filename, Error: apperr.Message(err)})
			continue
		}
		taken[name] = true
		res.Uploaded = append(res.Uploaded, name)
		s.log.Info("uploaded", slog.String("name", name), slog.String("dir", dir), slog.Int64("size", fh.Size))
	}
	return res, nil
}

// maxClaimAttempts bounds retries when another writer takes a name between
// the existence check and the exclusive create.
const maxClaimAttempts = 100

func (s *Service) saveUpload(dir string, fh *multipart.FileHeader, taken map[string]bool) (string, error) {
	name := uploadName(fh.Filename)
	if name == "" {
		return "", apperr.New(apperr.BadRequest, "Invalid file name")
	}
	base, ext := fsutil.SplitExt(name)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		cand := fsutil.NextFreeName(dir, base, ext, taken)
		dst := filepath.Join(dir, cand)
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			taken[cand] = true
			continue
		}
		if err != nil {
			return "", apperr.Wrap(apperr.Internal, "", err)
		}
		if err := copyUpload(out, fh); err != nil {
			_ = os.Remove(dst)
			return "", apperr.Wrap(apperr.Internal, "", err)
		}
		return cand, nil
	}
	return "", apperr.New(apperr.Conflict, "no free file name")
}

func copyUpload(out *os.File, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		_ = out.Close()
		return err
	}
	defer src.Close()
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// uploadName sanitizes a client file name, falling back to replacing
// separators when sanitizing leaves nothing (e.g. non-Latin names).
func uploadName(raw string) string {
	if name := fsutil.SanitizeName(raw); name != "" {
		return name
	}
	name := strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(raw)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// CreateFolder creates parentRel/name and returns its relative path.
func (s *Service) CreateFolder(parentRel, name string) (string, error) {
	clean := fsutil.SanitizeName(strings.TrimSpace(name))
	if clean == "" {
		return "", apperr.New(apperr.BadRequest, "Invalid folder name")
	}
	abs, err := s.res.Resolve(fsutil.JoinRel(parentRel, clean))
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(abs); err == nil {
		return "", apperr.New(apperr.Conflict, "Folder already exists")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", apperr.Wrap(apperr.Internal, "", err)
	}
	s.log.Info("folder created", slog.String("path", abs))
	return s.res.Rel(abs)
}

// Rename gives oldRel a new base name in the same parent directory and
// returns the new relative path.
func (s *Service) Rename(oldRel, newName string) (string, error) {
	clean := fsutil.SanitizeName(strings.TrimSpace(newName))
	if strings.Trim(oldRel, "/\\ ") == "" || clean == "" {
		return "", apperr.New(apperr.BadRequest, "Invalid parameters")
	}
	oldAbs, err := s.res.ResolveEntry(oldRel)
	if err != nil {
		return "", err
	}
	if oldAbs == s.res.Root() {
		return "", apperr.New(apperr.BadRequest, "Invalid parameters")
	}
	if _, err := os.Lstat(oldAbs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperr.Wrap(apperr.NotFound, "Path not found", err)
		}
		return "", apperr.Wrap(apperr.Internal, "stat failed", err)
	}
	newAbs := filepath.Join(filepath.Dir(oldAbs), clean)
	if !s.res.Within(newAbs) {
		return "", apperr.New(apperr.Forbidden, "Forbidden")
	}
	if _, err := os.Lstat(newAbs); err == nil {
		return "", apperr.New(apperr.Conflict, "Destination already exists")
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return "", apperr.Wrap(apperr.Internal, "", err)
	}
	s.log.Info("renamed", slog.String("from", oldAbs), slog.String("to", newAbs))
	return s.res.Rel(newAbs)
}
