package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/webdav"

	"filedeck/internal/apperr"
	"filedeck/internal/auth"
	"filedeck/internal/fsutil"
)

const davPrefix = "/dav"

// davFS is webdav.Dir with every name going through the resolver, so the
// symlink policy and containment rules match the JSON API.
type davFS struct {
	res *fsutil.Resolver
}

func davErr(err error) error {
	switch apperr.KindOf(err) {
	case apperr.Forbidden:
		return os.ErrPermission
	case apperr.NotFound:
		return os.ErrNotExist
	case apperr.BadRequest:
		return os.ErrInvalid
	default:
		return err
	}
}

func (d davFS) resolve(name string, entry bool) (string, error) {
	var (
		abs string
		err error
	)
	if entry {
		abs, err = d.res.ResolveEntry(name)
	} else {
		abs, err = d.res.Resolve(name)
	}
	if err != nil {
		return "", davErr(err)
	}
	return abs, nil
}

func (d davFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	abs, err := d.resolve(name, false)
	if err != nil {
		return err
	}
	return os.Mkdir(abs, perm)
}

func (d davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	abs, err := d.resolve(name, false)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(abs, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d davFS) RemoveAll(ctx context.Context, name string) error {
	abs, err := d.resolve(name, true)
	if err != nil {
		return err
	}
	if abs == d.res.Root() {
		return os.ErrInvalid
	}
	return os.RemoveAll(abs)
}

func (d davFS) Rename(ctx context.Context, oldName, newName string) error {
	oldAbs, err := d.resolve(oldName, true)
	if err != nil {
		return err
	}
	newAbs, err := d.resolve(newName, true)
	if err != nil {
		return err
	}
	if oldAbs == d.res.Root() || newAbs == d.res.Root() {
		return os.ErrInvalid
	}
	return os.Rename(oldAbs, newAbs)
}

func (d davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	abs, err := d.resolve(name, false)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// davRel maps /dav/foo/bar to foo/bar.
func davRel(urlPath string) string {
	return fsutil.CleanRelPath(strings.TrimPrefix(urlPath, davPrefix))
}

func davReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
		return true
	default:
		return false
	}
}

func (s *Server) davHandler() http.Handler {
	dav := &webdav.Handler{
		Prefix:     davPrefix,
		FileSystem: davFS{res: s.files.Resolver()},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.Debug("webdav", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("err", err))
			}
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := davRel(r.URL.Path)
		if !s.authorize(w, r, auth.PermRead, rel) {
			return
		}
		if !davReadOnly(r.Method) {
			if !s.authorize(w, r, auth.PermWrite, rel) {
				return
			}
			// COPY and MOVE also write to the destination.
			if dst := r.Header.Get("Destination"); dst != "" {
				u, err := url.Parse(dst)
				if err != nil {
					writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "Invalid destination"})
					return
				}
				if !s.authorize(w, r, auth.PermWrite, davRel(u.Path)) {
					return
				}
			}
		}
		dav.ServeHTTP(w, r)
	})
}
