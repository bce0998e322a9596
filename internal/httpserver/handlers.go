package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"filedeck/internal/apperr"
	"filedeck/internal/auth"
	"filedeck/internal/files"
	"filedeck/internal/fsutil"
)

const maxJSONBody = 1 << 20

type listResponse struct {
	Entries []files.Entry `json:"entries"`
	Path    string        `json:"path"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Path    string `json:"path,omitempty"`
	NewPath string `json:"newPath,omitempty"`
}

type urlResponse struct {
	URL string `json:"url"`
	QR  string `json:"qr,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.BadRequest, "Invalid JSON", err)
	}
	return nil
}

func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return `attachment; filename="download"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if s.auth.Enabled() && user == "" {
		auth.Challenge(w)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := mux.Vars(r)["path"]
	if !s.authorize(w, r, auth.PermRead, rel) {
		return
	}
	f, st, err := s.files.Open(rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()
	if ct := files.ContentType(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if !s.authorize(w, r, auth.PermRead, rel) {
		return
	}
	entries, err := s.files.List(rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, listResponse{Entries: entries, Path: rel})
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Paths) == 0 {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "No paths provided"))
		return
	}
	for _, p := range req.Paths {
		if !s.authorize(w, r, auth.PermAdmin, p) {
			return
		}
	}
	res, err := s.files.Delete(req.Paths)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleDeleteOne(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if !s.authorize(w, r, auth.PermAdmin, rel) {
		return
	}
	if err := s.files.DeleteOne(rel); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, statusResponse{Status: "deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if !s.authorize(w, r, auth.PermRead, rel) {
		return
	}
	abs, st, err := s.files.Stat(rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st.IsDir() {
		s.serveZip(w, r, abs)
		return
	}
	f, st, err := s.files.Open(rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()
	if ct := files.ContentType(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", attachment(st.Name()))
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if !s.authorize(w, r, auth.PermRead, rel) {
		return
	}
	abs, _, err := s.files.Stat(rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveZip(w, r, abs)
}

// serveZip builds an archive of abs in the temp dir, streams it and removes it.
func (s *Server) serveZip(w http.ResponseWriter, r *http.Request, abs string) {
	arc, err := s.archiver.Build(r.Context(), abs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() {
		if err := arc.Remove(); err != nil {
			s.log.Warn("remove archive", slog.String("path", arc.Path), slog.Any("err", err))
		}
	}()
	f, err := arc.Open()
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.Internal, "", err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(arc.Name))
	http.ServeContent(w, r, arc.Name, time.Now(), f)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMemory); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.BadRequest, "Invalid multipart form", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	dir := r.FormValue("path")
	if !s.authorize(w, r, auth.PermWrite, dir) {
		return
	}
	res, err := s.files.Upload(r.Context(), dir, r.MultipartForm.File["files"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.authorize(w, r, auth.PermWrite, req.Path) {
		return
	}
	rel, err := s.files.CreateFolder(req.Path, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, statusResponse{Status: "created", Path: rel})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPath      string `json:"oldPath"`
		OldPathSnake string `json:"old_path"`
		NewName      string `json:"newName"`
		NewNameSnake string `json:"new_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	oldPath := firstNonEmpty(req.OldPath, req.OldPathSnake)
	newName := firstNonEmpty(req.NewName, req.NewNameSnake)
	if oldPath == "" || strings.TrimSpace(newName) == "" {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "Invalid parameters"))
		return
	}
	dst := path.Join(path.Dir("/"+fsutil.CleanRelPath(oldPath)), fsutil.SanitizeName(newName))
	if !s.authorize(w, r, auth.PermWrite, oldPath) || !s.authorize(w, r, auth.PermWrite, dst) {
		return
	}
	newPath, err := s.files.Rename(oldPath, newName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, statusResponse{Status: "renamed", NewPath: newPath})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := q.Get("path")
	if !s.authorize(w, r, auth.PermRead, base) {
		return
	}
	res, err := s.search.Search(r.Context(), base, strings.TrimSpace(q.Get("q")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Truncated {
		s.log.Debug("search truncated", slog.String("reason", res.Reason), slog.Int("scanned", res.Scanned))
	}
	writeJSON(w, res)
}

// directURL returns the /files URL for a root-relative path.
func (s *Server) directURL(r *http.Request, rel string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	segs := strings.Split(fsutil.CleanRelPath(rel), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return base + "/files/" + strings.Join(segs, "/")
}

func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if !s.authorize(w, r, auth.PermRead, rel) {
		return
	}
	if _, _, err := s.files.StatFile(rel); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := urlResponse{URL: s.directURL(r, rel)}
	if r.URL.Query().Get("qr") == "1" {
		png, err := qrcode.Encode(resp.URL, qrcode.Medium, 256)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.Internal, "", err))
			return
		}
		resp.QR = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}
	writeJSON(w, resp)
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if !s.authorize(w, r, auth.PermRead, rel) {
		return
	}
	abs, st, err := s.files.StatFile(rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !files.IsImageExt(strings.ToLower(filepath.Ext(abs))) {
		s.writeError(w, r, apperr.New(apperr.NotFound, "Not an image"))
		return
	}
	key, err := s.files.Resolver().Rel(abs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.thumbs.Get(abs, key, st)
	if err != nil {
		s.log.Debug("thumbnail failed", slog.String("path", abs), slog.Any("err", err))
		s.writeError(w, r, apperr.Wrap(apperr.NotFound, "Thumbnail unavailable", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(b)
}
