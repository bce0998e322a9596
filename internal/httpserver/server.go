package httpserver

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"filedeck/internal/archive"
	"filedeck/internal/auth"
	"filedeck/internal/config"
	"filedeck/internal/files"
	"filedeck/internal/fsutil"
	"filedeck/internal/search"
	"filedeck/internal/thumb"
)

type Options struct {
	// Config must already be prepared (absolute, existing directories).
	Config config.Config
	Logger *slog.Logger
}

type Server struct {
	cfg config.Config
	log *slog.Logger

	files    *files.Service
	search   *search.Searcher
	archiver *archive.Archiver
	thumbs   *thumb.Cache
	auth     *auth.Authenticator
	limiter  *ipLimiter
}

func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res, err := fsutil.NewResolver(opts.Config.Root, opts.Config.FollowSymlinks)
	if err != nil {
		return nil, err
	}
	thumbs, err := thumb.NewCache(opts.Config.StateDir)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      opts.Config,
		log:      logger,
		files:    files.New(res, logger),
		search:   search.New(res),
		archiver: archive.New(opts.Config.TempDir, logger),
		thumbs:   thumbs,
		auth:     auth.New(opts.Config, logger),
	}
	if opts.Config.RateLimit > 0 {
		s.limiter = newIPLimiter(opts.Config.RateLimit, opts.Config.RateBurst)
	}
	return s, nil
}

// Root returns the canonical root directory being served.
func (s *Server) Root() string { return s.files.Resolver().Root() }

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusNotFound, errorBody{Error: "Not Found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorBody{Error: "Method Not Allowed"})
	})

	// health, outside auth
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	}).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/").Subrouter()
	api.Use(s.auth.Middleware)

	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	api.HandleFunc("/files/{path:.*}", s.handleFile).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/list", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/delete", s.handleDeleteBatch).Methods(http.MethodPost)
	api.HandleFunc("/delete", s.handleDeleteOne).Methods(http.MethodDelete)
	api.HandleFunc("/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/download-zip", s.handleDownloadZip).Methods(http.MethodGet)
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/create-folder", s.handleCreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/rename", s.handleRename).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/get-url", s.handleGetURL).Methods(http.MethodGet)
	api.HandleFunc("/thumb", s.handleThumb).Methods(http.MethodGet)

	if s.cfg.WebDAV {
		api.PathPrefix("/dav/").Handler(s.davHandler())
	}

	var h http.Handler = r
	h = s.withRateLimit(h)
	h = withHeaders(h)
	h = s.withRecover(h)
	h = s.withRequestLog(h)
	return h
}
