package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"filedeck/internal/auth"
	"filedeck/internal/config"
	"filedeck/internal/httpserver"
	"filedeck/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app := &cli.App{
		Name:   "filedeck",
		Usage:  "HTTP file manager confined to a single root directory",
		Flags:  serveFlags(),
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server (default)",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:  "passwd",
				Usage: "print a bcrypt hash for the users map",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "password", Required: true},
					&cli.IntFlag{Name: "cost", Value: bcrypt.DefaultCost, Usage: "bcrypt cost"},
				},
				Action: passwd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "filedeck:", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (.json, .yaml)", EnvVars: []string{"FILEDECK_CONFIG"}},
		&cli.StringFlag{Name: "root", Usage: "directory to serve (default " + config.DefaultRoot + ")", EnvVars: []string{"FILEDECK_ROOT"}},
		&cli.StringFlag{Name: "addr", Usage: "listen address (default " + config.DefaultAddr + ")", EnvVars: []string{"FILEDECK_ADDR"}},
		&cli.StringFlag{Name: "temp-dir", Usage: "directory for zip archives", EnvVars: []string{"FILEDECK_TEMP_DIR"}},
		&cli.StringFlag{Name: "state-dir", Usage: "directory for the thumbnail cache, outside root", EnvVars: []string{"FILEDECK_STATE_DIR"}},
		&cli.StringFlag{Name: "public-url", Usage: "base URL returned by /get-url", EnvVars: []string{"FILEDECK_PUBLIC_URL"}},
		&cli.BoolFlag{Name: "follow-symlinks", Usage: "follow symlinks that stay inside root", EnvVars: []string{"FILEDECK_FOLLOW_SYMLINKS"}},
		&cli.BoolFlag{Name: "webdav", Usage: "serve root over WebDAV at /dav/", EnvVars: []string{"FILEDECK_WEBDAV"}},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"FILEDECK_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Usage: "auto, text or json", EnvVars: []string{"FILEDECK_LOG_FORMAT"}},
	}
}

// loadConfig reads the optional config file and lets flags override it.
func loadConfig(c *cli.Context) (config.Config, error) {
	var cfg config.Config
	if p := c.String("config"); p != "" {
		var err error
		if cfg, err = config.Load(p); err != nil {
			return cfg, err
		}
	}
	strs := map[string]*string{
		"root":       &cfg.Root,
		"addr":       &cfg.Addr,
		"temp-dir":   &cfg.TempDir,
		"state-dir":  &cfg.StateDir,
		"public-url": &cfg.PublicURL,
		"log-level":  &cfg.Log.Level,
		"log-format": &cfg.Log.Format,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	if c.IsSet("follow-symlinks") {
		cfg.FollowSymlinks = c.Bool("follow-symlinks")
	}
	if c.IsSet("webdav") {
		cfg.WebDAV = c.Bool("webdav")
	}
	return cfg, cfg.Prepare()
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	srv, err := httpserver.New(httpserver.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("filedeck listening",
			slog.String("addr", cfg.Addr),
			slog.String("root", srv.Root()),
			slog.Bool("auth", len(cfg.Users) > 0),
			slog.Bool("webdav", cfg.WebDAV),
			slog.Bool("follow_symlinks", cfg.FollowSymlinks),
		)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func passwd(c *cli.Context) error {
	h, err := auth.HashPassword(c.String("password"), c.Int("cost"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, h)
	return nil
}
