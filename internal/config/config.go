package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"filedeck/internal/logging"
)

const (
	DefaultRoot            = "/mnt/file"
	DefaultAddr            = "0.0.0.0:5000"
	DefaultMaxUploadMemory = 32 << 20
)

// Config is JSON- and YAML-friendly.
// If Users is empty, filedeck runs without auth.
type Config struct {
	// Root is the only directory the API may touch. Created at startup.
	Root string `json:"root" yaml:"root"`

	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// TempDir holds zip archives while they are streamed. Default: os.TempDir().
	TempDir string `json:"tempDir,omitempty" yaml:"tempDir,omitempty"`

	// StateDir stores the thumbnail cache. It must live outside Root.
	// Default: <tempDir>/filedeck
	StateDir string `json:"stateDir,omitempty" yaml:"stateDir,omitempty"`

	// PublicURL is the base used by /get-url. Default: derived from the request.
	PublicURL string `json:"publicURL,omitempty" yaml:"publicURL,omitempty"`

	// FollowSymlinks controls whether symlinks inside Root may be traversed.
	// Default: false (any symlink component is rejected).
	// If true, only symlinks which resolve to a path still inside Root are followed.
	FollowSymlinks bool `json:"followSymlinks,omitempty" yaml:"followSymlinks,omitempty"`

	// WebDAV mounts Root under /dav/.
	WebDAV bool `json:"webdav,omitempty" yaml:"webdav,omitempty"`

	// MaxUploadMemory is the in-memory part of a multipart upload; the rest
	// spills to temporary files.
	MaxUploadMemory int64 `json:"maxUploadMemory,omitempty" yaml:"maxUploadMemory,omitempty"`

	// RateLimit is requests per second per client IP. 0 disables limiting.
	RateLimit float64 `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	RateBurst int     `json:"rateBurst,omitempty" yaml:"rateBurst,omitempty"`

	Log Log `json:"log,omitempty" yaml:"log,omitempty"`

	// AuthOptional enables "public + authenticated" mode when Users is set:
	// - requests without Authorization are treated as anonymous
	// - requests with Authorization are validated; invalid creds get 401
	AuthOptional bool `json:"authOptional,omitempty" yaml:"authOptional,omitempty"`

	// Users is a map of username -> bcrypt hash.
	// Example:
	// "alice": {"bcrypt":"$2a$10$..."}
	Users map[string]User `json:"users,omitempty" yaml:"users,omitempty"`

	// ACLs is a first-match rule list by path prefix.
	// If empty:
	// - no-auth mode: allow everything
	// - auth mode: allow read to authenticated users, deny write
	ACLs []ACL `json:"acls,omitempty" yaml:"acls,omitempty"`
}

type Log struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // auto|text|json
}

type User struct {
	Bcrypt string `json:"bcrypt" yaml:"bcrypt"`
}

type ACL struct {
	// Path is a prefix match, always interpreted as a clean path like "/photos".
	Path string `json:"path" yaml:"path"`
	// Read allows listing/downloading/searching.
	Read []string `json:"read,omitempty" yaml:"read,omitempty"` // usernames or "*"
	// Write allows upload/create-folder/rename.
	Write []string `json:"write,omitempty" yaml:"write,omitempty"`
	// Admin allows delete.
	Admin []string `json:"admin,omitempty" yaml:"admin,omitempty"`
}

// Load reads a config file. Files ending in .yaml or .yml are parsed as YAML,
// everything else as JSON.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields. It does not touch the filesystem.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Root) == "" {
		c.Root = DefaultRoot
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.TempDir, "filedeck")
	}
	if c.MaxUploadMemory <= 0 {
		c.MaxUploadMemory = DefaultMaxUploadMemory
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit) + 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// Validate checks values that do not depend on the filesystem.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rateLimit must not be negative")
	}
	for name, u := range c.Users {
		if name == "" || strings.ContainsAny(name, ":\x00") {
			return fmt.Errorf("config: invalid user name %q", name)
		}
		if u.Bcrypt == "" {
			return fmt.Errorf("config: user %q has no bcrypt hash", name)
		}
	}
	for i, a := range c.ACLs {
		if strings.Contains(a.Path, "..") {
			return fmt.Errorf("config: acl %d: path must not contain ..", i)
		}
	}
	return nil
}

// Prepare applies defaults, validates, makes directories absolute and creates
// them. The temp and state directories must not be inside Root; symlinks are
// resolved before comparing.
func (c *Config) Prepare() error {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	for _, p := range []*string{&c.Root, &c.TempDir, &c.StateDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("config: abs %s: %w", *p, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", abs, err)
		}
		*p = abs
	}
	root, err := filepath.EvalSymlinks(c.Root)
	if err != nil {
		return fmt.Errorf("config: resolve root: %w", err)
	}
	for _, d := range []struct{ name, path string }{
		{"tempDir", c.TempDir},
		{"stateDir", c.StateDir},
	} {
		canon, err := filepath.EvalSymlinks(d.path)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", d.name, err)
		}
		if within(root, canon) {
			return fmt.Errorf("config: %s %s must be outside root %s", d.name, d.path, c.Root)
		}
	}
	return nil
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(p, root)
}
