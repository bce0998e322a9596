// Package auth implements optional HTTP Basic authentication backed by
// bcrypt hashes, plus first-match path-prefix ACLs.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"filedeck/internal/config"
)

type ctxKey string

const userKey ctxKey = "filedeck.user"

func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

type Perm int

const (
	PermRead Perm = iota + 1
	PermWrite
	PermAdmin
)

func (p Perm) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermWrite:
		return "write"
	case PermAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Authenticator holds the immutable user table and ACL list.
type Authenticator struct {
	users    map[string]config.User
	acls     []config.ACL
	optional bool
	log      *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		users:    cfg.Users,
		acls:     cfg.ACLs,
		optional: cfg.AuthOptional,
		log:      logger.With(slog.String("component", "auth")),
	}
}

// Enabled reports whether any users are configured.
func (a *Authenticator) Enabled() bool {
	return len(a.users) > 0
}

// Middleware wraps next with optional BasicAuth.
// - No users: allow all.
// - Else:
//   - if AuthOptional is false: require valid basic auth
//   - if AuthOptional is true: allow anonymous; validate creds if present
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.optional && r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := parseBasicAuth(r.Header.Get("Authorization"))
		if !ok {
			deny(w)
			return
		}
		user, ok := a.users[u]
		if !ok {
			deny(w)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Bcrypt), []byte(p)); err != nil {
			a.log.Warn("bad credentials", slog.String("user", u), slog.String("remote_addr", r.RemoteAddr))
			deny(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// ShouldChallenge reports whether a denied request should get a 401 (so the
// browser asks for credentials) rather than a 403.
func (a *Authenticator) ShouldChallenge(r *http.Request) bool {
	return a.Enabled() && a.optional && UserFromContext(r.Context()) == ""
}

// Allowed evaluates the ACLs for user on cleanPath, a slash path beginning
// with "/" ("" is treated as the root).
func (a *Authenticator) Allowed(user, cleanPath string, perm Perm) (bool, error) {
	if cleanPath == "" {
		cleanPath = "/"
	}
	if !strings.HasPrefix(cleanPath, "/") {
		return false, errors.New("invalid cleanPath")
	}

	// no-auth mode: allow everything
	if !a.Enabled() {
		return true, nil
	}

	for _, acl := range a.acls {
		if !prefixMatch(acl.Path, cleanPath) {
			continue
		}
		switch perm {
		case PermRead:
			return containsUser(acl.Read, user), nil
		case PermWrite:
			return user != "" && containsUser(acl.Write, user), nil
		case PermAdmin:
			return user != "" && containsUser(acl.Admin, user), nil
		default:
			return false, errors.New("unknown perm")
		}
	}

	// Default policy when auth enabled but no ACL matched:
	// authenticated users read, nobody writes.
	switch perm {
	case PermRead:
		return user != "", nil
	case PermWrite, PermAdmin:
		return false, nil
	default:
		return false, errors.New("unknown perm")
	}
}

func prefixMatch(aclPath, cleanPath string) bool {
	ap := aclPath
	if ap == "" {
		ap = "/"
	}
	if !strings.HasPrefix(ap, "/") {
		ap = "/" + ap
	}
	if ap != "/" && strings.HasSuffix(ap, "/") {
		ap = strings.TrimSuffix(ap, "/")
	}
	return ap == "/" || cleanPath == ap || strings.HasPrefix(cleanPath, ap+"/")
}

// HashPassword returns a bcrypt hash suitable for config.User.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", errors.New("invalid bcrypt cost")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Challenge asks the client for Basic credentials.
func Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="filedeck"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, `{"error":"Unauthorized"}`+"\n")
}

func deny(w http.ResponseWriter) {
	// constant-ish work
	_ = subtle.ConstantTimeByteEq(1, 1)
	Challenge(w)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	u, p, found := strings.Cut(string(raw), ":")
	if !found || u == "" {
		return "", "", false
	}
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}

func containsUser(list []string, u string) bool {
	for _, v := range list {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if v == "*" || subtle.ConstantTimeCompare([]byte(v), []byte(u)) == 1 {
			return true
		}
	}
	return false
}
