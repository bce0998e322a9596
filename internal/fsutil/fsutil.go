package fsutil

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"filedeck/internal/apperr"
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// slash-based, no-leading-slash relative path ("" means root). It clamps ".."
// at the root, so it is only suitable for matching (ACLs), never for opening
// files. Use Resolver.Resolve for that.
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Resolver maps caller-supplied relative paths onto absolute paths under a
// fixed root. It is immutable after construction and safe for concurrent use.
type Resolver struct {
	root           string
	prefix         string
	followSymlinks bool
}

// NewResolver creates root if needed and canonicalizes it. When followSymlinks
// is false any symlink component inside the root is rejected; when true links
// are resolved and must still land inside the root.
func NewResolver(root string, followSymlinks bool) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	canon = filepath.Clean(canon)
	prefix := canon
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return &Resolver{root: canon, prefix: prefix, followSymlinks: followSymlinks}, nil
}

func (r *Resolver) Root() string { return r.root }

func (r *Resolver) FollowSymlinks() bool { return r.followSymlinks }

// Within reports whether abs (already clean) is the root or below it.
func (r *Resolver) Within(abs string) bool {
	return abs == r.root || strings.HasPrefix(abs, r.prefix)
}

// Resolve returns the absolute path for rel. Escapes via ".." or symlinks
// fail with apperr.Forbidden.
func (r *Resolver) Resolve(rel string) (string, error) {
	abs, err := r.lexical(rel)
	if err != nil {
		return "", err
	}
	return r.checkLinks(abs)
}

// ResolveEntry is like Resolve but leaves a symlink in the final component
// unresolved, so delete and rename act on the link itself. With symlinks
// disabled such a link is still rejected.
func (r *Resolver) ResolveEntry(rel string) (string, error) {
	abs, err := r.lexical(rel)
	if err != nil || abs == r.root {
		return abs, err
	}
	parent, err := r.checkLinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	final := filepath.Join(parent, filepath.Base(abs))
	if !r.followSymlinks {
		if st, err := os.Lstat(final); err == nil && st.Mode()&os.ModeSymlink != 0 {
			return "", apperr.New(apperr.Forbidden, "Forbidden: symlinks are not followed")
		}
	}
	return final, nil
}

// lexical joins rel onto the root and applies the prefix check.
func (r *Resolver) lexical(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", apperr.New(apperr.BadRequest, "invalid path")
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return r.root, nil
	}
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	if !r.Within(abs) {
		return "", apperr.New(apperr.Forbidden, "Forbidden")
	}
	return abs, nil
}

// checkLinks walks the existing components of abs below the root. Missing
// components end the walk; the remainder is joined lexically.
func (r *Resolver) checkLinks(abs string) (string, error) {
	relPart, err := filepath.Rel(r.root, abs)
	if err != nil || relPart == "." {
		return abs, nil
	}
	parts := strings.Split(relPart, string(filepath.Separator))
	cur := r.root
	for i, name := range parts {
		next := filepath.Join(cur, name)
		st, err := os.Lstat(next)
		if err != nil {
			return filepath.Join(append([]string{cur}, parts[i:]...)...), nil
		}
		if st.Mode()&os.ModeSymlink != 0 {
			if !r.followSymlinks {
				return "", apperr.New(apperr.Forbidden, "Forbidden: symlinks are not followed")
			}
			target, err := filepath.EvalSymlinks(next)
			if err != nil {
				return "", apperr.Wrap(apperr.Forbidden, "Forbidden: unresolvable symlink", err)
			}
			if !r.Within(target) {
				return "", apperr.New(apperr.Forbidden, "Forbidden")
			}
			next = target
		}
		cur = next
	}
	return cur, nil
}

// EntryInfo stats abs for listings. A symlink is described by its target only
// when links are followed and the target stays inside the root; otherwise the
// link itself is reported.
func (r *Resolver) EntryInfo(abs string) (fs.FileInfo, error) {
	st, err := os.Lstat(abs)
	if err != nil || st.Mode()&os.ModeSymlink == 0 || !r.followSymlinks {
		return st, err
	}
	target, err := filepath.EvalSymlinks(abs)
	if err != nil || !r.Within(target) {
		return st, nil
	}
	return os.Stat(target)
}

// Rel converts an absolute path under the root into a slash-separated
// relative path ("" for the root itself).
func (r *Resolver) Rel(abs string) (string, error) {
	abs = filepath.Clean(abs)
	if !r.Within(abs) {
		return "", apperr.New(apperr.Forbidden, "Forbidden")
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "relative path", err)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// JoinRel joins a slash-separated parent and child name.
func JoinRel(parent, name string) string {
	parent = strings.Trim(strings.ReplaceAll(parent, "\\", "/"), "/")
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
