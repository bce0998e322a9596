// Package search scans a directory tree for names containing a query.
//
// There is no index: every call walks the live filesystem breadth-first,
// visiting non-hidden entries before dot-entries. Which matches are returned
// once the cap is hit depends on directory enumeration order and is not
// stable across filesystems.
package search

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filedeck/internal/apperr"
	"filedeck/internal/files"
	"filedeck/internal/fsutil"
)

const (
	// MaxResults is a hard ceiling, not a page size.
	MaxResults = 100
	// MaxScanned bounds the number of visited entries per search.
	MaxScanned = 200_000
)

const (
	ReasonMaxResults = "maxResults"
	ReasonMaxScanned = "maxScanned"
)

type Result struct {
	Results   []files.Entry `json:"results"`
	Truncated bool          `json:"truncated"`
	Reason    string        `json:"reason,omitempty"`
	Scanned   int           `json:"scanned"`
}

type Searcher struct {
	res        *fsutil.Resolver
	maxResults int
	maxScanned int
}

func New(res *fsutil.Resolver) *Searcher {
	return &Searcher{res: res, maxResults: MaxResults, maxScanned: MaxScanned}
}

var errStop = errors.New("stop")

// Search matches query case-insensitively against the base name of every
// entry below baseRel. Result paths are relative to the resolver root. An
// empty query matches everything.
func (s *Searcher) Search(ctx context.Context, baseRel, query string) (Result, error) {
	out := Result{Results: []files.Entry{}}
	baseAbs, err := s.res.Resolve(baseRel)
	if err != nil {
		return out, err
	}
	st, err := os.Stat(baseAbs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, apperr.Wrap(apperr.NotFound, "Path not found", err)
		}
		return out, apperr.Wrap(apperr.Internal, "stat failed", err)
	}
	if !st.IsDir() {
		return out, apperr.New(apperr.BadRequest, "Path is not a directory")
	}
	rootRel, err := s.res.Rel(baseAbs)
	if err != nil {
		return out, err
	}

	qlow := strings.ToLower(query)

	type node struct {
		abs string
		rel string // slash-separated, "" for root
	}
	normalQ := []node{{abs: baseAbs, rel: rootRel}}
	var hiddenQ []node

	visit := func(n node, e os.DirEntry) error {
		out.Scanned++
		if out.Scanned > s.maxScanned {
			out.Truncated = true
			out.Reason = ReasonMaxScanned
			return errStop
		}
		name := e.Name()
		rel := fsutil.JoinRel(n.rel, name)
		abs := filepath.Join(n.abs, name)
		if strings.Contains(strings.ToLower(name), qlow) {
			// truncated only once a match beyond the cap exists
			if len(out.Results) >= s.maxResults {
				out.Truncated = true
				out.Reason = ReasonMaxResults
				return errStop
			}
			if info, err := s.res.EntryInfo(abs); err == nil {
				out.Results = append(out.Results, files.NewEntry(name, rel, info))
			}
		}
		// do not follow symlinks (avoid loops and escapes)
		if e.IsDir() && e.Type()&os.ModeSymlink == 0 {
			child := node{abs: abs, rel: rel}
			if strings.HasPrefix(name, ".") {
				hiddenQ = append(hiddenQ, child)
			} else {
				normalQ = append(normalQ, child)
			}
		}
		return nil
	}

	for len(normalQ) > 0 || len(hiddenQ) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var n node
		if len(normalQ) > 0 {
			n, normalQ = normalQ[0], normalQ[1:]
		} else {
			n, hiddenQ = hiddenQ[0], hiddenQ[1:]
		}
		ents, err := os.ReadDir(n.abs)
		if err != nil {
			continue
		}
		var hidden []os.DirEntry
		stopped := false
		for _, e := range ents {
			if strings.HasPrefix(e.Name(), ".") {
				hidden = append(hidden, e)
				continue
			}
			if visit(n, e) != nil {
				stopped = true
				break
			}
		}
		if !stopped {
			for _, e := range hidden {
				if visit(n, e) != nil {
					stopped = true
					break
				}
			}
		}
		if stopped {
			break
		}
	}
	return out, nil
}
