// Package thumb renders small JPEG previews of images and caches them on disk.
package thumb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const DefaultMax = 256

// Cache stores thumbnails under dir keyed by relative path and mtime, so an
// edited image gets a fresh thumbnail.
type Cache struct {
	dir string
	max int
}

func NewCache(stateDir string) (*Cache, error) {
	dir := filepath.Join(stateDir, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, max: DefaultMax}, nil
}

// Get returns JPEG bytes for the image at absPath, rendering and caching them
// on a miss. rel is the root-relative path used for the cache key.
func (c *Cache) Get(absPath, rel string, st fs.FileInfo) ([]byte, error) {
	p := filepath.Join(c.dir, cacheKey(rel, st.ModTime().UnixNano()))
	if b, err := os.ReadFile(p); err == nil {
		return b, nil
	}
	b, err := Make(absPath, c.max)
	if err != nil {
		return nil, err
	}
	_ = os.WriteFile(p, b, 0o644)
	return b, nil
}

// cacheKey hashes the slash-separated rel so distinct paths never share a
// file, whatever characters they contain.
func cacheKey(rel string, mtimeNano int64) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(rel)))
	return fmt.Sprintf("%s-%d.jpg", hex.EncodeToString(sum[:]), mtimeNano)
}

// Make decodes jpg/png/gif/webp and returns a JPEG scaled to fit max x max.
func Make(absPath string, max int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}
	if max <= 0 {
		max = DefaultMax
	}

	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else {
		if h > max {
			nh = max
			nw = int(float64(w) * (float64(max) / float64(h)))
		}
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
