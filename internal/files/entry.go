package files

import (
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
)

const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

// Entry describes one file or folder. Path is relative to the root.
type Entry struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Path          string  `json:"path"`
	Size          int64   `json:"size"`
	SizeFormatted string  `json:"sizeFormatted"`
	Modified      float64 `json:"modified"`
	Extension     string  `json:"extension"`
}

// NewEntry builds an Entry from stat info, normally from
// fsutil.Resolver.EntryInfo.
func NewEntry(name, rel string, info fs.FileInfo) Entry {
	e := Entry{
		Name:          name,
		Type:          TypeFile,
		Path:          rel,
		SizeFormatted: "-",
		Modified:      float64(info.ModTime().UnixNano()) / 1e9,
		Extension:     strings.ToLower(filepath.Ext(name)),
	}
	if info.IsDir() {
		e.Type = TypeFolder
		return e
	}
	e.Size = info.Size()
	e.SizeFormatted = FormatSize(e.Size)
	return e
}

// FormatSize renders n bytes as "1.5 KB" style text.
func FormatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f PB", size)
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md", ".json", ".yaml", ".yml", ".toml", ".ini", ".conf", ".go", ".py", ".sh", ".csv":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	default:
		return ""
	}
}

// IsImageExt reports whether ext (lowercase, with dot) can be thumbnailed.
func IsImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}
