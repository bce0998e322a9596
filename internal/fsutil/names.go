package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var windowsDevices = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName reduces a user supplied file name to a safe ASCII base name.
// It may return "" when nothing usable is left.
func SanitizeName(name string) string {
	name = norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range name {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(b.String())
	name = strings.Join(strings.Fields(name), "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		}
		return -1
	}, name)
	name = strings.Trim(name, "._")
	if name != "" {
		stem, _, _ := strings.Cut(name, ".")
		if windowsDevices[strings.ToUpper(stem)] {
			name = "_" + name
		}
	}
	return name
}

// SplitExt splits name into base and extension (extension keeps its dot).
func SplitExt(name string) (base, ext string) {
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// NextFreeName returns base+ext, or base_N+ext for the smallest N >= 1, such
// that the name is neither present in dir nor already in taken. Each
// candidate is checked against the disk, so callers should still create the
// file exclusively.
func NextFreeName(dir, base, ext string, taken map[string]bool) string {
	name := base + ext
	for i := 1; ; i++ {
		if !taken[name] && !exists(filepath.Join(dir, name)) {
			return name
		}
		name = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}
