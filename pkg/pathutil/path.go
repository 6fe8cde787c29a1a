// Package pathutil canonicalizes the user supplied paths and object keys
// that flow into the storage gateway.
package pathutil

import (
	"strings"
	"unicode"
)

// Normalize converts a user supplied path into the canonical prefix form used
// for object keys. Backslashes become slashes, a single leading slash is
// removed, and a trailing slash is appended unless the final segment looks
// like a file name (contains a dot). Blank input and "/" normalize to "".
func Normalize(p string) string {
	if isBlank(p) || p == "/" {
		return ""
	}

	p = strings.ReplaceAll(p, "\\", "/")
	if strings.Trim(p, "/") == "" {
		return ""
	}
	p = strings.TrimPrefix(p, "/")

	if !strings.HasSuffix(p, "/") && !strings.Contains(lastSegment(p), ".") {
		p += "/"
	}
	return p
}

// IsFileLike reports whether p names a file: it does not end in a slash and
// its last segment contains a dot.
func IsFileLike(p string) bool {
	if isBlank(p) {
		return false
	}

	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasSuffix(p, "/") {
		return false
	}
	return strings.Contains(lastSegment(p), ".")
}

// Base returns the substring after the last separator. Forward slashes take
// precedence over backslashes. The whole input is returned when no separator
// is present.
func Base(p string) string {
	for _, sep := range []string{"/", "\\"} {
		if i := strings.LastIndex(p, sep); i > -1 {
			return p[i+1:]
		}
	}
	return p
}

// Extension returns the text after the last dot of the base name. ok is false
// when there is no dot or the dot is the final character.
func Extension(p string) (ext string, ok bool) {
	base := Base(p)
	i := strings.LastIndexByte(base, '.')
	if i == -1 || i == len(base)-1 {
		return "", false
	}
	return base[i+1:], true
}

// Join builds an object key from a directory path and a file name. The
// directory is normalized, the file name is used verbatim.
func Join(dir string, filename string) string {
	dir = Normalize(dir)
	if dir != "" && !strings.HasSuffix(dir, "/") {
		// dir had a dotted last segment, it is still a directory here
		dir += "/"
	}
	return dir + strings.TrimPrefix(filename, "/")
}

// TrimSlash drops a single trailing slash.
func TrimSlash(p string) string {
	return strings.TrimSuffix(p, "/")
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i > -1 {
		return p[i+1:]
	}
	return p
}

func isBlank(s string) bool {
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}
