package drive

import (
	"path"
	"strings"
)

// Clean normalises key into an absolute slash-separated path with no
// trailing slash (except the root itself).
func Clean(key string) string {
	return path.Clean("/" + key)
}

// IsUnder reports whether key equals dir or is nested below it.
func IsUnder(key, dir string) bool {
	if dir == "/" {
		return strings.HasPrefix(key, "/")
	}
	return key == dir || strings.HasPrefix(key, dir+"/")
}

// Rel returns key relative to dir, keeping the leading slash. Rel("/a/b",
// "/a") is "/b" and Rel("/a", "/a") is "/".
func Rel(key, dir string) string {
	if dir == "/" {
		return key
	}
	rel := strings.TrimPrefix(key, dir)
	if rel == "" {
		return "/"
	}
	return rel
}

// Join places the relative key rel under dir.
func Join(dir, rel string) string {
	return path.Join(dir, rel)
}

// IgnorePaths builds an IgnoreFunc that matches each of paths and
// everything nested under them.
func IgnorePaths(paths ...string) IgnoreFunc {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned = append(cleaned, Clean(p))
	}
	return func(key string) bool {
		for _, p := range cleaned {
			if key == p || strings.HasPrefix(key, p+"/") {
				return true
			}
		}
		return false
	}
}
