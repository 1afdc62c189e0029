// Package pathutil turns stored entry names into safe destination paths.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/meigma/unzip/internal/ziptype"
)

// Clean validates a stored entry name and returns it as a relative,
// slash-separated path with "." segments and a trailing slash removed.
//
// Backslashes are treated as separators. Names that are empty, contain NUL,
// are absolute, carry a volume name, or contain an empty or ".." segment are
// rejected with ErrPathTraversal. A ".." segment is rejected even where
// lexical cleaning would cancel it.
func Clean(name string) (string, error) {
	if name == "" {
		return "", traversal(name, "empty name")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return "", traversal(name, "NUL byte")
	}

	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") {
		return "", traversal(name, "absolute path")
	}
	if hasVolume(slashed) {
		return "", traversal(name, "volume name")
	}

	parts := strings.Split(slashed, "/")
	kept := make([]string, 0, len(parts))
	for i, p := range parts {
		switch p {
		case "":
			// A trailing slash marks a directory entry.
			if i == len(parts)-1 {
				continue
			}
			return "", traversal(name, "empty segment")
		case ".":
			continue
		case "..":
			return "", traversal(name, "parent segment")
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "", traversal(name, "no path components")
	}
	return strings.Join(kept, "/"), nil
}

// Resolve validates name and joins it to root. It returns the cleaned
// relative path and the full destination path, which is guaranteed to be a
// descendant of root.
func Resolve(name, root string) (rel, full string, err error) {
	rel, err = Clean(name)
	if err != nil {
		return "", "", err
	}
	root = filepath.Clean(root)
	full = filepath.Join(root, filepath.FromSlash(rel))

	back, err := filepath.Rel(root, full)
	if err != nil || back == "." || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) ||
		filepath.IsAbs(back) {
		return "", "", traversal(name, "resolves outside destination")
	}
	return rel, full, nil
}

// Sanitize validates name and returns its full destination path under root.
func Sanitize(name, root string) (string, error) {
	_, full, err := Resolve(name, root)
	return full, err
}

func hasVolume(name string) bool {
	if len(name) >= 2 && name[1] == ':' {
		c := name[0]
		if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' {
			return true
		}
	}
	return filepath.VolumeName(filepath.FromSlash(name)) != ""
}

func traversal(name, reason string) error {
	return fmt.Errorf("%w: %q: %s", ziptype.ErrPathTraversal, name, reason)
}
