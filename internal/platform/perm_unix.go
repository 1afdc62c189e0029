//go:build unix

package platform

import (
	"io/fs"
	"os"
)

// SetPermissions applies the permission bits of mode to name within root.
// Type bits are ignored; setuid, setgid and sticky bits are dropped.
func SetPermissions(root *os.Root, name string, mode fs.FileMode) error {
	return root.Chmod(name, mode.Perm())
}

// Supported reports whether SetPermissions has any effect on this platform.
func Supported() bool {
	return true
}
