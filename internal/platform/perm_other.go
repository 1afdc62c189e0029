//go:build !unix

package platform

import (
	"io/fs"
	"os"
)

// SetPermissions is a no-op on platforms without POSIX permission bits.
func SetPermissions(root *os.Root, name string, mode fs.FileMode) error {
	return nil
}

// Supported reports whether SetPermissions has any effect on this platform.
func Supported() bool {
	return false
}
