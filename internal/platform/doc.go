// Package platform isolates operating system specific file handling.
package platform
