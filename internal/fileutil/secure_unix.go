//go:build !windows

package fileutil

import "os"

// WritePrivate writes data to path readable and writable by the owner only.
func WritePrivate(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

// MkdirPrivate creates a directory tree accessible by the owner only.
func MkdirPrivate(path string) error {
	return os.MkdirAll(path, 0700)
}
