//go:build linux

package shm

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WriteZerosOnCreation is the platform default for zero filling new objects.
const WriteZerosOnCreation = true

// Dir is where glibc's shm_open places named objects.
const Dir = "/dev/shm"

// Path returns the filesystem path of the shared memory object name.
func Path(name string) string {
	return filepath.Join(Dir, name)
}

// Open opens or creates the shared memory object name (Linux implementation).
func Open(name string, flags int, perm uint32) (int, error) {
	return unix.Open(Path(name), flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, perm)
}

// Unlink removes the shared memory object name. Existing mappings stay valid.
func Unlink(name string) error {
	return unix.Unlink(Path(name))
}
