//go:build unix && !linux

package shm

import (
	"golang.org/x/sys/unix"
)

// WriteZerosOnCreation is the platform default for zero filling new objects.
// Objects are never created on this platform, so there is nothing to fill.
const WriteZerosOnCreation = false

// Dir is only meaningful on Linux; the capacity probe falls back to the temp dir.
const Dir = "/tmp"

// Path returns the name unchanged; named objects are not file backed here.
func Path(name string) string {
	return name
}

// Open is not implemented: shm_open is a libc call without a syscall equivalent on this platform.
func Open(name string, flags int, perm uint32) (int, error) {
	return -1, unix.ENOSYS
}

// Unlink is not implemented, see Open.
func Unlink(name string) error {
	return unix.ENOSYS
}
