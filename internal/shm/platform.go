// Package shm contains the platform calls behind named shared memory objects and mappings.
package shm

import (
	"unsafe"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// MaxNameLength is the longest shared memory object name the platform accepts.
const MaxNameLength = 255

// Capacity returns the free bytes of the filesystem backing shared memory objects.
func Capacity() (uint64, error) {
	stat, err := disk.Usage(Dir)
	if err != nil {
		return 0, err
	}
	return stat.Free, nil
}

// Map maps length bytes of fd at offset. hint is advisory unless flags contain MAP_FIXED.
func Map(hint unsafe.Pointer, length uintptr, prot, flags, fd int, offset int64) (unsafe.Pointer, error) {
	return unix.MmapPtr(fd, offset, hint, length, prot, flags)
}

// Unmap releases a mapping created by Map.
func Unmap(base unsafe.Pointer, length uintptr) error {
	return unix.MunmapPtr(base, length)
}
