//go:build linux

package shm

import (
	"fmt"
	"os"
	"testing"
	"unsafe"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpenUnlink(t *testing.T) {
	name := fmt.Sprintf("internal_shm_test_%d", os.Getpid())
	fd, err := Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	require.NoError(t, err)
	defer unix.Close(fd)

	_, err = os.Stat(Path(name))
	require.NoError(t, err)

	_, err = Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	assert.ErrorIs(t, err, unix.EEXIST)

	require.NoError(t, Unlink(name))
	assert.ErrorIs(t, Unlink(name), unix.ENOENT)
}

func TestCapacity(t *testing.T) {
	free, err := Capacity()
	require.NoError(t, err)
	stat, err := disk.Usage(Dir)
	require.NoError(t, err)
	// Free space moves while tests run; both probes must be in the same ballpark.
	assert.InDelta(t, float64(stat.Free), float64(free), float64(64<<20))
}

func TestMapUnmap(t *testing.T) {
	name := fmt.Sprintf("internal_shm_map_test_%d", os.Getpid())
	fd, err := Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	require.NoError(t, err)
	defer func() {
		_ = unix.Close(fd)
		_ = Unlink(name)
	}()
	require.NoError(t, unix.Ftruncate(fd, 4096))

	base, err := Map(nil, 4096, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, fd, 0)
	require.NoError(t, err)
	mem := unsafe.Slice((*byte)(base), 4096)
	mem[4095] = 0xAB
	assert.Equal(t, byte(0xAB), mem[4095])
	require.NoError(t, Unmap(base, 4096))

	_, err = Map(nil, 0, unix.PROT_READ, unix.MAP_SHARED, fd, 0)
	assert.ErrorIs(t, err, unix.EINVAL)
}
