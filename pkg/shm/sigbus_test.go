package shm

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func stubFaultExit(t *testing.T) *int {
	t.Helper()
	calls := new(int)
	previous := faultExit
	faultExit = func() { *calls++ }
	t.Cleanup(func() { faultExit = previous })
	return calls
}

func TestZeroWithFaultGuardClearsMemory(t *testing.T) {
	calls := stubFaultExit(t)
	mem := []byte("not yet zero")

	zeroWithFaultGuard(mem, "unused\n")

	assert.Equal(t, make([]byte, len(mem)), mem)
	assert.Zero(t, *calls)
	assert.Equal(t, "unused\n", string(faultMessage[:faultMessageLen]))
}

func TestZeroWithFaultGuardTruncatedBackingStore(t *testing.T) {
	calls := stubFaultExit(t)

	f, err := os.OpenFile(filepath.Join(t.TempDir(), "truncated"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()
	const length = 2 * 4096
	require.NoError(t, f.Truncate(length))

	mem, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	defer unix.Munmap(mem)

	// pages past the new end of file raise SIGBUS when touched
	require.NoError(t, f.Truncate(0))

	zeroWithFaultGuard(mem, "segment truncated\n")

	assert.Equal(t, 1, *calls, "the fault must reach the exit path")
	assert.Equal(t, "segment truncated\n", string(faultMessage[:faultMessageLen]))
}

func TestZeroWithFaultGuardRestoresFaultMode(t *testing.T) {
	stubFaultExit(t)
	previous := debug.SetPanicOnFault(false)
	defer debug.SetPanicOnFault(previous)

	zeroWithFaultGuard(make([]byte, 16), "unused\n")

	assert.False(t, debug.SetPanicOnFault(false))
}

func TestFaultMessageIsTruncated(t *testing.T) {
	stubFaultExit(t)
	zeroWithFaultGuard(make([]byte, 1), strings.Repeat("m", faultMessageLength+100))
	assert.Equal(t, faultMessageLength, faultMessageLen)
}
