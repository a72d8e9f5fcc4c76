package shm

import (
	"runtime/debug"
	"sync"

	"golang.org/x/sys/unix"
)

const faultMessageLength = 1024 + MaxNameLength

// Zero filling a freshly created segment touches every page. When the backing
// store is smaller than the mapping (for instance another process truncated
// the object) the kernel raises SIGBUS. The fill then cannot continue and the
// process terminates after writing faultMessage to stderr.
//
// faultMu serializes the whole prepare, fill and restore window since
// faultMessage is shared by all goroutines creating segments.
var (
	faultMu         sync.Mutex
	faultMessage    [faultMessageLength]byte
	faultMessageLen int

	// faultExit runs on the faulting goroutine. It must not allocate.
	faultExit = func() {
		_, _ = unix.Write(unix.Stderr, faultMessage[:faultMessageLen])
		unix.Exit(1)
	}
)

// addressFault is implemented by the runtime error raised for a memory fault
// while panic-on-fault is enabled.
type addressFault interface {
	Addr() uintptr
}

// zeroWithFaultGuard clears mem. message is stored before the fill starts and is
// the only output if the fill faults.
func zeroWithFaultGuard(mem []byte, message string) {
	faultMu.Lock()
	defer faultMu.Unlock()

	faultMessageLen = copy(faultMessage[:], message)
	guardedClear(mem)
}

func guardedClear(mem []byte) {
	previous := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(previous)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(addressFault); ok {
			faultExit()
			return
		}
		panic(r)
	}()

	clear(mem)
}
