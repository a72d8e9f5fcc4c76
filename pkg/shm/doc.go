// Package shm provides named POSIX shared memory segments for inter-process communication (IPC).
//
// The building blocks are layered:
//
//   - SharedMemory opens or creates the named object and owns its descriptor.
//   - MemoryMap maps a descriptor into the address space.
//   - BumpAllocator hands out aligned spans of a mapping.
//   - SharedMemoryObject combines the three and zero fills segments it created.
//   - SegmentLayout carves chunk pools out of a SharedMemoryObject.
//
// Every failure is a closed error code (SharedMemoryCode, MemoryMapCode,
// ObjectCode, AllocationCode) matchable with errors.Is. SharedMemoryObject
// creation is traced with OpenTelemetry and allocations are counted in both
// OpenTelemetry and the prometheus collectors of internal/metrics.
//
// Example usage:
//
//	obj, err := shm.NewSharedMemoryObjectBuilder().
//		Name("myshm").
//		MemorySizeInBytes(65536).
//		AccessMode(shm.ReadWrite).
//		OpenMode(shm.OpenOrCreate).
//		Create(ctx)
//	if err != nil {
//		return err
//	}
//	defer obj.Close()
//	span, err := obj.Allocate(64, 8)
//	// ...
//
// A segment created while a racing process truncates it is fatal: the zero
// fill faults and the process exits with a diagnostic on stderr.
package shm
