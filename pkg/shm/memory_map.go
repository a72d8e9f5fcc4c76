package shm

import (
	"fmt"
	"math"
	"unsafe"

	internalshm "github.com/srediag/shmipc-core/internal/shm"
)

// MemoryMapBuilder collects the parameters of a MemoryMap.
type MemoryMapBuilder struct {
	hint       unsafe.Pointer
	length     uint64
	fd         int
	accessMode AccessMode
	flags      MemoryMapFlags
	offset     int64
}

// NewMemoryMapBuilder returns a builder for a read-only shared mapping without address hint.
func NewMemoryMapBuilder() *MemoryMapBuilder {
	return &MemoryMapBuilder{
		fd:         invalidHandle,
		accessMode: ReadOnly,
		flags:      ShareChanges,
	}
}

// BaseAddressHint suggests where to place the mapping. The kernel may ignore it
// unless a Force flag is used.
func (b *MemoryMapBuilder) BaseAddressHint(hint unsafe.Pointer) *MemoryMapBuilder {
	b.hint = hint
	return b
}

func (b *MemoryMapBuilder) Length(length uint64) *MemoryMapBuilder {
	b.length = length
	return b
}

func (b *MemoryMapBuilder) FileDescriptor(fd int) *MemoryMapBuilder {
	b.fd = fd
	return b
}

func (b *MemoryMapBuilder) AccessMode(mode AccessMode) *MemoryMapBuilder {
	b.accessMode = mode
	return b
}

func (b *MemoryMapBuilder) Flags(flags MemoryMapFlags) *MemoryMapBuilder {
	b.flags = flags
	return b
}

func (b *MemoryMapBuilder) Offset(offset int64) *MemoryMapBuilder {
	b.offset = offset
	return b
}

func (b *MemoryMapBuilder) describe() string {
	return fmt.Sprintf("fd=%d length=%d offset=%d hint=%p access=%s flags=%s",
		b.fd, b.length, b.offset, b.hint, b.accessMode, b.flags)
}

// Create maps the descriptor. The returned error is a MemoryMapCode.
func (b *MemoryMapBuilder) Create() (*MemoryMap, error) {
	if b.length > math.MaxInt64 {
		logger.Errorf("Unable to map %s since the length overflows the address space.", b.describe())
		return nil, ErrMapOverflowingParameters
	}
	base, err := internalshm.Map(b.hint, uintptr(b.length), b.accessMode.protection(), b.flags.mmapFlags(), b.fd, b.offset)
	if err != nil {
		return nil, memoryMapErrnos.Translate(err, b.describe())
	}
	if b.hint != nil && base != b.hint {
		logger.Debugf("mapping placed at %p instead of hint %p", base, b.hint)
	}
	return &MemoryMap{base: base, length: b.length}, nil
}

// MemoryMap owns a mapped region of the process address space.
type MemoryMap struct {
	base   unsafe.Pointer
	length uint64
}

// BaseAddress is valid only inside the mapping process, nil once closed.
func (m *MemoryMap) BaseAddress() unsafe.Pointer {
	return m.base
}

func (m *MemoryMap) Length() uint64 {
	return m.length
}

// Bytes views the whole mapping. The slice must not be used after Close.
func (m *MemoryMap) Bytes() []byte {
	if m.base == nil {
		return nil
	}
	return unsafe.Slice((*byte)(m.base), m.length)
}

// Close unmaps the region. Closing twice does nothing.
func (m *MemoryMap) Close() error {
	if m == nil || m.base == nil {
		return nil
	}
	base, length := m.base, m.length
	m.base = nil
	m.length = 0
	if err := internalshm.Unmap(base, uintptr(length)); err != nil {
		code := memoryMapErrnos.Translate(err, fmt.Sprintf("%p+%d", base, length))
		logger.Errorf("unable to unmap mapped memory at %p", base)
		return code
	}
	return nil
}
