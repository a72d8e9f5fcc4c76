package shm

import (
	"unsafe"
)

// Span is a region handed out by a BumpAllocator, addressed relative to the
// allocator's start so it stays meaningful in every process mapping the segment.
type Span struct {
	Offset uint64
	Size   uint64

	base unsafe.Pointer
}

// Pointer returns the process local address of the span.
func (s Span) Pointer() unsafe.Pointer {
	if s.base == nil {
		return nil
	}
	return unsafe.Add(s.base, s.Offset)
}

// Bytes views the span as a byte slice.
func (s Span) Bytes() []byte {
	if s.base == nil || s.Size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(s.Pointer()), s.Size)
}

// BumpAllocator hands out aligned regions of a fixed memory block by advancing
// an offset. Individual allocations are never reclaimed.
type BumpAllocator struct {
	start  unsafe.Pointer
	size   uint64
	offset uint64
}

// NewBumpAllocator manages size bytes starting at start.
func NewBumpAllocator(start unsafe.Pointer, size uint64) *BumpAllocator {
	return &BumpAllocator{start: start, size: size}
}

// Allocate reserves size bytes aligned to alignment, measured on the absolute
// address. An alignment of 0 is treated as 1. A failed call leaves the
// allocator unchanged.
func (a *BumpAllocator) Allocate(size, alignment uint64) (Span, error) {
	if size == 0 {
		return Span{}, ErrZeroSizedAllocation
	}
	if alignment == 0 {
		alignment = 1
	}

	current := uint64(uintptr(a.start)) + a.offset
	aligned := (current + alignment - 1) / alignment * alignment
	if aligned < current {
		return Span{}, ErrOutOfMemory
	}
	alignedOffset := aligned - uint64(uintptr(a.start))
	if alignedOffset > a.size || size > a.size-alignedOffset {
		return Span{}, ErrOutOfMemory
	}

	a.offset = alignedOffset + size
	return Span{Offset: alignedOffset, Size: size, base: a.start}, nil
}

// Used returns the bytes consumed including alignment padding.
func (a *BumpAllocator) Used() uint64 {
	return a.offset
}

func (a *BumpAllocator) Remaining() uint64 {
	return a.size - a.offset
}

// Size returns the managed block size.
func (a *BumpAllocator) Size() uint64 {
	return a.size
}
