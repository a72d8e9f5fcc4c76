package shm

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ChunkAlignment is the alignment of every pool carved by a SegmentLayout.
const ChunkAlignment = 8

var (
	ErrInvalidPoolConfig = errors.New("shm: invalid pool config")
	ErrNoFreeChunk       = errors.New("shm: no free chunk")
)

// PoolConfig describes one pool of equally sized chunks.
type PoolConfig struct {
	ChunkSize  uint64 `yaml:"chunkSize"`
	ChunkCount uint32 `yaml:"chunkCount"`
}

// Chunk is one slot of a pool.
type Chunk struct {
	Span
	Used bool
}

// Data views the chunk's memory.
func (c *Chunk) Data() []byte {
	return c.Bytes()
}

// RequiredSize returns the segment size that fits pools when carved in order
// from a page aligned mapping.
func RequiredSize(pools []PoolConfig) (uint64, error) {
	var offset uint64
	for _, p := range pools {
		if p.ChunkSize == 0 || p.ChunkCount == 0 {
			return 0, fmt.Errorf("%w: chunk size and count must be positive, got %+v", ErrInvalidPoolConfig, p)
		}
		if p.ChunkSize > math.MaxUint64/uint64(p.ChunkCount) {
			return 0, fmt.Errorf("%w: pool %+v overflows", ErrInvalidPoolConfig, p)
		}
		total := p.ChunkSize * uint64(p.ChunkCount)
		aligned := (offset + ChunkAlignment - 1) / ChunkAlignment * ChunkAlignment
		if aligned < offset || total > math.MaxUint64-aligned {
			return 0, fmt.Errorf("%w: pools overflow", ErrInvalidPoolConfig)
		}
		offset = aligned + total
	}
	return offset, nil
}

// SegmentLayout carves chunk pools out of a SharedMemoryObject and finalizes
// its allocation. Every process building the layout over the same segment
// gets identical offsets. Chunk bookkeeping is local to the process.
type SegmentLayout struct {
	mu     sync.Mutex
	pools  map[uint64][]*Chunk // key: chunk size
	sizes  []uint64            // ascending
	layout []PoolConfig
}

// NewSegmentLayout allocates pools from obj in the given order and finalizes it.
func NewSegmentLayout(obj *SharedMemoryObject, pools []PoolConfig) (*SegmentLayout, error) {
	if _, err := RequiredSize(pools); err != nil {
		return nil, err
	}
	sl := &SegmentLayout{
		pools:  make(map[uint64][]*Chunk),
		layout: pools,
	}
	for _, p := range pools {
		region, err := obj.Allocate(p.ChunkSize*uint64(p.ChunkCount), ChunkAlignment)
		if err != nil {
			return nil, fmt.Errorf("carving pool of %d x %d bytes from %q: %w", p.ChunkCount, p.ChunkSize, obj.Name(), err)
		}
		if _, seen := sl.pools[p.ChunkSize]; !seen {
			sl.sizes = append(sl.sizes, p.ChunkSize)
		}
		for i := uint64(0); i < uint64(p.ChunkCount); i++ {
			sl.pools[p.ChunkSize] = append(sl.pools[p.ChunkSize], &Chunk{Span: Span{
				Offset: region.Offset + i*p.ChunkSize,
				Size:   p.ChunkSize,
				base:   region.base,
			}})
		}
	}
	sort.Slice(sl.sizes, func(i, j int) bool { return sl.sizes[i] < sl.sizes[j] })
	obj.FinalizeAllocation()
	return sl, nil
}

// Alloc returns a free chunk of the smallest pool whose chunks hold size bytes.
func (sl *SegmentLayout) Alloc(size uint64) (*Chunk, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for _, chunkSize := range sl.sizes {
		if chunkSize < size {
			continue
		}
		for _, c := range sl.pools[chunkSize] {
			if !c.Used {
				c.Used = true
				return c, nil
			}
		}
	}
	return nil, ErrNoFreeChunk
}

// Recycle returns a chunk to its pool.
func (sl *SegmentLayout) Recycle(c *Chunk) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	c.Used = false
}

// Stats returns the number of free chunks per chunk size.
func (sl *SegmentLayout) Stats() map[uint64]int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	stats := make(map[uint64]int)
	for size, pool := range sl.pools {
		free := 0
		for _, c := range pool {
			if !c.Used {
				free++
			}
		}
		stats[size] = free
	}
	return stats
}

// Pools returns the configuration the layout was carved from.
func (sl *SegmentLayout) Pools() []PoolConfig {
	return sl.layout
}
