package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unsafe"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shmipc-core/internal/metrics"
	internalshm "github.com/srediag/shmipc-core/internal/shm"
)

const instrumentationName = "github.com/srediag/shmipc-core/pkg/shm"

// SharedMemoryObjectBuilder collects the parameters of a SharedMemoryObject.
type SharedMemoryObjectBuilder struct {
	name           string
	size           uint64
	accessMode     AccessMode
	openMode       OpenMode
	permissions    os.FileMode
	hint           unsafe.Pointer
	zeroOnCreation bool
	unlinkPolicy   UnlinkPolicy
	tracer         trace.Tracer
	meter          metric.Meter
}

// NewSharedMemoryObjectBuilder returns a builder attaching read-only to an
// existing segment, zero filling on creation where the platform requires it.
func NewSharedMemoryObjectBuilder() *SharedMemoryObjectBuilder {
	return &SharedMemoryObjectBuilder{
		accessMode:     ReadOnly,
		openMode:       OpenExisting,
		permissions:    DefaultPermissions,
		zeroOnCreation: internalshm.WriteZerosOnCreation,
	}
}

func (b *SharedMemoryObjectBuilder) Name(name string) *SharedMemoryObjectBuilder {
	b.name = name
	return b
}

// MemorySizeInBytes is the mapped length. It is also the size of a newly created segment.
func (b *SharedMemoryObjectBuilder) MemorySizeInBytes(size uint64) *SharedMemoryObjectBuilder {
	b.size = size
	return b
}

func (b *SharedMemoryObjectBuilder) AccessMode(mode AccessMode) *SharedMemoryObjectBuilder {
	b.accessMode = mode
	return b
}

func (b *SharedMemoryObjectBuilder) OpenMode(mode OpenMode) *SharedMemoryObjectBuilder {
	b.openMode = mode
	return b
}

func (b *SharedMemoryObjectBuilder) Permissions(perm os.FileMode) *SharedMemoryObjectBuilder {
	b.permissions = perm
	return b
}

func (b *SharedMemoryObjectBuilder) BaseAddressHint(hint unsafe.Pointer) *SharedMemoryObjectBuilder {
	b.hint = hint
	return b
}

func (b *SharedMemoryObjectBuilder) ZeroOnCreation(enabled bool) *SharedMemoryObjectBuilder {
	b.zeroOnCreation = enabled
	return b
}

func (b *SharedMemoryObjectBuilder) UnlinkPolicy(policy UnlinkPolicy) *SharedMemoryObjectBuilder {
	b.unlinkPolicy = policy
	return b
}

// Tracer sets the tracer for Create spans. The global otel tracer is used by default.
func (b *SharedMemoryObjectBuilder) Tracer(t trace.Tracer) *SharedMemoryObjectBuilder {
	b.tracer = t
	return b
}

// Meter sets the meter recording allocated bytes. The global otel meter is used by default.
func (b *SharedMemoryObjectBuilder) Meter(m metric.Meter) *SharedMemoryObjectBuilder {
	b.meter = m
	return b
}

func (b *SharedMemoryObjectBuilder) hintString() string {
	if b.hint == nil {
		return " (no hint set)"
	}
	return fmt.Sprintf("%p", b.hint)
}

func (b *SharedMemoryObjectBuilder) logErrorDetails() {
	logger.Errorf("Unable to create a shared memory object with the following properties "+
		"[ name = %s, sizeInBytes = %d, access mode = %s, open mode = %s, baseAddressHint = %s, permissions = %#o ]",
		b.name, b.size, b.accessMode, b.openMode, b.hintString(), uint32(b.permissions.Perm()))
}

func (b *SharedMemoryObjectBuilder) faultMessage() string {
	return fmt.Sprintf("While setting the acquired shared memory to zero a fatal SIGBUS signal appeared. "+
		"The shared memory object with the following properties [ name = %s, sizeInBytes = %d, "+
		"access mode = %s, open mode = %s, baseAddressHint = %s, permissions = %#o ] "+
		"maybe requires more memory than it is currently available in the system.\n",
		b.name, b.size, b.accessMode, b.openMode, b.hintString(), uint32(b.permissions.Perm()))
}

// Create opens or creates the segment, maps it and prepares bump allocation over it.
// Failures are *ObjectError values carrying the lower layer code as cause.
// The context only carries trace information; creation is not cancellable.
func (b *SharedMemoryObjectBuilder) Create(ctx context.Context) (*SharedMemoryObject, error) {
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	_, span := tracer.Start(ctx, "shm.SharedMemoryObject.Create", trace.WithAttributes(
		attribute.String("shm.name", b.name),
		attribute.Int64("shm.size", int64(b.size)),
		attribute.String("shm.access_mode", b.accessMode.String()),
		attribute.String("shm.open_mode", b.openMode.String()),
	))
	defer span.End()

	obj, err := b.create()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("shm.ownership", obj.HasOwnership()))
	return obj, nil
}

func (b *SharedMemoryObjectBuilder) create() (*SharedMemoryObject, error) {
	sharedMemory, err := NewSharedMemoryBuilder().
		Name(b.name).
		AccessMode(b.accessMode).
		OpenMode(b.openMode).
		Permissions(b.permissions).
		Size(b.size).
		UnlinkPolicy(b.unlinkPolicy).
		Create()
	if err != nil {
		b.logErrorDetails()
		logger.Errorf("Unable to create SharedMemoryObject since we could not acquire a SharedMemory resource")
		return nil, &ObjectError{Code: ErrSharedMemoryCreationFailed, Cause: err}
	}

	memoryMap, err := NewMemoryMapBuilder().
		BaseAddressHint(b.hint).
		Length(b.size).
		FileDescriptor(sharedMemory.Handle()).
		AccessMode(b.accessMode).
		Flags(ShareChanges).
		Offset(0).
		Create()
	if err != nil {
		b.logErrorDetails()
		logger.Errorf("Failed to map created shared memory into process!")
		if cerr := sharedMemory.Close(); cerr != nil {
			logger.Errorf("Unable to release shared memory %q in error related cleanup.", b.name)
		}
		return nil, &ObjectError{Code: ErrMappingSharedMemoryFailed, Cause: err}
	}

	allocator := NewBumpAllocator(memoryMap.BaseAddress(), b.size)

	ownership := "attached"
	if sharedMemory.HasOwnership() {
		ownership = "owner"
		logger.Debugf("Trying to reserve %d bytes in the shared memory [%s]", b.size, b.name)
		if b.zeroOnCreation {
			zeroWithFaultGuard(memoryMap.Bytes(), b.faultMessage())
		}
		logger.Debugf("Acquired %d bytes successfully in the shared memory [%s]", b.size, b.name)
	}
	metrics.SharedMemoryObjects.WithLabelValues(ownership).Inc()

	meter := b.meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	allocated, err := meter.Int64Counter("shmipc.shared_memory.allocated_bytes",
		metric.WithDescription("Bytes handed out by shared memory object allocations."),
		metric.WithUnit("By"))
	if err != nil {
		logger.Warnf("unable to create allocation counter: %v", err)
		allocated = noop.Int64Counter{}
	}

	return &SharedMemoryObject{
		sharedMemory: sharedMemory,
		memoryMap:    memoryMap,
		allocator:    allocator,
		size:         b.size,
		allocated:    allocated,
		attrs:        metric.WithAttributes(attribute.String("shm.name", b.name)),
	}, nil
}

// SharedMemoryObject is a mapped shared memory segment with bump allocation
// over its mapping. Allocation offsets are identical in every process that
// performs the same sequence of allocations, which is what FinalizeAllocation
// freezes. It is not safe for concurrent use.
type SharedMemoryObject struct {
	sharedMemory *SharedMemory
	memoryMap    *MemoryMap
	allocator    *BumpAllocator
	size         uint64
	finalized    bool

	allocated metric.Int64Counter
	attrs     metric.MeasurementOption
}

// Allocate reserves size bytes aligned to alignment from the segment.
// The returned error is an AllocationCode.
func (o *SharedMemoryObject) Allocate(size, alignment uint64) (Span, error) {
	if size == 0 {
		logger.Warnf("Cannot allocate memory of size 0.")
		metrics.Allocations.WithLabelValues(metrics.ResultRejected).Inc()
		return Span{}, ErrRequestedZeroSizedMemory
	}
	if o.finalized {
		logger.Warnf("Allocate() call after FinalizeAllocation()! Could not acquire shared memory chunk.")
		metrics.Allocations.WithLabelValues(metrics.ResultRejected).Inc()
		return Span{}, ErrRequestedMemoryAfterFinalizedAllocation
	}
	span, err := o.allocator.Allocate(size, alignment)
	if err != nil {
		logger.Warnf("Not enough space left in shared memory.")
		metrics.Allocations.WithLabelValues(metrics.ResultRejected).Inc()
		return Span{}, ErrNotEnoughMemory
	}
	metrics.Allocations.WithLabelValues(metrics.ResultAllocated).Inc()
	o.allocated.Add(context.Background(), int64(size), o.attrs)
	return span, nil
}

// FinalizeAllocation forbids further allocation. It cannot be undone.
func (o *SharedMemoryObject) FinalizeAllocation() {
	o.finalized = true
}

func (o *SharedMemoryObject) IsAllocationFinalized() bool {
	return o.finalized
}

// BaseAddress is the process local start of the mapping.
func (o *SharedMemoryObject) BaseAddress() unsafe.Pointer {
	return o.memoryMap.BaseAddress()
}

// Bytes views the whole mapping.
func (o *SharedMemoryObject) Bytes() []byte {
	return o.memoryMap.Bytes()
}

func (o *SharedMemoryObject) SizeInBytes() uint64 {
	return o.size
}

// UsedBytes counts allocated bytes including alignment padding.
func (o *SharedMemoryObject) UsedBytes() uint64 {
	return o.allocator.Used()
}

func (o *SharedMemoryObject) FileHandle() int {
	return o.sharedMemory.Handle()
}

func (o *SharedMemoryObject) HasOwnership() bool {
	return o.sharedMemory.HasOwnership()
}

func (o *SharedMemoryObject) Name() string {
	return o.sharedMemory.Name()
}

// Close unmaps the segment, then closes it. Both steps are attempted; any
// failure yields an *ObjectError with ErrInternalLogicFailure.
func (o *SharedMemoryObject) Close() error {
	if o == nil {
		return nil
	}
	err := errors.Join(o.memoryMap.Close(), o.sharedMemory.Close())
	if err != nil {
		return &ObjectError{Code: ErrInternalLogicFailure, Cause: err}
	}
	return nil
}
