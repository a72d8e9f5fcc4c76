package shm

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/suite"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shmipc-core/internal/logging"
	"github.com/srediag/shmipc-core/internal/metrics"
)

type SharedMemoryObjectTestSuite struct {
	suite.Suite
	logs    *bytes.Buffer
	restore func()
}

func (s *SharedMemoryObjectTestSuite) SetupTest() {
	s.logs, s.restore = captureLogs(logging.LevelError)
}

func (s *SharedMemoryObjectTestSuite) TearDownTest() {
	s.restore()
}

func (s *SharedMemoryObjectTestSuite) builder(name string, mode OpenMode) *SharedMemoryObjectBuilder {
	return NewSharedMemoryObjectBuilder().
		Name(name).
		MemorySizeInBytes(4096).
		AccessMode(ReadWrite).
		OpenMode(mode).
		Permissions(0o600)
}

func (s *SharedMemoryObjectTestSuite) create(name string, mode OpenMode) *SharedMemoryObject {
	obj, err := s.builder(name, mode).Create(context.Background())
	s.Require().NoError(err)
	s.T().Cleanup(func() { obj.Close() })
	return obj
}

func (s *SharedMemoryObjectTestSuite) TestCreateAndAllocate() {
	obj := s.create(uniqueName("test_shm"), OpenOrCreate)
	s.Require().True(obj.HasOwnership())
	s.Require().Equal(uint64(4096), obj.SizeInBytes())
	s.Require().GreaterOrEqual(obj.FileHandle(), 0)
	s.Require().Len(obj.Bytes(), 4096)

	base := uintptr(obj.BaseAddress())
	first, err := obj.Allocate(64, 8)
	s.Require().NoError(err)
	p1 := uintptr(first.Pointer())
	s.Require().Zero(p1 % 8)
	s.Require().GreaterOrEqual(p1, base)
	s.Require().LessOrEqual(p1+64, base+4096)

	second, err := obj.Allocate(64, 8)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(uintptr(second.Pointer()), p1+64)
	s.Require().Equal(uint64(128), obj.UsedBytes())
}

func (s *SharedMemoryObjectTestSuite) TestExclusiveCreateTwiceFails() {
	name := uniqueName("shm_object_exclusive")
	first := s.create(name, ExclusiveCreate)
	s.Require().True(first.HasOwnership())

	second, err := s.builder(name, ExclusiveCreate).Create(context.Background())
	s.Require().Nil(second)
	s.Require().ErrorIs(err, ErrSharedMemoryCreationFailed)
	s.Require().ErrorIs(err, ErrDoesExist)

	var objErr *ObjectError
	s.Require().True(errors.As(err, &objErr))
	s.Require().Equal(ErrSharedMemoryCreationFailed, objErr.Code)
	s.Require().Contains(s.logs.String(), "Unable to create a shared memory object with the following properties")
	s.Require().Contains(s.logs.String(), "name = "+name)
}

func (s *SharedMemoryObjectTestSuite) TestZeroSizedAllocationAlwaysFails() {
	obj := s.create(uniqueName("shm_object_zero"), ExclusiveCreate)
	_, err := obj.Allocate(0, 8)
	s.Require().ErrorIs(err, ErrRequestedZeroSizedMemory)

	obj.FinalizeAllocation()
	_, err = obj.Allocate(0, 8)
	s.Require().ErrorIs(err, ErrRequestedZeroSizedMemory)
}

func (s *SharedMemoryObjectTestSuite) TestFinalizeAllocation() {
	obj := s.create(uniqueName("shm_object_final"), ExclusiveCreate)
	span, err := obj.Allocate(16, 8)
	s.Require().NoError(err)
	copy(span.Bytes(), "finalized layout")
	s.Require().False(obj.IsAllocationFinalized())

	obj.FinalizeAllocation()
	s.Require().True(obj.IsAllocationFinalized())
	_, err = obj.Allocate(16, 8)
	s.Require().ErrorIs(err, ErrRequestedMemoryAfterFinalizedAllocation)
	s.Require().Equal("finalized layout", string(span.Bytes()))
	s.Require().Equal(uint64(16), obj.UsedBytes())
}

func (s *SharedMemoryObjectTestSuite) TestNotEnoughMemory() {
	obj := s.create(uniqueName("shm_object_full"), ExclusiveCreate)
	before := metrics.CounterValue(metrics.Allocations.WithLabelValues(metrics.ResultRejected))

	var spans []Span
	for i := 0; ; i++ {
		span, err := obj.Allocate(1000, 8)
		if err != nil {
			s.Require().ErrorIs(err, ErrNotEnoughMemory)
			break
		}
		span.Bytes()[0] = byte(i + 1)
		spans = append(spans, span)
	}
	s.Require().Len(spans, 4)
	for i, span := range spans {
		s.Require().Equal(byte(i+1), span.Bytes()[0])
	}
	s.Require().Equal(before+1, metrics.CounterValue(metrics.Allocations.WithLabelValues(metrics.ResultRejected)))
}

func (s *SharedMemoryObjectTestSuite) TestAttacherSharesMemory() {
	name := uniqueName("shm_object_shared")
	owner := s.create(name, ExclusiveCreate)
	attachedBefore := metrics.CounterValue(metrics.SharedMemoryObjects.WithLabelValues("attached"))

	reader, err := NewSharedMemoryObjectBuilder().
		Name(name).MemorySizeInBytes(4096).Create(context.Background())
	s.Require().NoError(err)
	defer reader.Close()
	s.Require().False(reader.HasOwnership())
	s.Require().Equal(attachedBefore+1, metrics.CounterValue(metrics.SharedMemoryObjects.WithLabelValues("attached")))

	written, err := owner.Allocate(5, 1)
	s.Require().NoError(err)
	copy(written.Bytes(), "hello")

	// same allocation sequence, same offset
	read, err := reader.Allocate(5, 1)
	s.Require().NoError(err)
	s.Require().Equal(written.Offset, read.Offset)
	s.Require().Equal("hello", string(read.Bytes()))
}

func (s *SharedMemoryObjectTestSuite) TestAttachDoesNotZero() {
	name := uniqueName("shm_object_keep")
	owner, err := s.builder(name, ExclusiveCreate).UnlinkPolicy(UnlinkNever).Create(context.Background())
	s.Require().NoError(err)
	copy(owner.Bytes(), "survives")
	s.Require().NoError(owner.Close())
	defer UnlinkIfExists(name)

	again := s.create(name, OpenOrCreate)
	s.Require().False(again.HasOwnership())
	s.Require().Equal("survives", string(again.Bytes()[:8]))
}

func (s *SharedMemoryObjectTestSuite) TestMappingFailureReleasesSegment() {
	name := uniqueName("shm_object_unmappable")
	obj, err := s.builder(name, ExclusiveCreate).MemorySizeInBytes(0).Create(context.Background())
	s.Require().Nil(obj)
	s.Require().ErrorIs(err, ErrMappingSharedMemoryFailed)
	s.Require().ErrorIs(err, ErrMapInvalidParameters)
	s.Require().Contains(s.logs.String(), "Failed to map created shared memory into process!")
	s.Require().False(segmentExists(name))
}

func (s *SharedMemoryObjectTestSuite) TestInjectedTelemetry() {
	obj, err := s.builder(uniqueName("shm_object_otel"), ExclusiveCreate).
		Tracer(tracenoop.NewTracerProvider().Tracer("test")).
		Meter(metricnoop.NewMeterProvider().Meter("test")).
		ZeroOnCreation(false).
		Create(context.Background())
	s.Require().NoError(err)
	defer obj.Close()
	_, err = obj.Allocate(8, 8)
	s.Require().NoError(err)
}

func (s *SharedMemoryObjectTestSuite) TestBaseAddressHint() {
	probe := s.create(uniqueName("shm_object_probe"), ExclusiveCreate)
	hint := unsafe.Add(probe.BaseAddress(), 1<<30)

	obj, err := s.builder(uniqueName("shm_object_hint"), ExclusiveCreate).
		BaseAddressHint(hint).
		Create(context.Background())
	s.Require().NoError(err)
	defer obj.Close()
	s.Require().NotNil(obj.BaseAddress())
}

func (s *SharedMemoryObjectTestSuite) TestConcurrentCreation() {
	var wg sync.WaitGroup
	objs := make([]*SharedMemoryObject, 8)
	errs := make([]error, len(objs))
	for i := range objs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			objs[i], errs[i] = s.builder(uniqueName("shm_object_concurrent"), ExclusiveCreate).
				Create(context.Background())
		}(i)
	}
	wg.Wait()
	for i := range objs {
		s.Require().NoError(errs[i])
		s.Require().True(objs[i].HasOwnership())
		s.Require().NoError(objs[i].Close())
	}
}

func (s *SharedMemoryObjectTestSuite) TestCloseIsIdempotent() {
	name := uniqueName("shm_object_close")
	obj, err := s.builder(name, ExclusiveCreate).Create(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(obj.Close())
	s.Require().False(segmentExists(name))
	s.Require().NoError(obj.Close())
}

func TestSharedMemoryObjectTestSuite(t *testing.T) {
	suite.Run(t, new(SharedMemoryObjectTestSuite))
}
