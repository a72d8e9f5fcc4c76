package shm

import (
	"errors"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/srediag/shmipc-core/internal/logging"
	internalshm "github.com/srediag/shmipc-core/internal/shm"
	"github.com/srediag/shmipc-core/internal/validate"
)

const (
	// MaxNameLength is the longest accepted shared memory name.
	MaxNameLength = internalshm.MaxNameLength
	// DefaultPermissions applies to newly created segments.
	DefaultPermissions os.FileMode = 0o600

	invalidHandle = -1
)

var logger = logging.New("shm")

// SharedMemoryBuilder collects the parameters of a SharedMemory.
type SharedMemoryBuilder struct {
	name         string
	size         uint64
	accessMode   AccessMode
	openMode     OpenMode
	permissions  os.FileMode
	unlinkPolicy UnlinkPolicy
}

// NewSharedMemoryBuilder returns a builder attaching read-only to an existing segment.
func NewSharedMemoryBuilder() *SharedMemoryBuilder {
	return &SharedMemoryBuilder{
		accessMode:  ReadOnly,
		openMode:    OpenExisting,
		permissions: DefaultPermissions,
	}
}

func (b *SharedMemoryBuilder) Name(name string) *SharedMemoryBuilder {
	b.name = name
	return b
}

// Size is applied only when the segment gets created.
func (b *SharedMemoryBuilder) Size(size uint64) *SharedMemoryBuilder {
	b.size = size
	return b
}

func (b *SharedMemoryBuilder) AccessMode(mode AccessMode) *SharedMemoryBuilder {
	b.accessMode = mode
	return b
}

func (b *SharedMemoryBuilder) OpenMode(mode OpenMode) *SharedMemoryBuilder {
	b.openMode = mode
	return b
}

func (b *SharedMemoryBuilder) Permissions(perm os.FileMode) *SharedMemoryBuilder {
	b.permissions = perm
	return b
}

func (b *SharedMemoryBuilder) UnlinkPolicy(policy UnlinkPolicy) *SharedMemoryBuilder {
	b.unlinkPolicy = policy
	return b
}

// Create opens or creates the named segment according to the open mode.
// The returned error is a SharedMemoryCode.
func (b *SharedMemoryBuilder) Create() (*SharedMemory, error) {
	if b.name == "" {
		logger.Errorf("No shared memory name specified!")
		return nil, ErrEmptyName
	}
	if len(b.name) > MaxNameLength || !validate.IsValidFileName(b.name) {
		logger.Errorf("Shared memory requires a valid file name (not path) as name and %q is not a valid file name", b.name)
		return nil, ErrInvalidFileName
	}
	if b.accessMode == ReadOnly && b.openMode.mayCreate() {
		logger.Errorf("Cannot create shared memory %q with open mode %s and access mode %s. "+
			"A created segment must be writable.", b.name, b.openMode, b.accessMode)
		return nil, ErrIncompatibleOpenAndAccessMode
	}

	if b.openMode == PurgeAndCreate {
		if err := internalshm.Unlink(b.name); err == nil {
			logger.Debugf("removed stale shared memory %q", b.name)
		} else if !errors.Is(err, unix.ENOENT) {
			return nil, sharedMemoryErrnos.Translate(err, b.name)
		}
	}

	fd, owner, err := b.open()
	if err != nil {
		return nil, sharedMemoryErrnos.Translate(err, b.name)
	}

	mem := &SharedMemory{
		fd:           fd,
		name:         b.name,
		ownership:    owner,
		unlinkPolicy: b.unlinkPolicy,
	}
	if owner {
		if code := b.prepareOwned(fd); code != 0 {
			b.cleanupOwned(fd)
			return nil, code
		}
		mem.size = b.size
		logger.Debugf("created shared memory %q with %d bytes", b.name, b.size)
		return mem, nil
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		code := sharedMemoryErrnos.Translate(err, b.name)
		if cerr := unix.Close(fd); cerr != nil {
			logger.Errorf("Unable to close shared memory %q in error related cleanup.", b.name)
		}
		return nil, code
	}
	mem.size = uint64(st.Size)
	logger.Debugf("attached to shared memory %q with %d bytes", b.name, mem.size)
	return mem, nil
}

// open returns the descriptor and whether this call created the object.
func (b *SharedMemoryBuilder) open() (int, bool, error) {
	flags := b.accessMode.openFlags()
	perm := uint32(b.permissions.Perm())

	switch b.openMode {
	case ExclusiveCreate, PurgeAndCreate:
		fd, err := internalshm.Open(b.name, flags|unix.O_CREAT|unix.O_EXCL, perm)
		return fd, err == nil, err
	case OpenOrCreate:
		fd, err := internalshm.Open(b.name, flags|unix.O_CREAT|unix.O_EXCL, perm)
		if err == nil {
			return fd, true, nil
		}
		if !errors.Is(err, unix.EEXIST) {
			return invalidHandle, false, err
		}
		fd, err = internalshm.Open(b.name, flags, perm)
		return fd, false, err
	default:
		fd, err := internalshm.Open(b.name, flags, perm)
		return fd, false, err
	}
}

// prepareOwned applies permissions and size to a freshly created object.
// It returns 0 on success.
func (b *SharedMemoryBuilder) prepareOwned(fd int) SharedMemoryCode {
	// the umask must not narrow the requested permissions
	if err := unix.Fchmod(fd, uint32(b.permissions.Perm())); err != nil {
		return sharedMemoryErrnos.Translate(err, b.name)
	}
	if b.size > math.MaxInt64 {
		logger.Errorf("Requested shared memory %q of %d bytes is larger than the maximum file size.", b.name, b.size)
		return ErrRequestedMemoryExceedsMaximumFileSize
	}
	if free, err := internalshm.Capacity(); err != nil {
		logger.Warnf("unable to query free capacity of %s, skipping capacity check: %v", internalshm.Dir, err)
	} else if b.size > free {
		logger.Errorf("Not enough memory available to create shared memory %q with %d bytes, only %d bytes are free.",
			b.name, b.size, free)
		return ErrNotEnoughMemoryAvailable
	}
	if err := unix.Ftruncate(fd, int64(b.size)); err != nil {
		return sharedMemoryErrnos.Translate(err, b.name)
	}
	return 0
}

func (b *SharedMemoryBuilder) cleanupOwned(fd int) {
	if err := unix.Close(fd); err != nil {
		logger.Errorf("Unable to close shared memory %q in error related cleanup.", b.name)
	}
	if err := internalshm.Unlink(b.name); err != nil {
		logger.Errorf("Unable to remove shared memory %q in error related cleanup.", b.name)
	}
}

// SharedMemory owns the descriptor of a named shared memory object.
type SharedMemory struct {
	fd           int
	name         string
	ownership    bool
	size         uint64
	unlinkPolicy UnlinkPolicy
}

// Handle returns the file descriptor, -1 once closed.
func (s *SharedMemory) Handle() int {
	return s.fd
}

// HasOwnership reports whether this handle created the object.
func (s *SharedMemory) HasOwnership() bool {
	return s.ownership
}

func (s *SharedMemory) Name() string {
	return s.name
}

// Size is the requested size for the creator and the observed size for an attacher.
func (s *SharedMemory) Size() uint64 {
	return s.size
}

// Close closes the descriptor and, for the owner under UnlinkIfOwner, removes the object.
// Both steps are attempted; the first failure is returned.
func (s *SharedMemory) Close() error {
	if s == nil || s.fd == invalidHandle {
		return nil
	}
	var first error
	if err := unix.Close(s.fd); err != nil {
		first = sharedMemoryErrnos.Translate(err, s.name)
		logger.Errorf("Unable to close the file handle of shared memory %q", s.name)
	}
	if s.ownership && s.unlinkPolicy == UnlinkIfOwner {
		if err := internalshm.Unlink(s.name); err != nil {
			code := sharedMemoryErrnos.Translate(err, s.name)
			logger.Errorf("Unable to unlink shared memory %q", s.name)
			if first == nil {
				first = code
			}
		}
	}
	s.fd = invalidHandle
	return first
}

// UnlinkIfExists removes the named object. It reports false without error when
// nothing was there. Processes that mapped the object keep their mapping.
func UnlinkIfExists(name string) (bool, error) {
	if name == "" {
		return false, ErrEmptyName
	}
	if len(name) > MaxNameLength || !validate.IsValidFileName(name) {
		return false, ErrInvalidFileName
	}
	if err := internalshm.Unlink(name); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, sharedMemoryErrnos.Translate(err, name)
	}
	return true, nil
}
