package shm

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/srediag/shmipc-core/internal/errtrans"
)

// SharedMemoryCode is the closed set of failures of SharedMemory operations.
type SharedMemoryCode int

const (
	ErrEmptyName SharedMemoryCode = iota + 1
	ErrInvalidFileName
	ErrInsufficientPermissions
	ErrDoesExist
	ErrProcessLimitOfOpenFilesReached
	ErrSystemLimitOfOpenFilesReached
	ErrDoesNotExist
	ErrNotEnoughMemoryAvailable
	ErrRequestedMemoryExceedsMaximumFileSize
	ErrPathIsADirectory
	ErrTooManySymbolicLinks
	ErrNoFileResizeSupport
	ErrNoResizeSupport
	ErrInvalidFileDescriptor
	ErrIncompatibleOpenAndAccessMode
	ErrUnknown
)

var sharedMemoryCodeNames = [...]string{
	ErrEmptyName:                             "EMPTY_NAME",
	ErrInvalidFileName:                       "INVALID_FILE_NAME",
	ErrInsufficientPermissions:               "INSUFFICIENT_PERMISSIONS",
	ErrDoesExist:                             "DOES_EXIST",
	ErrProcessLimitOfOpenFilesReached:        "PROCESS_LIMIT_OF_OPEN_FILES_REACHED",
	ErrSystemLimitOfOpenFilesReached:         "SYSTEM_LIMIT_OF_OPEN_FILES_REACHED",
	ErrDoesNotExist:                          "DOES_NOT_EXIST",
	ErrNotEnoughMemoryAvailable:              "NOT_ENOUGH_MEMORY_AVAILABLE",
	ErrRequestedMemoryExceedsMaximumFileSize: "REQUESTED_MEMORY_EXCEEDS_MAXIMUM_FILE_SIZE",
	ErrPathIsADirectory:                      "PATH_IS_A_DIRECTORY",
	ErrTooManySymbolicLinks:                  "TOO_MANY_SYMBOLIC_LINKS",
	ErrNoFileResizeSupport:                   "NO_FILE_RESIZE_SUPPORT",
	ErrNoResizeSupport:                       "NO_RESIZE_SUPPORT",
	ErrInvalidFileDescriptor:                 "INVALID_FILEDESCRIPTOR",
	ErrIncompatibleOpenAndAccessMode:         "INCOMPATIBLE_OPEN_AND_ACCESS_MODE",
	ErrUnknown:                               "UNKNOWN_ERROR",
}

func (c SharedMemoryCode) String() string {
	if c > 0 && int(c) < len(sharedMemoryCodeNames) {
		return sharedMemoryCodeNames[c]
	}
	return "UNKNOWN_ERROR"
}

func (c SharedMemoryCode) Error() string {
	return "shm: shared memory: " + c.String()
}

var sharedMemoryErrnos = errtrans.Table[SharedMemoryCode]{
	Entries: map[unix.Errno]errtrans.Entry[SharedMemoryCode]{
		unix.EACCES:       {Code: ErrInsufficientPermissions, Message: "No permission to modify, truncate or access the shared memory %q!"},
		unix.EPERM:        {Code: ErrNoResizeSupport, Message: "Resizing a file beyond its current size is not supported by the filesystem for %q!"},
		unix.EFBIG:        {Code: ErrRequestedMemoryExceedsMaximumFileSize, Message: "Requested shared memory %q is larger than the maximum file size."},
		unix.EINVAL:       {Code: ErrRequestedMemoryExceedsMaximumFileSize, Message: "Requested shared memory %q is larger than the maximum file size or the filesystem does not support resizing."},
		unix.EBADF:        {Code: ErrInvalidFileDescriptor, Message: "Provided invalid file descriptor for shared memory %q."},
		unix.EEXIST:       {Code: ErrDoesExist, Message: "A shared memory %q with the given name already exists."},
		unix.EISDIR:       {Code: ErrPathIsADirectory, Message: "The requested shared memory %q is a directory."},
		unix.ELOOP:        {Code: ErrTooManySymbolicLinks, Message: "Too many symbolic links encountered while accessing shared memory %q."},
		unix.EMFILE:       {Code: ErrProcessLimitOfOpenFilesReached, Message: "Process limit of maximum open files reached while opening shared memory %q."},
		unix.ENFILE:       {Code: ErrSystemLimitOfOpenFilesReached, Message: "System limit of maximum open files reached while opening shared memory %q."},
		unix.ENOENT:       {Code: ErrDoesNotExist, Message: "Shared memory %q does not exist."},
		unix.ENOSPC:       {Code: ErrNotEnoughMemoryAvailable, Message: "Not enough memory available to create shared memory %q."},
		unix.ENOMEM:       {Code: ErrNotEnoughMemoryAvailable, Message: "Not enough memory available to create shared memory %q."},
		unix.ENAMETOOLONG: {Code: ErrInvalidFileName, Message: "The name of shared memory %q is too long."},
		unix.EROFS:        {Code: ErrNoFileResizeSupport, Message: "The filesystem of shared memory %q is read only and cannot be resized."},
		unix.ENOSYS:       {Code: ErrNoFileResizeSupport, Message: "Named shared memory %q is not supported on this platform."},
	},
	Default: errtrans.Entry[SharedMemoryCode]{Code: ErrUnknown, Message: "This should never happen! An unknown error occurred for shared memory %q."},
	Logger:  logger,
}

// MemoryMapCode is the closed set of failures of MemoryMap operations.
type MemoryMapCode int

const (
	ErrMapAccessFailed MemoryMapCode = iota + 1
	ErrMapUnableToLock
	ErrMapInvalidFileDescriptor
	ErrMapOverlap
	ErrMapInvalidParameters
	ErrMapOpenFilesSystemLimitExceeded
	ErrMapFilesystemDoesNotSupportMemoryMapping
	ErrMapNotEnoughMemoryAvailable
	ErrMapOverflowingParameters
	ErrMapPermissionFailure
	ErrMapNoWritePermission
	ErrMapUnknown
)

var memoryMapCodeNames = [...]string{
	ErrMapAccessFailed:                          "ACCESS_FAILED",
	ErrMapUnableToLock:                          "UNABLE_TO_LOCK",
	ErrMapInvalidFileDescriptor:                 "INVALID_FILE_DESCRIPTOR",
	ErrMapOverlap:                               "MAP_OVERLAP",
	ErrMapInvalidParameters:                     "INVALID_PARAMETERS",
	ErrMapOpenFilesSystemLimitExceeded:          "OPEN_FILES_SYSTEM_LIMIT_EXCEEDED",
	ErrMapFilesystemDoesNotSupportMemoryMapping: "FILESYSTEM_DOES_NOT_SUPPORT_MEMORY_MAPPING",
	ErrMapNotEnoughMemoryAvailable:              "NOT_ENOUGH_MEMORY_AVAILABLE",
	ErrMapOverflowingParameters:                 "OVERFLOWING_PARAMETERS",
	ErrMapPermissionFailure:                     "PERMISSION_FAILURE",
	ErrMapNoWritePermission:                     "NO_WRITE_PERMISSION",
	ErrMapUnknown:                               "UNKNOWN_ERROR",
}

func (c MemoryMapCode) String() string {
	if c > 0 && int(c) < len(memoryMapCodeNames) {
		return memoryMapCodeNames[c]
	}
	return "UNKNOWN_ERROR"
}

func (c MemoryMapCode) Error() string {
	return "shm: memory map: " + c.String()
}

var memoryMapErrnos = errtrans.Table[MemoryMapCode]{
	Entries: map[unix.Errno]errtrans.Entry[MemoryMapCode]{
		unix.EACCES:    {Code: ErrMapAccessFailed, Message: "File descriptor of %q is not a regular file or its open mode does not fit the requested access."},
		unix.EAGAIN:    {Code: ErrMapUnableToLock, Message: "The mapping of %q could not be locked or too much memory is locked."},
		unix.EBADF:     {Code: ErrMapInvalidFileDescriptor, Message: "Invalid file descriptor provided for mapping %q."},
		unix.EEXIST:    {Code: ErrMapOverlap, Message: "The mapping of %q would overlap an existing mapping at the requested address."},
		unix.EINVAL:    {Code: ErrMapInvalidParameters, Message: "Invalid address, length or offset provided for mapping %q."},
		unix.ENFILE:    {Code: ErrMapOpenFilesSystemLimitExceeded, Message: "System limit of open files exceeded while mapping %q."},
		unix.ENODEV:    {Code: ErrMapFilesystemDoesNotSupportMemoryMapping, Message: "The filesystem of %q does not support memory mapping."},
		unix.ENOMEM:    {Code: ErrMapNotEnoughMemoryAvailable, Message: "Not enough memory or address space available to map %q."},
		unix.EOVERFLOW: {Code: ErrMapOverflowingParameters, Message: "Length and offset of mapping %q overflow the address space."},
		unix.EPERM:     {Code: ErrMapPermissionFailure, Message: "Mapping %q was denied by the operating system."},
		unix.ETXTBSY:   {Code: ErrMapNoWritePermission, Message: "Write access requested for %q which is open for execution."},
	},
	Default: errtrans.Entry[MemoryMapCode]{Code: ErrMapUnknown, Message: "This should never happen! An unknown error occurred while mapping %q."},
	Logger:  logger,
}

// ObjectCode is the closed set of SharedMemoryObject creation failures.
type ObjectCode int

const (
	ErrSharedMemoryCreationFailed ObjectCode = iota + 1
	ErrMappingSharedMemoryFailed
	ErrInternalLogicFailure
)

func (c ObjectCode) String() string {
	switch c {
	case ErrSharedMemoryCreationFailed:
		return "SHARED_MEMORY_CREATION_FAILED"
	case ErrMappingSharedMemoryFailed:
		return "MAPPING_SHARED_MEMORY_FAILED"
	case ErrInternalLogicFailure:
		return "INTERNAL_LOGIC_FAILURE"
	}
	return "UNKNOWN"
}

func (c ObjectCode) Error() string {
	return "shm: shared memory object: " + c.String()
}

// ObjectError pairs a coarse ObjectCode with the lower layer failure that caused it.
// errors.Is matches both the code and the cause.
type ObjectError struct {
	Code  ObjectCode
	Cause error
}

func (e *ObjectError) Error() string {
	if e.Cause == nil {
		return e.Code.Error()
	}
	return e.Code.Error() + ": " + e.Cause.Error()
}

func (e *ObjectError) Is(target error) bool {
	c, ok := target.(ObjectCode)
	return ok && c == e.Code
}

func (e *ObjectError) Unwrap() error {
	return e.Cause
}

// AllocationCode is the closed set of SharedMemoryObject.Allocate failures.
type AllocationCode int

const (
	ErrNotEnoughMemory AllocationCode = iota + 1
	ErrRequestedMemoryAfterFinalizedAllocation
	ErrRequestedZeroSizedMemory
)

func (c AllocationCode) String() string {
	switch c {
	case ErrNotEnoughMemory:
		return "NOT_ENOUGH_MEMORY"
	case ErrRequestedMemoryAfterFinalizedAllocation:
		return "REQUESTED_MEMORY_AFTER_FINALIZED_ALLOCATION"
	case ErrRequestedZeroSizedMemory:
		return "REQUESTED_ZERO_SIZED_MEMORY"
	}
	return "UNKNOWN"
}

func (c AllocationCode) Error() string {
	return "shm: allocation: " + c.String()
}

// Bump allocator failures.
var (
	ErrZeroSizedAllocation = errors.New("shm: bump allocator: zero sized allocation")
	ErrOutOfMemory         = errors.New("shm: bump allocator: out of memory")
)
