package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AccessMode selects read-only or read-write access to a segment.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("AccessMode(%d)", int(m))
}

// UnmarshalText accepts the names produced by String.
func (m *AccessMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read-only":
		*m = ReadOnly
	case "read-write":
		*m = ReadWrite
	default:
		return fmt.Errorf("shm: unknown access mode %q", text)
	}
	return nil
}

func (m AccessMode) openFlags() int {
	if m == ReadWrite {
		return unix.O_RDWR
	}
	return unix.O_RDONLY
}

func (m AccessMode) protection() int {
	if m == ReadWrite {
		return unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.PROT_READ
}

// OpenMode is the policy for a segment that may or may not exist yet.
type OpenMode int

const (
	// ExclusiveCreate fails if the segment exists.
	ExclusiveCreate OpenMode = iota
	// PurgeAndCreate removes an existing segment, then creates exclusively.
	PurgeAndCreate
	// OpenOrCreate creates the segment, or attaches when it exists.
	OpenOrCreate
	// OpenExisting attaches and fails if the segment does not exist.
	OpenExisting
)

func (m OpenMode) String() string {
	switch m {
	case ExclusiveCreate:
		return "exclusive-create"
	case PurgeAndCreate:
		return "purge-and-create"
	case OpenOrCreate:
		return "open-or-create"
	case OpenExisting:
		return "open-existing"
	}
	return fmt.Sprintf("OpenMode(%d)", int(m))
}

// UnmarshalText accepts the names produced by String.
func (m *OpenMode) UnmarshalText(text []byte) error {
	for _, candidate := range []OpenMode{ExclusiveCreate, PurgeAndCreate, OpenOrCreate, OpenExisting} {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("shm: unknown open mode %q", text)
}

func (m OpenMode) mayCreate() bool {
	return m != OpenExisting
}

// UnlinkPolicy decides whether closing the owning handle removes the OS object.
type UnlinkPolicy int

const (
	// UnlinkIfOwner removes the segment when the creating handle is closed.
	UnlinkIfOwner UnlinkPolicy = iota
	// UnlinkNever leaves the segment for other processes; remove it with UnlinkIfExists.
	UnlinkNever
)

func (p UnlinkPolicy) String() string {
	switch p {
	case UnlinkIfOwner:
		return "unlink-if-owner"
	case UnlinkNever:
		return "unlink-never"
	}
	return fmt.Sprintf("UnlinkPolicy(%d)", int(p))
}

// MemoryMapFlags selects sharing and address hint semantics of a mapping.
type MemoryMapFlags int

const (
	// ShareChanges makes writes visible to every process mapping the object.
	ShareChanges MemoryMapFlags = iota
	// PrivateChanges keeps writes copy-on-write private.
	PrivateChanges
	// ShareChangesAndForceBaseAddressHint maps at exactly the hint, replacing existing mappings.
	ShareChangesAndForceBaseAddressHint
	// PrivateChangesAndForceBaseAddressHint is the private variant of the above.
	PrivateChangesAndForceBaseAddressHint
)

func (f MemoryMapFlags) String() string {
	switch f {
	case ShareChanges:
		return "share-changes"
	case PrivateChanges:
		return "private-changes"
	case ShareChangesAndForceBaseAddressHint:
		return "share-changes-and-force-base-address-hint"
	case PrivateChangesAndForceBaseAddressHint:
		return "private-changes-and-force-base-address-hint"
	}
	return fmt.Sprintf("MemoryMapFlags(%d)", int(f))
}

func (f MemoryMapFlags) mmapFlags() int {
	switch f {
	case PrivateChanges:
		return unix.MAP_PRIVATE
	case ShareChangesAndForceBaseAddressHint:
		return unix.MAP_SHARED | unix.MAP_FIXED
	case PrivateChangesAndForceBaseAddressHint:
		return unix.MAP_PRIVATE | unix.MAP_FIXED
	}
	return unix.MAP_SHARED
}
