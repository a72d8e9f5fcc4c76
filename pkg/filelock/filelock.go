/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package filelock provides a named, exclusive, non-blocking inter-process lock
// backed by an advisory flock on "<dir>/<name>.lock".
//
// The lock file carries no content: its existence plus the flock is the whole
// protocol, and the holder deletes it on release. Acquisition never waits; a
// held lock yields ErrLockedByOtherProcess and the caller decides whether to poll.
package filelock

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/srediag/shmipc-core/internal/logging"
	"github.com/srediag/shmipc-core/internal/metrics"
	"github.com/srediag/shmipc-core/internal/validate"
)

const (
	// LockFileSuffix is appended to the lock name to form the lock file name.
	LockFileSuffix = ".lock"
	// DefaultPath is the directory used when none is configured.
	DefaultPath = "/tmp"
	// DefaultPermission is applied when the lock file gets created.
	DefaultPermission os.FileMode = 0o644

	invalidFD = -1

	instrumentationName = "github.com/srediag/shmipc-core/pkg/filelock"
)

var logger = logging.New("filelock")

// Builder collects the parameters of a FileLock.
type Builder struct {
	name       string
	path       string
	permission os.FileMode
	tracer     trace.Tracer
}

// NewBuilder returns a builder for a lock in DefaultPath with DefaultPermission.
func NewBuilder() *Builder {
	return &Builder{
		path:       DefaultPath,
		permission: DefaultPermission,
	}
}

// Name sets the logical lock name; it must be a valid file name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Path sets the directory holding the lock file.
func (b *Builder) Path(path string) *Builder {
	b.path = path
	return b
}

// Permission sets the mode of a newly created lock file.
func (b *Builder) Permission(perm os.FileMode) *Builder {
	b.permission = perm
	return b
}

// Tracer sets the tracer for Create spans. The global otel tracer is used by default.
func (b *Builder) Tracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// Create opens the lock file and takes the exclusive lock without blocking.
// The context only carries trace information; acquisition is not cancellable.
func (b *Builder) Create(ctx context.Context) (*FileLock, error) {
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	_, span := tracer.Start(ctx, "filelock.Create", trace.WithAttributes(
		attribute.String("filelock.name", b.name),
		attribute.String("filelock.directory", b.path),
	))
	defer span.End()

	l, err := b.create()
	switch {
	case err == nil:
		metrics.FileLockAcquisitions.WithLabelValues(metrics.ResultAcquired).Inc()
	case err == ErrLockedByOtherProcess:
		metrics.FileLockAcquisitions.WithLabelValues(metrics.ResultLockedByOtherProcess).Inc()
		span.SetAttributes(attribute.Bool("filelock.contended", true))
	default:
		metrics.FileLockAcquisitions.WithLabelValues(metrics.ResultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return l, err
}

func (b *Builder) create() (*FileLock, error) {
	if !validate.IsValidFileName(b.name) {
		logger.Errorf("Unable to create FileLock since the name %q is not a valid file name.", b.name)
		return nil, ErrInvalidFileName
	}
	if !validate.IsValidPathToDirectory(b.path) {
		logger.Errorf("Unable to create FileLock since the path %q is not a valid path.", b.path)
		return nil, ErrInvalidPath
	}

	lockPath := b.path
	if !validate.EndsWithPathSeparator(lockPath) {
		lockPath += string(validate.PathSeparator)
	}
	lockPath += b.name + LockFileSuffix
	if len(lockPath) > validate.MaxPathLength {
		logger.Errorf("Unable to create FileLock since the resulting path %q exceeds the maximum path length.", lockPath)
		return nil, ErrInvalidPath
	}

	fd, err := unix.Open(lockPath, unix.O_RDONLY|unix.O_CREAT|unix.O_CLOEXEC, uint32(b.permission.Perm()))
	if err != nil {
		return nil, translateErrno(err, lockPath)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if cerr := unix.Close(fd); cerr != nil {
			translateErrno(cerr, lockPath)
			logger.Errorf("Unable to close file lock %q in error related cleanup during initialization.", lockPath)
		}
		// a close failure is masked, the caller learns why locking failed
		return nil, translateErrno(err, lockPath)
	}

	logger.Debugf("acquired file lock %q", lockPath)
	return &FileLock{fd: fd, path: lockPath}, nil
}

// FileLock holds an exclusive flock on an open lock file.
//
// A valid FileLock owns exactly one locked descriptor. Release, Move and Assign
// leave the source invalid; releasing an invalid FileLock does nothing.
// A FileLock is not safe for concurrent use.
type FileLock struct {
	fd   int
	path string
}

// Path returns the lock file path, empty once invalidated.
func (l *FileLock) Path() string {
	return l.path
}

// IsValid reports whether l still holds the lock.
func (l *FileLock) IsValid() bool {
	return l != nil && l.fd != invalidFD
}

// Release unlocks, closes and deletes the lock file. Every step is attempted
// even if an earlier one fails; any failure yields ErrInternalLogicError.
// l is invalid afterwards in either case.
func (l *FileLock) Release() error {
	if !l.IsValid() {
		return nil
	}
	cleanupFailed := false

	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		cleanupFailed = true
		translateErrno(err, l.path)
		logger.Errorf("Unable to unlock the file lock %q", l.path)
	}
	if err := unix.Close(l.fd); err != nil {
		cleanupFailed = true
		translateErrno(err, l.path)
		logger.Errorf("Unable to close the file handle to the file lock %q", l.path)
	}
	if err := unix.Unlink(l.path); err != nil {
		cleanupFailed = true
		translateErrno(err, l.path)
		logger.Errorf("Unable to remove the file lock %q", l.path)
	}

	l.invalidate()
	if cleanupFailed {
		return ErrInternalLogicError
	}
	return nil
}

// Move transfers the lock to a new FileLock and invalidates l.
func (l *FileLock) Move() *FileLock {
	moved := &FileLock{fd: invalidFD}
	if l.IsValid() {
		moved.fd, moved.path = l.fd, l.path
		l.invalidate()
	}
	return moved
}

// Assign releases the lock held by l, if any, and takes over the lock of src,
// invalidating src. Assigning l to itself, or from a nil or invalid src, is a no-op.
func (l *FileLock) Assign(src *FileLock) {
	if l == src || !src.IsValid() {
		return
	}
	previous := l.path
	if err := l.Release(); err != nil {
		logger.Errorf("Unable to cleanup file lock %q while taking over file lock %q", previous, src.path)
	}
	l.fd, l.path = src.fd, src.path
	src.invalidate()
}

func (l *FileLock) invalidate() {
	l.fd = invalidFD
	l.path = ""
}
