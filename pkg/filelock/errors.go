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

package filelock

import (
	"golang.org/x/sys/unix"

	"github.com/srediag/shmipc-core/internal/errtrans"
)

// Code is the closed set of failures of FileLock operations. It implements error.
type Code int

const (
	ErrAccessDenied Code = iota + 1
	ErrQuotaExhausted
	ErrFileTooLarge
	ErrInvalidFileName
	ErrInvalidPath
	ErrProcessLimit
	ErrSystemLimit
	ErrNoSuchDirectory
	ErrOutOfMemory
	ErrSysCallNotImplemented
	ErrSpecialFile
	ErrFileInUse
	ErrLockedByOtherProcess
	ErrIOError
	ErrInternalLogicError
)

var codeNames = [...]string{
	ErrAccessDenied:          "ACCESS_DENIED",
	ErrQuotaExhausted:        "QUOTA_EXHAUSTED",
	ErrFileTooLarge:          "FILE_TOO_LARGE",
	ErrInvalidFileName:       "INVALID_FILE_NAME",
	ErrInvalidPath:           "INVALID_PATH",
	ErrProcessLimit:          "PROCESS_LIMIT",
	ErrSystemLimit:           "SYSTEM_LIMIT",
	ErrNoSuchDirectory:       "NO_SUCH_DIRECTORY",
	ErrOutOfMemory:           "OUT_OF_MEMORY",
	ErrSysCallNotImplemented: "SYS_CALL_NOT_IMPLEMENTED",
	ErrSpecialFile:           "SPECIAL_FILE",
	ErrFileInUse:             "FILE_IN_USE",
	ErrLockedByOtherProcess:  "LOCKED_BY_OTHER_PROCESS",
	ErrIOError:               "I_O_ERROR",
	ErrInternalLogicError:    "INTERNAL_LOGIC_ERROR",
}

func (c Code) String() string {
	if c > 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "UNKNOWN"
}

func (c Code) Error() string {
	return "filelock: " + c.String()
}

var errnoTable = errtrans.Table[Code]{
	Entries: map[unix.Errno]errtrans.Entry[Code]{
		unix.EACCES:    {Code: ErrAccessDenied, Message: "permission denied for file lock %q"},
		unix.EDQUOT:    {Code: ErrQuotaExhausted, Message: "user disk quota exhausted for file lock %q"},
		unix.EFAULT:    {Code: ErrAccessDenied, Message: "outside address space error for file lock %q"},
		unix.EFBIG:     {Code: ErrFileTooLarge, Message: "file lock %q is too large to be opened"},
		unix.EOVERFLOW: {Code: ErrFileTooLarge, Message: "file lock %q is too large to be opened"},
		unix.ELOOP:     {Code: ErrInvalidFileName, Message: "too many symbolic links for file lock %q"},
		unix.EMFILE:    {Code: ErrProcessLimit, Message: "process limit reached for file lock %q"},
		unix.ENFILE:    {Code: ErrSystemLimit, Message: "system limit reached for file lock %q"},
		unix.ENODEV:    {Code: ErrAccessDenied, Message: "permission to access file lock %q denied"},
		unix.ENOENT:    {Code: ErrNoSuchDirectory, Message: "directory of file lock %q does not exist"},
		unix.ENOMEM:    {Code: ErrOutOfMemory, Message: "out of memory for file lock %q"},
		unix.ENOSPC:    {Code: ErrQuotaExhausted, Message: "device has no space for file lock %q"},
		unix.ENOSYS:    {Code: ErrSysCallNotImplemented, Message: "open() not implemented for filesystem of file lock %q"},
		unix.ENXIO:     {Code: ErrSpecialFile, Message: "%q is a special file and no corresponding device exists"},
		unix.EPERM:     {Code: ErrAccessDenied, Message: "permission denied to file lock %q"},
		unix.EROFS:     {Code: ErrInvalidFileName, Message: "read only error for file lock %q"},
		unix.ETXTBSY:   {Code: ErrFileInUse, Message: "write access requested for file lock %q in use"},
		unix.ENOLCK:    {Code: ErrSystemLimit, Message: "system limit for locks reached for file lock %q"},
		unix.EIO:       {Code: ErrIOError, Message: "I/O error for file lock %q"},
		// contention is a normal outcome, never logged
		unix.EWOULDBLOCK: {Code: ErrLockedByOtherProcess},
	},
	Default: errtrans.Entry[Code]{Code: ErrInternalLogicError, Message: "internal logic error in file lock %q occurred"},
	Logger:  logger,
}

func translateErrno(err error, path string) Code {
	return errnoTable.Translate(err, path)
}
