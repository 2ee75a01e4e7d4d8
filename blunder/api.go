// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface. Every failure a workload
// thread can experience is reduced to an errno-style status via Status().
//
// This package is implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   You can add any context information to an error with `e = merry.WithValue(e, "code", 12345)`
//   You can retrieve that value with `v, _ := merry.Value(e, "code").(int)`
package blunder

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/smallfile/logger"
)

// FsError values correspond to linux/POSIX errnos as defined in errno.h
//
// NOTE: unix.Errno is used here because they are errno constants that exist in Go-land.
//       We need to cast it to an int to get the errno value.
//
type FsError int

const (
	NotPermError      FsError = FsError(int(unix.EPERM))     // Operation not permitted
	NotFoundError     FsError = FsError(int(unix.ENOENT))    // No such file or directory
	IOError           FsError = FsError(int(unix.EIO))       // I/O error
	BadFileError      FsError = FsError(int(unix.EBADF))     // Bad file number
	PermDeniedError   FsError = FsError(int(unix.EACCES))    // Permission denied
	DevBusyError      FsError = FsError(int(unix.EBUSY))     // Device or resource busy
	FileExistsError   FsError = FsError(int(unix.EEXIST))    // File exists
	NotDirError       FsError = FsError(int(unix.ENOTDIR))   // Not a directory
	IsDirError        FsError = FsError(int(unix.EISDIR))    // Is a directory
	InvalidArgError   FsError = FsError(int(unix.EINVAL))    // Invalid argument
	NoSpaceError      FsError = FsError(int(unix.ENOSPC))    // No space left on device
	NotEmptyError     FsError = FsError(int(unix.ENOTEMPTY)) // Directory not empty
	NoDataError       FsError = FsError(int(unix.ENODATA))   // No data available
	NotSupportedError FsError = FsError(int(unix.ENOTSUP))   // Operation not supported
	TimedOut          FsError = FsError(int(unix.ETIMEDOUT)) // Connection timed out
	CancelledError    FsError = FsError(int(unix.ECANCELED)) // Operation canceled
)

// Errors that map to constants already defined above
const (
	DataIntegrityError FsError = IOError
	ConfigError        FsError = NotSupportedError
	AbortedError       FsError = CancelledError
)

// Success error
const SuccessError FsError = 0

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

// FailureKind classifies why a workload thread stopped early
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureOS
	FailureDataIntegrity
	FailureCancelled
	FailureConfig
	FailureInternal
)

func (kind FailureKind) String() string {
	switch kind {
	case FailureNone:
		return "none"
	case FailureOS:
		return "os"
	case FailureDataIntegrity:
		return "data-integrity"
	case FailureCancelled:
		return "cancelled"
	case FailureConfig:
		return "config"
	case FailureInternal:
		return "internal"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(kind))
	}
}

// Value returns the int value for the specified FsError constant
func (err FsError) Value() int {
	return int(err)
}

// NewError creates a new merry/blunder.FsError-annotated error using the given
// format string and arguments.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add FS error detail to a Go error.
//
// NOTE: Checks whether the error value has already been set
//       Note that by default merry will replace the old with the new.
//
func AddError(e error, errValue FsError) error {
	if nil == e {
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	prevValue := Errno(e)
	if (prevValue != successErrno) && (prevValue != failureErrno) && (prevValue != int(errValue)) {
		logger.Warnf("replacing error value %v with value %v for error %v", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// NewDataIntegrityError reports that bytes read back differ from the bytes expected
//
// offset is the file offset of the first mismatching byte.
func NewDataIntegrityError(op string, filePath string, requested uint64, got uint64, offset uint64) error {
	return merry.WrapSkipping(fmt.Errorf("%s: data integrity failure in %s: requested %d bytes got %d, first mismatch at offset %d", op, filePath, requested, got, offset), 1).
		WithValue("errno", int(DataIntegrityError)).
		WithValue("kind", FailureDataIntegrity).
		WithValue("op", op).
		WithValue("file", filePath).
		WithValue("request", requested).
		WithValue("bytes", got).
		WithValue("offset", offset)
}

// NewIntegrityErrorf reports a data integrity failure that is not about byte contents,
// such as a directory entry missing from a listing
func NewIntegrityErrorf(format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).
		WithValue("errno", int(DataIntegrityError)).
		WithValue("kind", FailureDataIntegrity)
}

// NewCancelledError reports that a thread was told to stop by the abort signal or its context
func NewCancelledError(format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).
		WithValue("errno", int(CancelledError)).
		WithValue("kind", FailureCancelled)
}

// NewConfigError reports an invalid workload parameter
func NewConfigError(format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).
		WithValue("errno", int(ConfigError)).
		WithValue("kind", FailureConfig)
}

// NewInternalError reports a broken assumption inside the engine itself
func NewInternalError(format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).
		WithValue("errno", failureErrno).
		WithValue("kind", FailureInternal)
}

// FailureKindOf returns the classification of e
func FailureKindOf(e error) FailureKind {
	if nil == e {
		return FailureNone
	}

	if kind, ok := merry.Value(e, "kind").(FailureKind); ok {
		return kind
	}

	if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
		return FailureCancelled
	}

	if _, ok := osErrno(e); ok {
		return FailureOS
	}

	return FailureInternal
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
//
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	var errno = failureErrno
	if tmp, ok := merry.Value(e, "errno").(int); ok {
		errno = tmp
	}

	return errno
}

// Status reduces e to the non-negative status a workload thread reports
//
// A nil error is 0, an annotated error returns its errno, an OS error returns
// its syscall errno, and anything else returns 1.
func Status(e error) int {
	if nil == e {
		return successErrno
	}

	errno := Errno(e)
	if 0 < errno {
		return errno
	}

	if osErrnoValue, ok := osErrno(e); ok && (0 != osErrnoValue) {
		return int(osErrnoValue)
	}

	if errors.Is(e, context.Canceled) || errors.Is(e, context.DeadlineExceeded) {
		return int(CancelledError)
	}

	return 1
}

// ErrorString returns the error string with its errno appended, if set
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errPlusVal := e.Error()

	if tmp, ok := merry.Value(e, "errno").(int); ok {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, tmp)
	}

	return errPlusVal
}

// Details returns the error string plus the stack trace captured by merry
func Details(e error) string {
	return merry.Details(e)
}

// Is checks if an error matches a particular FsError
//
// NOTE: Because the value of the underlying errno is used to do this check, one cannot
//       use this API to distinguish between FsErrors that use the same errno value.
//
func Is(e error, theError FsError) bool {
	return Status(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular FsError
func IsNot(e error, theError FsError) bool {
	return !Is(e, theError)
}

// IsSuccess checks if an error is the success FsError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsErrno reports whether the syscall.Errno in e's chain equals errno
func IsErrno(e error, errno syscall.Errno) bool {
	osErrnoValue, ok := osErrno(e)
	return ok && (osErrnoValue == errno)
}

// os.PathError, os.LinkError and os.SyscallError all unwrap to their syscall.Errno
func osErrno(e error) (errno syscall.Errno, ok bool) {
	ok = errors.As(e, &errno)
	return
}
