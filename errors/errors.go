// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the POSIX-style error taxonomy shared by every
// layer of the engine. There is a single sum type, Error, rather than one
// Go error type per errno: callers switch on Kind, not on concrete type.
package errors

import "fmt"

// Kind identifies one of the POSIX error conditions the engine can surface.
// The Errno values are the negative libuv-style codes used by Node.js's fs
// module, since the engine presents Node-compatible error semantics.
type Kind int

const (
	_ Kind = iota
	EPERM
	ENOENT
	EBADF
	EACCES
	EEXIST
	ENOTDIR
	EISDIR
	EINVAL
	ENFILE
	EMFILE
	ENOSPC
	EROFS
	EXDEV
	ENOTEMPTY
	ENAMETOOLONG
	ELOOP
	EBUSY
)

// errno is the fixed negative libuv-style error number for each Kind.
var errno = map[Kind]int{
	EPERM:        -1,
	ENOENT:       -2,
	EBADF:        -9,
	EACCES:       -13,
	EEXIST:       -17,
	ENOTDIR:      -20,
	EISDIR:       -21,
	EINVAL:       -22,
	ENFILE:       -23,
	EMFILE:       -24,
	ENOSPC:       -28,
	EROFS:        -30,
	EXDEV:        -18,
	ENOTEMPTY:    -39,
	ENAMETOOLONG: -36,
	ELOOP:        -40,
	EBUSY:        -16,
}

// text is the fixed human-readable fragment for each Kind.
var text = map[Kind]string{
	EPERM:        "operation not permitted",
	ENOENT:       "no such file or directory",
	EBADF:        "bad file descriptor",
	EACCES:       "permission denied",
	EEXIST:       "file already exists",
	ENOTDIR:      "not a directory",
	EISDIR:       "illegal operation on a directory",
	EINVAL:       "invalid argument",
	ENFILE:       "file table overflow",
	EMFILE:       "too many open files",
	ENOSPC:       "no space left on device",
	EROFS:        "read-only file system",
	EXDEV:        "cross-device link not permitted",
	ENOTEMPTY:    "directory not empty",
	ENAMETOOLONG: "name too long",
	ELOOP:        "too many symbolic links encountered",
	EBUSY:        "resource busy or locked",
}

func (k Kind) String() string {
	switch k {
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case EBADF:
		return "EBADF"
	case EACCES:
		return "EACCES"
	case EEXIST:
		return "EEXIST"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case ENFILE:
		return "ENFILE"
	case EMFILE:
		return "EMFILE"
	case ENOSPC:
		return "ENOSPC"
	case EROFS:
		return "EROFS"
	case EXDEV:
		return "EXDEV"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case ELOOP:
		return "ELOOP"
	case EBUSY:
		return "EBUSY"
	default:
		return "EUNKNOWN"
	}
}

// Errno returns the fixed negative error number for k.
func (k Kind) Errno() int {
	return errno[k]
}

// Error is the single error type produced by every engine operation that
// can fail with a POSIX condition. Wrapping one with fmt.Errorf's %w keeps
// its Kind recoverable through KindOf or errors.As.
type Error struct {
	Kind    Kind
	Syscall string
	Path    string
	Dest    string // set only for two-path operations (rename, link, copyFile)
	Cause   error  // underlying backend error, if any
}

// New builds an Error for syscall operating on path.
func New(kind Kind, syscall, path string) *Error {
	return &Error{Kind: kind, Syscall: syscall, Path: path}
}

// NewTwoPath builds an Error for a two-path syscall such as rename or link.
func NewTwoPath(kind Kind, syscall, path, dest string) *Error {
	return &Error{Kind: kind, Syscall: syscall, Path: path, Dest: dest}
}

// Wrap builds an Error that carries an underlying backend failure as Cause.
func Wrap(kind Kind, syscall, path string, cause error) *Error {
	return &Error{Kind: kind, Syscall: syscall, Path: path, Cause: cause}
}

// Error implements the error interface with the fixed
// "CODE: text, syscall 'path'[ -> 'dest']" wire format from spec §6.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s, %s '%s'", e.Kind, text[e.Kind], e.Syscall, e.Path)
	if e.Dest != "" {
		msg += fmt.Sprintf(" -> '%s'", e.Dest)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Kind, so callers can write
// errors.Is(err, errors.New(ENOENT, "", "")) style checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var fsErr *Error
	if as(err, &fsErr) {
		return fsErr.Kind, true
	}
	return 0, false
}

// as is a local equivalent of errors.As for *Error targets: it walks the
// Unwrap chain itself, so this package need not import the stdlib errors
// package under the name it already uses for itself.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
