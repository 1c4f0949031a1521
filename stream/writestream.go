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

package stream

import (
	"context"

	vfserrors "github.com/fsnova/vfscore/errors"
)

// WriteFlag selects create/truncate/append/exclusive semantics, mirroring
// the Node.js fs flag strings the engine presents (spec §4.7).
type WriteFlag int

const (
	FlagW  WriteFlag = iota // create-or-truncate
	FlagA                   // append
	FlagWX                  // exclusive create
	FlagAX                  // exclusive append
)

// writeState is the state machine spec §4.12 names: Opening -> Open ->
// Closing -> Closed, with Failed reachable from Closing when the sink fails.
type writeState int

const (
	stateOpening writeState = iota
	stateOpen
	stateClosing
	stateClosed
	stateFailed
)

// Sink persists a write stream's final bytes once Close is called. It is
// supplied by the Capability Facade, wired to the tier router (and, for
// branch-owned paths, the COW handler) rather than implemented here: this
// package knows nothing about tiers or branches, only about buffering and
// the state machine.
type Sink func(ctx context.Context, final []byte) error

// WriteStream accepts chunks and finalizes atomically at Close. Existing
// bytes (for append or a positional start on an existing file) are
// supplied via existing at construction, since a push sink
// has no independent notion of "current file content" to read back.
type WriteStream struct {
	buf   []byte
	state writeState
	sink  Sink
}

// NewWriteStream builds a WriteStream. existing is the current file
// content (nil for a fresh file); flag and start determine how existing
// content seeds buf. ENOENT/EISDIR/EEXIST preconditions (parent missing,
// path is a directory, wx/ax target already exists) are the Capability
// Facade's responsibility to check before constructing a WriteStream,
// since they require metadata-store lookups this package doesn't have.
func NewWriteStream(sink Sink, flag WriteFlag, start int64, existing []byte) *WriteStream {
	w := &WriteStream{state: stateOpen, sink: sink}

	switch flag {
	case FlagA, FlagAX:
		w.buf = append([]byte(nil), existing...)
	case FlagW, FlagWX:
		// POSIX pwrite semantics: content past the write-end is preserved
		// unless the caller explicitly truncates (spec §9 open question,
		// resolved this way). A zero start is a plain create-or-truncate.
		if start > 0 {
			w.buf = append([]byte(nil), existing...)
		}
	}
	return w
}

// Write appends (or, for a positional start, overlays) chunk into the
// stream's pending buffer. Writing past the current buffer length
// implicitly zero-fills the gap.
func (w *WriteStream) Write(at int64, chunk []byte) error {
	if w.state != stateOpen {
		return vfserrors.New(vfserrors.EINVAL, "write", "")
	}
	end := at + int64(len(chunk))
	if int64(len(w.buf)) < end {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[at:end], chunk)
	return nil
}

// Append is shorthand for Write at the current buffer's end.
func (w *WriteStream) Append(chunk []byte) error {
	return w.Write(int64(len(w.buf)), chunk)
}

// Close finalizes the stream: the sink only acknowledges once, and a sink
// failure surfaces as Close's error rather than any prior Write's (spec
// §4.7: "a failure during persistence surfaces as the rejection of
// close(), not of intermediate writes").
func (w *WriteStream) Close(ctx context.Context) error {
	if w.state != stateOpen {
		return vfserrors.New(vfserrors.EINVAL, "close", "")
	}
	w.state = stateClosing
	if err := w.sink(ctx, w.buf); err != nil {
		w.state = stateFailed
		return err
	}
	w.state = stateClosed
	return nil
}

// Cancel discards any partial persistence and transitions directly to
// Closed without invoking the sink (spec §5 cancellation semantics).
func (w *WriteStream) Cancel() {
	if w.state == stateClosed || w.state == stateFailed {
		return
	}
	w.buf = nil
	w.state = stateClosed
}

// Bytes returns the stream's current pending content, for callers (tests,
// the COW handler) that need to inspect it before Close.
func (w *WriteStream) Bytes() []byte {
	return w.buf
}
