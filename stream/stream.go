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

// Package stream implements the engine's Stream Engine (spec §4.7): a
// pull-model read stream bounded by highWaterMark-sized chunks, and a
// push-model write stream that finalizes atomically at Close. Both honor
// cancellation via context.Context, the idiom the rest of the engine uses
// for suspension points (spec §5).
package stream

import (
	"context"

	vfserrors "github.com/fsnova/vfscore/errors"
)

// DefaultHighWaterMark is the default chunk size bound for both stream
// directions (spec §4.7).
const DefaultHighWaterMark = 64 * 1024

// ReadOptions configures createReadStream.
type ReadOptions struct {
	Start         int64 // inclusive; default 0
	End           int64 // inclusive; default size-1; negative means "unset"
	HighWaterMark int   // default DefaultHighWaterMark
}

// ReadStream is a pull producer: callers repeatedly call Pull until it
// reports done. This matches spec §9's "Generators / async iterators"
// guidance (pull() -> Option<Chunk> plus cancel()) rather than a
// callback-fanout push API.
type ReadStream struct {
	data          []byte
	pos           int
	end           int // exclusive
	highWaterMark int
	cancelled     bool
	closed        bool
}

// NewReadStream builds a ReadStream over the full in-memory byte slice of
// a file's current content, clipped to [opts.Start, opts.End]. size is the
// inode's authoritative byte length.
//
// EINVAL when start > end on a non-empty file; end is silently clamped to
// size-1 when it overshoots; a zero-length file yields an already-closed,
// empty stream.
func NewReadStream(ctx context.Context, content []byte, size int64, opts ReadOptions) (*ReadStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, vfserrors.New(vfserrors.EINVAL, "createReadStream", "")
	}

	hwm := opts.HighWaterMark
	if hwm <= 0 {
		hwm = DefaultHighWaterMark
	}

	if size == 0 {
		return &ReadStream{highWaterMark: hwm, closed: true}, nil
	}

	start := opts.Start
	end := opts.End
	if end < 0 || end >= size {
		end = size - 1
	}
	if start > end {
		return nil, vfserrors.New(vfserrors.EINVAL, "createReadStream", "")
	}

	return &ReadStream{
		data:          content,
		pos:           int(start),
		end:           int(end) + 1,
		highWaterMark: hwm,
	}, nil
}

// Pull returns the next chunk, or (nil, true) once the stream is
// exhausted, cancelled, or was constructed empty. Each chunk is at most
// highWaterMark bytes, enforcing the backpressure bound of spec §4.7: the
// engine never buffers more than one chunk ahead of the consumer because
// Pull only ever materializes the chunk it returns.
func (r *ReadStream) Pull() ([]byte, bool) {
	if r.closed || r.cancelled || r.pos >= r.end {
		return nil, true
	}
	next := r.pos + r.highWaterMark
	if next > r.end {
		next = r.end
	}
	chunk := r.data[r.pos:next]
	r.pos = next
	return chunk, false
}

// Cancel aborts the stream. A subsequent Pull reports done with no error;
// cancellation mid-stream closes it gracefully (spec §5).
func (r *ReadStream) Cancel() {
	r.cancelled = true
}

// Done reports whether the stream has nothing left to yield.
func (r *ReadStream) Done() bool {
	return r.closed || r.cancelled || r.pos >= r.end
}
