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

package fs

import (
	"context"
	"io"
	"time"

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/stream"
)

// OpenFlag selects the access mode a FileHandle is opened with, mirroring
// the "r"/"w"/"a"/"wx"/"ax" flag strings spec §6's open(path, flags,
// mode?) documents.
type OpenFlag int

const (
	OpenRead OpenFlag = iota
	OpenWrite
	OpenAppend
	OpenWriteExcl
	OpenAppendExcl
)

func (f OpenFlag) writeFlag() stream.WriteFlag {
	switch f {
	case OpenAppend:
		return stream.FlagA
	case OpenWriteExcl:
		return stream.FlagWX
	case OpenAppendExcl:
		return stream.FlagAX
	default:
		return stream.FlagW
	}
}

// FileHandle is a stateful cursor over a single regular file, returned by
// Open. It composes the engine's existing whole-blob Read and its
// push-model CreateWriteStream rather than introducing a third content
// path: a read handle re-reads the file's full content on first use and
// serves slices of it; a write handle owns one stream.WriteStream and
// forwards into it.
type FileHandle struct {
	e    *Engine
	path string
	flag OpenFlag
	mode uint32 // applied to a freshly created file once Close persists it
	fresh bool

	pos    int64
	data   []byte // populated lazily for read handles
	loaded bool

	write  *stream.WriteStream
	closed bool
}

// Open acquires a FileHandle over path for the given flag. mode sets the
// permission bits applied if the open creates a new file (OpenWrite,
// OpenAppend, OpenWriteExcl, OpenAppendExcl all create path if it doesn't
// already exist); it is ignored for OpenRead and for an open that targets
// an existing file. A mode of zero leaves the engine's default FilePerms.
func (e *Engine) Open(ctx context.Context, path string, flag OpenFlag, mode uint32) (*FileHandle, error) {
	start := time.Now()
	h, err := e.open(ctx, path, flag, mode)
	e.opMetrics(ctx, "open", start, err)
	return h, err
}

func (e *Engine) open(ctx context.Context, path string, flag OpenFlag, mode uint32) (*FileHandle, error) {
	if flag == OpenRead {
		res, err := e.resolve.Resolve(path, true, "open")
		if err != nil {
			return nil, err
		}
		if res.Inode.IsDir() {
			return nil, vfserrors.New(vfserrors.EISDIR, "open", path)
		}
		if res.Inode.Type == metadata.BlockDevice {
			return nil, vfserrors.New(vfserrors.EINVAL, "open", path)
		}
		return &FileHandle{e: e, path: path, flag: flag}, nil
	}

	existed := e.Exists(ctx, path)
	ws, err := e.CreateWriteStream(ctx, path, flag.writeFlag(), 0)
	if err != nil {
		return nil, err
	}
	// An append handle's cursor starts after the existing content the
	// stream was seeded with; every other write flag starts at zero.
	return &FileHandle{e: e, path: path, flag: flag, write: ws, mode: mode, fresh: !existed, pos: int64(len(ws.Bytes()))}, nil
}

// Read fills buf starting at the handle's current position, advancing it
// by the number of bytes copied, and returns io.EOF once the file's end is
// reached. Only valid for a handle opened with OpenRead.
func (h *FileHandle) Read(ctx context.Context, buf []byte) (int, error) {
	if h.closed {
		return 0, vfserrors.New(vfserrors.EBADF, "read", h.path)
	}
	if h.flag != OpenRead {
		return 0, vfserrors.New(vfserrors.EBADF, "read", h.path)
	}
	if !h.loaded {
		data, err := h.e.Read(ctx, h.path)
		if err != nil {
			return 0, err
		}
		h.data = data
		h.loaded = true
	}
	if h.pos >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(buf, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

// Write appends chunk to the handle's write stream at its current
// position, advancing it. Only valid for a handle opened with a write
// flag; the content is not durably persisted until Close.
func (h *FileHandle) Write(chunk []byte) (int, error) {
	if h.closed || h.write == nil {
		return 0, vfserrors.New(vfserrors.EBADF, "write", h.path)
	}
	if err := h.write.Write(h.pos, chunk); err != nil {
		return 0, err
	}
	h.pos += int64(len(chunk))
	return len(chunk), nil
}

// Close finalizes the handle. For a write handle this persists the
// accumulated bytes as the file's new content through the same COW+tier
// pipeline Write uses, then applies the handle's mode if it created the
// file and a non-zero mode was requested; for a read handle it just
// releases the cursor.
func (h *FileHandle) Close(ctx context.Context) error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.write == nil {
		return nil
	}
	if err := h.write.Close(ctx); err != nil {
		return err
	}
	if h.fresh && h.mode != 0 {
		return h.e.Chmod(ctx, h.path, h.mode)
	}
	return nil
}
