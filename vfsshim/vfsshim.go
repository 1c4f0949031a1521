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

// Package vfsshim implements the engine's SQLite-compatible VFS Shim
// (spec §4.10): a synchronous-looking xOpen/xRead/xWrite/... surface over
// the extent layer, returning SQLite's own integer status codes so a
// SQLite implementation can use this engine as its file store without
// knowing anything about inodes, tiers, or CAS.
package vfsshim

import (
	"context"
	"sync"

	"github.com/fsnova/vfscore/extent"
)

// Status codes mirror SQLite's own result-code constants. They are
// defined here rather than imported from a SQLite driver package, since
// the shim is a file-store adapter, not a consumer of SQLite itself.
type Status int

const (
	OK               Status = 0
	IOERR            Status = 10
	IOERRShortRead   Status = 522
	IOERRWrite       Status = 778
	IOERRTruncate    Status = 1546
	IOERRFsync       Status = 1034
	CantOpen         Status = 14
	ReadOnly         Status = 8
	Misuse           Status = 21
	Busy             Status = 5
	Locked           Status = 6
)

// LockLevel is SQLite's five-level file-lock state machine.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// OpenFlag bits mirror SQLite's positional open-flag bitfield (spec §6).
type OpenFlag int

const (
	FlagReadonly      OpenFlag = 1
	FlagReadWrite     OpenFlag = 2
	FlagCreate        OpenFlag = 4
	FlagDeleteOnClose OpenFlag = 8
	FlagExclusive     OpenFlag = 16
	FlagMainDB        OpenFlag = 0x100
	FlagMainJournal   OpenFlag = 0x800
	FlagWAL           OpenFlag = 0x80000
)

// DeviceCharacteristics are the fixed capability bits this shim
// advertises: atomic 4 KiB writes, safe append, sequential access,
// powersafe overwrite (spec §4.10).
const DeviceCharacteristics = 0x10 | 0x200 | 0x400 | 0x1000

// Handle is one open file, identified by an internal handle id assigned
// at xOpen.
type Handle struct {
	ID            uint64
	FileID        uint64
	Flags         OpenFlag
	DeleteOnClose bool
	Lock          LockLevel
}

// VFS dispatches xOpen/xRead/... against a single extent.Manager,
// serializing lock-level transitions across handles the way spec §4.10
// describes ("multi-handle contention on a single engine instance is
// serialized").
type VFS struct {
	mu      sync.Mutex
	extents *extent.Manager
	handles map[uint64]*Handle
	nextID  uint64
	os      *osLocker // nil unless WithOSLockDir was used
}

// New builds a VFS over extents.
func New(extents *extent.Manager) *VFS {
	return &VFS{
		extents: extents,
		handles: map[uint64]*Handle{},
	}
}

// WithOSLockDir enables best-effort OS-level advisory locking (flock)
// alongside the logical lock state machine, storing one lock file per
// fileID under dir. Call before any XLock.
func (v *VFS) WithOSLockDir(dir string) *VFS {
	v.os = newOSLocker(dir)
	return v
}

// XOpen assigns a new handle over fileID with the given flags.
func (v *VFS) XOpen(fileID uint64, flags OpenFlag) (*Handle, Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	h := &Handle{ID: v.nextID, FileID: fileID, Flags: flags, DeleteOnClose: flags&FlagDeleteOnClose != 0}
	v.handles[h.ID] = h
	return h, OK
}

// XClose releases a handle, deleting its backing file if it was opened
// with DELETEONCLOSE.
func (v *VFS) XClose(ctx context.Context, h *Handle) Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.handles, h.ID)
	if v.os != nil {
		v.os.release(h.FileID)
	}
	if h.DeleteOnClose {
		if err := v.extents.Truncate(ctx, h.FileID, 0); err != nil {
			return IOERR
		}
	}
	return OK
}

// XRead reads len(buf) bytes at offset into buf, iterating pages and
// zero-filling holes. A read that runs past EOF zero-fills the remainder
// of buf and returns IOERRShortRead (spec's page-straddling-read
// scenario, §8).
func (v *VFS) XRead(ctx context.Context, h *Handle, buf []byte, offset int64) Status {
	size, err := v.extents.GetFileSize(h.FileID)
	if err != nil {
		return IOERR
	}

	for i := range buf {
		buf[i] = 0
	}

	want := int64(len(buf))
	avail := size - offset
	if avail < 0 {
		avail = 0
	}
	toRead := want
	short := avail < want
	if short {
		toRead = avail
	}

	var n int64
	for n < toRead {
		pageNumber := uint64((offset + n) / extent.PageSize)
		pageOffset := int((offset + n) % extent.PageSize)
		page, err := v.extents.ReadPage(ctx, h.FileID, pageNumber)
		if err != nil {
			return IOERR
		}
		chunk := int64(extent.PageSize - pageOffset)
		if chunk > toRead-n {
			chunk = toRead - n
		}
		copy(buf[n:n+chunk], page[pageOffset:int64(pageOffset)+chunk])
		n += chunk
	}

	if short {
		return IOERRShortRead
	}
	return OK
}

// XWrite writes buf at offset, performing per-page read-modify-write as
// needed, and grows the file's recorded size if the write extends past
// the current EOF.
func (v *VFS) XWrite(ctx context.Context, h *Handle, buf []byte, offset int64) Status {
	var n int64
	total := int64(len(buf))
	for n < total {
		pageNumber := uint64((offset + n) / extent.PageSize)
		pageOffset := int((offset + n) % extent.PageSize)
		chunk := int64(extent.PageSize - pageOffset)
		if chunk > total-n {
			chunk = total - n
		}
		if err := v.extents.WritePage(ctx, h.FileID, pageNumber, pageOffset, buf[n:n+chunk]); err != nil {
			return IOERRWrite
		}
		n += chunk
	}

	size, err := v.extents.GetFileSize(h.FileID)
	if err != nil {
		return IOERR
	}
	if end := offset + total; end > size {
		if err := v.extents.SetFileSize(h.FileID, end); err != nil {
			return IOERRWrite
		}
	}
	return OK
}

// XTruncate drops pages beyond size and updates the file-size record.
func (v *VFS) XTruncate(ctx context.Context, h *Handle, size int64) Status {
	if err := v.extents.Truncate(ctx, h.FileID, size); err != nil {
		return IOERRTruncate
	}
	return OK
}

// XSync forwards to the extent layer's Flush.
func (v *VFS) XSync(ctx context.Context, h *Handle) Status {
	if err := v.extents.Flush(ctx); err != nil {
		return IOERRFsync
	}
	return OK
}

// XFileSize returns h's authoritative logical size.
func (v *VFS) XFileSize(h *Handle) (int64, Status) {
	size, err := v.extents.GetFileSize(h.FileID)
	if err != nil {
		return 0, IOERR
	}
	return size, OK
}

// XSectorSize is fixed at the page size: SQLite's notion of the minimum
// atomically-writable unit coincides with this shim's page.
func (v *VFS) XSectorSize(h *Handle) int {
	return extent.PageSize
}

// XDeviceCharacteristics returns the fixed capability bitmask this shim
// advertises.
func (v *VFS) XDeviceCharacteristics(h *Handle) int {
	return DeviceCharacteristics
}

// conflicts reports whether acquiring want on a handle would conflict
// with another handle's currently-held lock, per SQLite's lock
// compatibility matrix: any number of handles may hold SHARED at once;
// RESERVED and PENDING each allow only one holder (but tolerate any
// number of SHARED alongside); EXCLUSIVE tolerates no other holder.
func conflicts(want LockLevel, others []LockLevel) bool {
	switch {
	case want <= LockShared:
		for _, o := range others {
			if o >= LockPending {
				return true
			}
		}
	case want == LockReserved || want == LockPending:
		for _, o := range others {
			if o >= LockReserved {
				return true
			}
		}
	default: // LockExclusive
		for _, o := range others {
			if o >= LockShared {
				return true
			}
		}
	}
	return false
}

// XLock escalates h's lock to at least level, transiting through
// intermediate levels as needed (spec's lock state machine: "illegal
// jumps are not errors but implemented as transit through intermediate
// levels"). Escalation past a conflicting peer's held lock returns BUSY
// and leaves h's lock unchanged.
func (v *VFS) XLock(h *Handle, level LockLevel) Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	if h.Lock >= level {
		return OK
	}

	var others []LockLevel
	for _, other := range v.handles {
		if other.ID == h.ID || other.FileID != h.FileID {
			continue
		}
		others = append(others, other.Lock)
	}

	if conflicts(level, others) {
		return Busy
	}

	if v.os != nil {
		if err := v.os.acquire(h.FileID, level); err != nil {
			return Busy
		}
	}

	h.Lock = level
	return OK
}

// XUnlock downgrades h's lock to level (any level, including NONE).
func (v *VFS) XUnlock(h *Handle, level LockLevel) Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if level > h.Lock {
		return Misuse
	}
	if v.os != nil && level == LockNone {
		v.os.release(h.FileID)
	}
	h.Lock = level
	return OK
}

// XCheckReservedLock reports whether any other handle on the same file
// holds RESERVED or higher.
func (v *VFS) XCheckReservedLock(h *Handle) (bool, Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, other := range v.handles {
		if other.ID == h.ID || other.FileID != h.FileID {
			continue
		}
		if other.Lock >= LockReserved {
			return true, OK
		}
	}
	return false, OK
}

// XAccess reports whether fileID currently has a nonzero recorded size
// (a minimal existence probe; the Capability Facade is the authority on
// real path existence).
func (v *VFS) XAccess(fileID uint64) (bool, Status) {
	size, err := v.extents.GetFileSize(fileID)
	if err != nil {
		return false, IOERR
	}
	return size > 0, OK
}

// XDelete truncates fileID to zero, releasing all of its pages.
func (v *VFS) XDelete(ctx context.Context, fileID uint64) Status {
	if err := v.extents.Truncate(ctx, fileID, 0); err != nil {
		return IOERR
	}
	return OK
}
