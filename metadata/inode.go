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

// Package metadata implements the engine's Metadata/Inode Store (spec
// §3, §4.4): the entry map from normalized absolute path to inode id, and
// the inode table from id to record. Two backends satisfy the Store
// interface: an in-memory map used by tests and small deployments, and a
// SQLite-backed store (the "hot, row-structured metadata store" from
// spec §1) for anything that needs durability across process restarts.
package metadata

import "github.com/fsnova/vfscore/tier"

// Kind is the POSIX file type of an inode.
type Kind int

const (
	Regular Kind = iota
	Directory
	Symlink
	FIFO
	Socket
	BlockDevice
	CharDevice
)

// Mode bit layout, mirrored from POSIX st_mode: the low 12 bits are
// permission + setuid/setgid/sticky; file-type bits are derived from Kind
// rather than stored redundantly in Mode.
const (
	ModePermMask = 0o7777
	ModeSetuid   = 0o4000
	ModeSetgid   = 0o2000
	ModeSticky   = 0o1000
)

// BlobRef locates the content backing a regular file's current generation.
// Blobs are immutable; a content-modifying write creates a new blob and
// rewrites the owning inode's BlobRef rather than mutating one in place.
type BlobRef struct {
	ID       string
	Tier     tier.Tier
	Size     int64
	Checksum string // hex digest, algorithm implied by len(Checksum)
}

// Inode is the unit of filesystem identity (spec §3). Its ID is stable
// across renames; only hard links and explicit removal change how many
// directory entries point at it.
type Inode struct {
	ID    uint64
	Type  Kind
	Mode  uint32 // ModePermMask bits + setuid/setgid/sticky, normalized
	UID   uint32
	GID   uint32
	Size  int64
	Nlink uint32

	// Milliseconds since the Unix epoch.
	Atime     int64
	Mtime     int64
	Ctime     int64
	Birthtime int64

	LinkTarget string // raw symlink target; may be relative; "" for non-symlinks
	BlobRef    *BlobRef
	Tier       tier.Tier // meaningful only for Type == Regular
}

// IsDir reports whether the inode is a directory.
func (in *Inode) IsDir() bool { return in.Type == Directory }

// Clone returns a deep copy of in so callers can mutate a snapshot without
// racing the store's internal state.
func (in *Inode) Clone() *Inode {
	if in == nil {
		return nil
	}
	cp := *in
	if in.BlobRef != nil {
		ref := *in.BlobRef
		cp.BlobRef = &ref
	}
	return &cp
}
