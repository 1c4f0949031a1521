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

// Package cow implements the engine's Copy-on-Write Branch Handler (spec
// §4.8): a branch owns blocks it has written, inherits everything else
// from its parent chain, and can commit or discard its accumulated
// changes as a unit.
package cow

import (
	"context"
	"sync"
	"time"

	"github.com/fsnova/vfscore/cas"
	"github.com/fsnova/vfscore/pathutil"
)

// blockInfo is what a branch records for each path it owns.
type blockInfo struct {
	Hash      string // empty means tombstone (spec's "Empty hash means tombstone")
	Size      int64
	WrittenAt time.Time
}

// WriteResult is interceptWrite's return value.
type WriteResult struct {
	Hash            string
	BytesWritten    int64
	CopiedFromParent bool
	PreviousHash    string
}

// CommitResult is commit's return value.
type CommitResult struct {
	BranchID    string
	PathCount   int
	Paths       []string
	TotalBytes  int64
	CommittedAt time.Time
}

// Branch is one copy-on-write overlay. State lives entirely in memory
// here; content is written to the supplied CAS store at InterceptWrite,
// commit only clears the dirty and previous-hash state, and
// ModifiedAt/committed paths are reported back to whatever external
// branch registry created this Branch (out of scope per spec §3:
// "Branches are created externally").
type Branch struct {
	mu sync.Mutex

	id       string
	parent   *Branch
	cas      *cas.Store
	now      func() time.Time
	owned    map[string]blockInfo // path -> current block
	dirty    map[string]bool
	previous map[string]string // path -> previousHash, cleared on commit

	modifiedAt time.Time
}

// New builds a Branch with the given id and optional parent. now defaults
// to time.Now if nil.
func New(id string, parent *Branch, store *cas.Store, now func() time.Time) *Branch {
	if now == nil {
		now = time.Now
	}
	return &Branch{
		id:       id,
		parent:   parent,
		cas:      store,
		now:      now,
		owned:    map[string]blockInfo{},
		dirty:    map[string]bool{},
		previous: map[string]string{},
	}
}

// InterceptWrite records a content write to path within this branch. If
// the branch doesn't already own path and a parent exists, it walks the
// parent chain to capture the pre-write hash as PreviousHash before
// overwriting.
func (b *Branch) InterceptWrite(ctx context.Context, path string, data []byte) (WriteResult, error) {
	clean, _ := pathutil.Normalize(path)
	b.mu.Lock()
	defer b.mu.Unlock()

	_, alreadyOwned := b.owned[clean]
	var previousHash string
	copiedFromParent := false
	if !alreadyOwned && b.parent != nil {
		if hash, ok := b.parent.Read(clean); ok {
			previousHash = hash
			copiedFromParent = true
		}
	}

	hash, err := b.cas.Put(ctx, data, cas.Blob)
	if err != nil {
		return WriteResult{}, err
	}

	b.owned[clean] = blockInfo{Hash: hash, Size: int64(len(data)), WrittenAt: b.now()}
	b.dirty[clean] = true
	if previousHash != "" {
		b.previous[clean] = previousHash
	}

	return WriteResult{
		Hash:             hash,
		BytesWritten:     int64(len(data)),
		CopiedFromParent: copiedFromParent,
		PreviousHash:     previousHash,
	}, nil
}

// Read resolves path's current hash: owned blocks first, then the parent
// chain. An empty hash (tombstone) or no entry at all means nonexistent.
func (b *Branch) Read(path string) (hash string, ok bool) {
	clean, _ := pathutil.Normalize(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(clean)
}

func (b *Branch) readLocked(clean string) (string, bool) {
	if info, ok := b.owned[clean]; ok {
		if info.Hash == "" {
			return "", false // tombstone
		}
		return info.Hash, true
	}
	if b.parent != nil {
		return b.parent.Read(clean)
	}
	return "", false
}

// MarkDeleted installs a tombstone for path in this branch, suppressing
// inheritance from the parent.
func (b *Branch) MarkDeleted(path string) {
	clean, _ := pathutil.Normalize(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owned[clean] = blockInfo{WrittenAt: b.now()}
	b.dirty[clean] = true
}

// IsDeleted reports whether path carries a tombstone in this branch
// specifically (not inherited: a parent's deletion doesn't show up here
// unless this branch also recorded one).
func (b *Branch) IsDeleted(path string) bool {
	clean, _ := pathutil.Normalize(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.owned[clean]
	return ok && info.Hash == ""
}

// Commit persists every dirty block's identity to the branch's own
// bookkeeping (the CAS content is already durable as of InterceptWrite;
// commit's job is to clear the dirty/previous-hash working state and
// report what changed), and clears dirty tracking.
//
// On a clean handler this is a no-op returning {PathCount: 0, TotalBytes:
// 0} (spec §8's round-trip property).
func (b *Branch) Commit() CommitResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	paths := make([]string, 0, len(b.dirty))
	var total int64
	for p := range b.dirty {
		paths = append(paths, p)
		total += b.owned[p].Size
	}

	now := b.now()
	b.modifiedAt = now
	b.dirty = map[string]bool{}
	b.previous = map[string]string{}

	return CommitResult{
		BranchID:    b.id,
		PathCount:   len(paths),
		Paths:       paths,
		TotalBytes:  total,
		CommittedAt: now,
	}
}

// DiscardAll removes every owned block, restoring full visibility of the
// parent chain, and clears dirty tracking.
func (b *Branch) DiscardAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owned = map[string]blockInfo{}
	b.dirty = map[string]bool{}
	b.previous = map[string]string{}
}

// DiscardPath removes path's owned block, restoring the parent's version
// (if any) for that single path.
func (b *Branch) DiscardPath(path string) {
	clean, _ := pathutil.Normalize(path)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.owned, clean)
	delete(b.dirty, clean)
	delete(b.previous, clean)
}

// ID returns the branch's id.
func (b *Branch) ID() string { return b.id }

// ModifiedAt returns the timestamp of the most recent commit, or the zero
// time if none has happened yet.
func (b *Branch) ModifiedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modifiedAt
}
