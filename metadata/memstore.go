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

package metadata

import (
	"sync"

	"github.com/fsnova/vfscore/clock"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/pathutil"
)

// memStore is an in-memory Store guarded by a single RWMutex. It assumes
// the single-writer model spec.md's Non-goals describe: callers serialize
// mutations themselves (or rely on the per-path lock the Capability Facade
// applies above this layer).
type memStore struct {
	mu       sync.RWMutex
	clk      clock.Clock
	entries  map[string]uint64            // normalized path -> inode id
	inodes   map[uint64]*Inode            // inode id -> record
	children map[string]map[string]bool   // dir path -> set of direct child paths
	nextID   uint64
}

// NewMemStore builds an empty Store seeded with a root directory "/".
func NewMemStore(clk clock.Clock) Store {
	s := &memStore{
		clk:      clk,
		entries:  map[string]uint64{},
		inodes:   map[uint64]*Inode{},
		children: map[string]map[string]bool{},
	}
	now := clk.Now().UnixMilli()
	s.nextID = 1
	root := &Inode{
		ID:        s.nextID,
		Type:      Directory,
		Mode:      0o755,
		Nlink:     2,
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
		Birthtime: now,
	}
	s.entries["/"] = root.ID
	s.inodes[root.ID] = root
	s.children["/"] = map[string]bool{}
	return s
}

func (s *memStore) Get(path string) (*Inode, bool, error) {
	clean, _ := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entries[clean]
	if !ok {
		return nil, false, nil
	}
	return s.inodes[id].Clone(), true, nil
}

func (s *memStore) Has(path string) (bool, error) {
	clean, _ := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[clean]
	return ok, nil
}

func (s *memStore) GetByID(id uint64) (*Inode, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.inodes[id]
	if !ok {
		return nil, false, nil
	}
	return in.Clone(), true, nil
}

func (s *memStore) Children(dir string) ([]string, error) {
	clean, _ := pathutil.Normalize(dir)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.children[clean]
	if !ok {
		return nil, vfserrors.New(vfserrors.ENOENT, "readdir", dir)
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) Put(path string, in *Inode) (*Inode, error) {
	clean, _ := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[clean]; exists {
		return nil, vfserrors.New(vfserrors.EEXIST, "create", path)
	}

	parent := pathutil.Dirname(clean)
	if clean != "/" {
		parentID, ok := s.entries[parent]
		if !ok {
			return nil, vfserrors.New(vfserrors.ENOENT, "create", path)
		}
		if s.inodes[parentID].Type != Directory {
			return nil, vfserrors.New(vfserrors.ENOTDIR, "create", path)
		}
	}

	s.nextID++
	rec := in.Clone()
	rec.ID = s.nextID
	now := s.clk.Now().UnixMilli()
	if rec.Atime == 0 {
		rec.Atime = now
	}
	if rec.Mtime == 0 {
		rec.Mtime = now
	}
	if rec.Ctime == 0 {
		rec.Ctime = now
	}
	if rec.Birthtime == 0 {
		rec.Birthtime = now
	}
	if rec.Type == Directory {
		rec.Nlink = 2
		s.children[clean] = map[string]bool{}
	} else if rec.Nlink == 0 {
		rec.Nlink = 1
	}

	s.entries[clean] = rec.ID
	s.inodes[rec.ID] = rec
	if clean != "/" {
		if s.children[parent] == nil {
			s.children[parent] = map[string]bool{}
		}
		s.children[parent][clean] = true
		if rec.Type == Directory {
			s.inodes[s.entries[parent]].Nlink++
			s.inodes[s.entries[parent]].Ctime = now
		}
	}

	return rec.Clone(), nil
}

func (s *memStore) Update(path string, mutate func(*Inode)) (*Inode, error) {
	clean, _ := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[clean]
	if !ok {
		return nil, vfserrors.New(vfserrors.ENOENT, "update", path)
	}
	working := s.inodes[id].Clone()
	mutate(working)
	s.inodes[id] = working
	return working.Clone(), nil
}

func (s *memStore) Remove(path string) error {
	clean, _ := pathutil.Normalize(path)
	if clean == "/" {
		return vfserrors.New(vfserrors.EPERM, "unlink", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[clean]
	if !ok {
		return vfserrors.New(vfserrors.ENOENT, "unlink", path)
	}
	in := s.inodes[id]
	if in.Type == Directory && len(s.children[clean]) > 0 {
		return vfserrors.New(vfserrors.ENOTEMPTY, "rmdir", path)
	}

	parent := pathutil.Dirname(clean)
	delete(s.entries, clean)
	delete(s.children[parent], clean)

	if in.Type == Directory {
		delete(s.children, clean)
		delete(s.inodes, id)
		if parentID, ok := s.entries[parent]; ok {
			s.inodes[parentID].Nlink--
			s.inodes[parentID].Ctime = s.clk.Now().UnixMilli()
		}
		return nil
	}

	in.Nlink--
	if in.Nlink == 0 {
		delete(s.inodes, id)
	}
	return nil
}

func (s *memStore) Rename(oldPath, newPath string, overwrite bool) error {
	oldClean, _ := pathutil.Normalize(oldPath)
	newClean, _ := pathutil.Normalize(newPath)
	if oldClean == "/" {
		return vfserrors.New(vfserrors.EPERM, "rename", oldPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[oldClean]
	if !ok {
		return vfserrors.NewTwoPath(vfserrors.ENOENT, "rename", oldPath, newPath)
	}

	newParent := pathutil.Dirname(newClean)
	if newParent != "/" {
		parentID, ok := s.entries[newParent]
		if !ok {
			return vfserrors.NewTwoPath(vfserrors.ENOENT, "rename", oldPath, newPath)
		}
		if s.inodes[parentID].Type != Directory {
			return vfserrors.NewTwoPath(vfserrors.ENOTDIR, "rename", oldPath, newPath)
		}
	}

	if existingID, exists := s.entries[newClean]; exists {
		if !overwrite {
			return vfserrors.NewTwoPath(vfserrors.EEXIST, "rename", oldPath, newPath)
		}
		if s.inodes[existingID].Type == Directory && len(s.children[newClean]) > 0 {
			return vfserrors.NewTwoPath(vfserrors.ENOTEMPTY, "rename", oldPath, newPath)
		}
		// Atomically replace: the destination entry flips from old target
		// to new target in the same critical section, so readers never
		// observe an absent destination (spec §5 rename atomicity).
		delete(s.inodes, existingID)
	}

	oldParent := pathutil.Dirname(oldClean)
	delete(s.children[oldParent], oldClean)
	s.entries[newClean] = id
	delete(s.entries, oldClean)
	if s.children[newParent] == nil {
		s.children[newParent] = map[string]bool{}
	}
	s.children[newParent][newClean] = true
	s.inodes[id].Ctime = s.clk.Now().UnixMilli()

	if in := s.inodes[id]; in.Type == Directory {
		// Re-key the moved directory's own children map and fix up
		// grandchildren paths.
		s.children[newClean] = s.children[oldClean]
		delete(s.children, oldClean)
		s.rekeyDescendants(oldClean, newClean)
		if oldParent != newParent {
			s.inodes[s.entries[oldParent]].Nlink--
			s.inodes[s.entries[newParent]].Nlink++
		}
	}
	return nil
}

// rekeyDescendants rewrites entries and children maps for everything under
// oldRoot so it now lives under newRoot, after a directory rename.
func (s *memStore) rekeyDescendants(oldRoot, newRoot string) {
	for childPath := range s.children[newRoot] {
		suffix := childPath[len(oldRoot):]
		newChildPath := newRoot + suffix
		if newChildPath == childPath {
			continue
		}
		id := s.entries[childPath]
		delete(s.entries, childPath)
		s.entries[newChildPath] = id
		if grand, ok := s.children[childPath]; ok {
			delete(s.children, childPath)
			s.children[newChildPath] = grand
			s.rekeyDescendants(childPath, newChildPath)
		}
	}
	// Replace the key set in the parent's children map with the rewritten
	// paths, since Go maps can't be edited mid-range for their own keys.
	fixed := map[string]bool{}
	for childPath := range s.children[newRoot] {
		suffix := childPath[len(oldRoot):]
		fixed[newRoot+suffix] = true
	}
	s.children[newRoot] = fixed
}

func (s *memStore) Link(existingPath, newPath string) error {
	existingClean, _ := pathutil.Normalize(existingPath)
	newClean, _ := pathutil.Normalize(newPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[existingClean]
	if !ok {
		return vfserrors.NewTwoPath(vfserrors.ENOENT, "link", existingPath, newPath)
	}
	in := s.inodes[id]
	if in.Type == Directory {
		return vfserrors.NewTwoPath(vfserrors.EPERM, "link", existingPath, newPath)
	}
	if _, exists := s.entries[newClean]; exists {
		return vfserrors.NewTwoPath(vfserrors.EEXIST, "link", existingPath, newPath)
	}

	parent := pathutil.Dirname(newClean)
	parentID, ok := s.entries[parent]
	if !ok {
		return vfserrors.NewTwoPath(vfserrors.ENOENT, "link", existingPath, newPath)
	}
	if s.inodes[parentID].Type != Directory {
		return vfserrors.NewTwoPath(vfserrors.ENOTDIR, "link", existingPath, newPath)
	}

	s.entries[newClean] = id
	in.Nlink++
	in.Ctime = s.clk.Now().UnixMilli()
	if s.children[parent] == nil {
		s.children[parent] = map[string]bool{}
	}
	s.children[parent][newClean] = true
	return nil
}

func (s *memStore) Close() error { return nil }
