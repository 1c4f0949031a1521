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

// Store is the entry map + inode table described in spec §4.4. Every
// method that mutates the store does so atomically: observers see either
// the pre-state or the post-state, never a torn state, for any single
// operation (spec's single-writer ordering guarantee, §5).
type Store interface {
	// Get resolves path to its inode. ok is false if no entry exists.
	Get(path string) (inode *Inode, ok bool, err error)

	// Has reports whether path has an entry, without fetching the inode.
	Has(path string) (bool, error)

	// Put creates a new entry at path pointing at a freshly minted inode,
	// which is returned with its ID populated. path must not already have
	// an entry.
	Put(path string, in *Inode) (*Inode, error)

	// Update applies mutate to the inode at path and persists the result.
	// mutate observes a pointer to a private copy; it must not retain it.
	Update(path string, mutate func(*Inode)) (*Inode, error)

	// Remove deletes the directory entry at path and decrements the
	// target inode's Nlink. The inode itself is destroyed (removed from
	// the inode table) once Nlink reaches zero.
	Remove(path string) error

	// Rename atomically repoints the entry at newPath to the inode
	// currently at oldPath, removing the oldPath entry. If overwrite is
	// false and newPath already exists, Rename fails with EEXIST.
	Rename(oldPath, newPath string, overwrite bool) error

	// Link adds a new entry at newPath pointing at the same inode as
	// existingPath, incrementing Nlink. existingPath must not be a
	// directory.
	Link(existingPath, newPath string) error

	// GetByID fetches an inode by its stable ID, independent of path.
	GetByID(id uint64) (*Inode, bool, error)

	// Children lists the direct child paths of dir (which must itself
	// resolve to a directory entry).
	Children(dir string) ([]string, error)

	// Close releases any resources (file handles, connections) held by
	// the store.
	Close() error
}
