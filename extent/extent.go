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

// Package extent implements the engine's Extent/Block Layer (spec §4.9):
// page-level read/write over a backing object store, with a dirty-page
// buffer that flushes into ≤2 MiB packed extent objects, and a bbolt
// sidecar index mapping (fileId, pageNumber) -> (extentId, offset,
// length). This is the storage substrate the SQLite-compatible VFS shim
// (spec §4.10) is built on.
package extent

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	bolt "go.etcd.io/bbolt"

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/tier"
)

const (
	PageSize      = 4096
	MaxExtentSize = 2 << 20 // 2 MiB
	pagesPerExtent = MaxExtentSize / PageSize

	// maxConcurrentExtentPuts bounds how many packed-extent batches a single
	// Flush call may write to the backend at once, so flushing a file with
	// many dirty pages can't open unbounded concurrent backend requests.
	maxConcurrentExtentPuts = 4
)

var indexBucket = []byte("page_index")
var sizeBucket = []byte("file_size")

// location is a sidecar index entry: which extent holds a page, and
// where within it.
type location struct {
	ExtentID string
	Offset   int64
	Length   int64
}

// Manager owns the dirty-page buffer, the packed-extent backend, and the
// bbolt sidecar index. One Manager instance backs exactly one logical
// block device (spec §4.10's "single active engine instance per database
// file").
type Manager struct {
	mu      sync.Mutex
	backend tier.Backend
	index   *bolt.DB

	// dirty holds unflushed page writes, keyed by fileID then page number.
	dirty map[uint64]map[uint64][]byte

	// flushSem bounds concurrent in-flight extent-batch writes across a
	// single Flush call.
	flushSem *semaphore.Weighted
}

// Open builds a Manager backed by backend for extent storage and a bbolt
// database at indexPath for the sidecar index.
func Open(backend tier.Backend, indexPath string) (*Manager, error) {
	db, err := bolt.Open(indexPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("extent: open index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(indexBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(sizeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("extent: init buckets: %w", err)
	}

	return &Manager{
		backend:  backend,
		index:    db,
		dirty:    map[uint64]map[uint64][]byte{},
		flushSem: semaphore.NewWeighted(maxConcurrentExtentPuts),
	}, nil
}

func (m *Manager) Close() error {
	return m.index.Close()
}

func indexKey(fileID, pageNumber uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], fileID)
	binary.BigEndian.PutUint64(buf[8:16], pageNumber)
	return buf
}

func encodeLocation(l location) []byte {
	buf := make([]byte, 8+8+len(l.ExtentID))
	binary.BigEndian.PutUint64(buf[0:8], uint64(l.Offset))
	binary.BigEndian.PutUint64(buf[8:16], uint64(l.Length))
	copy(buf[16:], l.ExtentID)
	return buf
}

func decodeLocation(buf []byte) location {
	return location{
		Offset:   int64(binary.BigEndian.Uint64(buf[0:8])),
		Length:   int64(binary.BigEndian.Uint64(buf[8:16])),
		ExtentID: string(buf[16:]),
	}
}

func (m *Manager) lookupLocation(fileID, pageNumber uint64) (location, bool, error) {
	var loc location
	var found bool
	err := m.index.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(indexBucket).Get(indexKey(fileID, pageNumber))
		if v == nil {
			return nil
		}
		loc = decodeLocation(v)
		found = true
		return nil
	})
	return loc, found, err
}

// ReadPage returns pageNumber's bytes for fileID, or a logical zero page
// for an unwritten hole.
func (m *Manager) ReadPage(ctx context.Context, fileID, pageNumber uint64) ([]byte, error) {
	m.mu.Lock()
	if pages, ok := m.dirty[fileID]; ok {
		if page, ok := pages[pageNumber]; ok {
			cp := make([]byte, PageSize)
			copy(cp, page)
			m.mu.Unlock()
			return cp, nil
		}
	}
	m.mu.Unlock()

	loc, found, err := m.lookupLocation(fileID, pageNumber)
	if err != nil {
		return nil, vfserrors.Wrap(vfserrors.EINVAL, "readPage", "", err)
	}
	if !found {
		return make([]byte, PageSize), nil
	}

	extentData, err := m.backend.Get(ctx, "extents/"+loc.ExtentID)
	if err != nil {
		return nil, vfserrors.Wrap(vfserrors.EINVAL, "readPage", "", err)
	}
	page := make([]byte, PageSize)
	copy(page, extentData[loc.Offset:loc.Offset+loc.Length])
	return page, nil
}

// WritePage writes data (which may be a partial page) at byteOffset
// within pageNumber. A partial write performs read-modify-write against
// the page's existing content; a full-page write (byteOffset 0, len(data)
// == PageSize) replaces it outright. The result is staged in the
// dirty-page buffer, not yet visible to other readers of the backing
// store until Flush.
func (m *Manager) WritePage(ctx context.Context, fileID, pageNumber uint64, byteOffset int, data []byte) error {
	if byteOffset < 0 || byteOffset+len(data) > PageSize {
		return vfserrors.New(vfserrors.EINVAL, "writePage", "")
	}

	var page []byte
	if byteOffset == 0 && len(data) == PageSize {
		page = make([]byte, PageSize)
		copy(page, data)
	} else {
		existing, err := m.ReadPage(ctx, fileID, pageNumber)
		if err != nil {
			return err
		}
		page = existing
		copy(page[byteOffset:byteOffset+len(data)], data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirty[fileID] == nil {
		m.dirty[fileID] = map[uint64][]byte{}
	}
	m.dirty[fileID][pageNumber] = page

	full := len(m.dirty[fileID]) >= pagesPerExtent
	if full {
		if err := m.flushFileLocked(ctx, fileID); err != nil {
			return err
		}
	}
	return nil
}

// Flush commits all dirty pages across every file to packed extents.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fileID := range m.dirty {
		if err := m.flushFileLocked(ctx, fileID); err != nil {
			return err
		}
	}
	return nil
}

// flushFileLocked packs fileID's dirty pages into one or more extent
// objects of at most MaxExtentSize bytes, writes them to the backend, and
// records their locations in the sidecar index. Callers must hold m.mu.
func (m *Manager) flushFileLocked(ctx context.Context, fileID uint64) error {
	pages := m.dirty[fileID]
	if len(pages) == 0 {
		return nil
	}

	pageNumbers := make([]uint64, 0, len(pages))
	for pn := range pages {
		pageNumbers = append(pageNumbers, pn)
	}

	group, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(pageNumbers); start += pagesPerExtent {
		end := start + pagesPerExtent
		if end > len(pageNumbers) {
			end = len(pageNumbers)
		}
		batch := pageNumbers[start:end]

		if err := m.flushSem.Acquire(gctx, 1); err != nil {
			return vfserrors.Wrap(vfserrors.EINVAL, "flush", "", err)
		}
		group.Go(func() error {
			defer m.flushSem.Release(1)
			return m.flushBatch(gctx, fileID, batch, pages)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	delete(m.dirty, fileID)
	return nil
}

// flushBatch packs one extent-sized batch of pages and writes it to the
// backend plus the sidecar index. Multiple batches from the same
// flushFileLocked call run concurrently, bounded by m.flushSem.
func (m *Manager) flushBatch(ctx context.Context, fileID uint64, batch []uint64, pages map[uint64][]byte) error {
	extentID := uuid.NewString()
	buf := make([]byte, 0, len(batch)*PageSize)
	locations := make(map[uint64]location, len(batch))
	for _, pn := range batch {
		offset := int64(len(buf))
		buf = append(buf, pages[pn]...)
		locations[pn] = location{ExtentID: extentID, Offset: offset, Length: PageSize}
	}

	if err := m.backend.Put(ctx, "extents/"+extentID, buf); err != nil {
		return vfserrors.Wrap(vfserrors.EINVAL, "flush", "", err)
	}

	err := m.index.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		for pn, loc := range locations {
			if err := b.Put(indexKey(fileID, pn), encodeLocation(loc)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return vfserrors.Wrap(vfserrors.EINVAL, "flush", "", err)
	}
	return nil
}

// Truncate logically releases pages beyond ceil(size/PageSize) and
// updates fileID's authoritative size record.
func (m *Manager) Truncate(ctx context.Context, fileID uint64, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastPage := uint64(0)
	if size > 0 {
		lastPage = uint64((size - 1) / PageSize)
	}

	for pn := range m.dirty[fileID] {
		if size == 0 || pn > lastPage {
			delete(m.dirty[fileID], pn)
		}
	}

	err := m.index.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(indexBucket)
		c := b.Cursor()
		prefix := make([]byte, 8)
		binary.BigEndian.PutUint64(prefix, fileID)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			pn := binary.BigEndian.Uint64(k[8:16])
			if size == 0 || pn > lastPage {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(sizeBucket).Put(indexKey(fileID, 0)[0:8], encodeSize(size))
	})
	if err != nil {
		return vfserrors.Wrap(vfserrors.EINVAL, "truncate", "", err)
	}
	return nil
}

// GetFileSize returns fileID's authoritative logical size, or 0 if never
// recorded.
func (m *Manager) GetFileSize(fileID uint64) (int64, error) {
	var size int64
	err := m.index.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sizeBucket).Get(indexKey(fileID, 0)[0:8])
		if v == nil {
			return nil
		}
		size = decodeSize(v)
		return nil
	})
	if err != nil {
		return 0, vfserrors.Wrap(vfserrors.EINVAL, "getFileSize", "", err)
	}
	return size, nil
}

// SetFileSize records fileID's authoritative logical size directly,
// without touching any pages (used when growing a file by writing past
// the previous EOF).
func (m *Manager) SetFileSize(fileID uint64, size int64) error {
	err := m.index.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sizeBucket).Put(indexKey(fileID, 0)[0:8], encodeSize(size))
	})
	if err != nil {
		return vfserrors.Wrap(vfserrors.EINVAL, "setFileSize", "", err)
	}
	return nil
}

func encodeSize(size int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(size))
	return buf
}

func decodeSize(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}
