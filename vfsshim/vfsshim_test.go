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

package vfsshim

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fsnova/vfscore/extent"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: map[string][]byte{}} }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, vfserrors.New(vfserrors.ENOENT, "get", key)
	}
	return v, nil
}

func (m *memBackend) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newTestVFS(t *testing.T) *VFS {
	t.Helper()
	mgr, err := extent.Open(newMemBackend(), filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return New(mgr)
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)

	h, status := v.XOpen(1, FlagReadWrite|FlagCreate)
	require.Equal(t, OK, status)

	data := []byte("hello, sqlite")
	require.Equal(t, OK, v.XWrite(ctx, h, data, 0))

	buf := make([]byte, len(data))
	require.Equal(t, OK, v.XRead(ctx, h, buf, 0))
	assert.Equal(t, data, buf)

	size, status := v.XFileSize(h)
	require.Equal(t, OK, status)
	assert.EqualValues(t, len(data), size)
}

func TestReadPastEOFIsShortRead(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	h, _ := v.XOpen(1, FlagReadWrite|FlagCreate)
	require.Equal(t, OK, v.XWrite(ctx, h, []byte("short"), 0))

	buf := make([]byte, 20)
	status := v.XRead(ctx, h, buf, 0)
	assert.Equal(t, IOERRShortRead, status)
	assert.Equal(t, []byte("short"), buf[:5])
	assert.Equal(t, make([]byte, 15), buf[5:])
}

func TestPageStraddlingRead(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	h, _ := v.XOpen(1, FlagReadWrite|FlagCreate)

	total := extent.PageSize*2 + 1000
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.Equal(t, OK, v.XWrite(ctx, h, data, 0))

	buf := make([]byte, 3000)
	status := v.XRead(ctx, h, buf, 5000)
	require.Equal(t, OK, status)
	assert.Equal(t, data[5000:8000], buf)
}

func TestTruncateDropsHigherPages(t *testing.T) {
	ctx := context.Background()
	v := newTestVFS(t)
	h, _ := v.XOpen(1, FlagReadWrite|FlagCreate)
	require.Equal(t, OK, v.XWrite(ctx, h, make([]byte, extent.PageSize*3), 0))

	require.Equal(t, OK, v.XTruncate(ctx, h, extent.PageSize))
	size, _ := v.XFileSize(h)
	assert.EqualValues(t, extent.PageSize, size)
}

func TestLockEscalationAndConflict(t *testing.T) {
	v := newTestVFS(t)
	h1, _ := v.XOpen(1, FlagReadWrite)
	h2, _ := v.XOpen(1, FlagReadWrite)

	require.Equal(t, OK, v.XLock(h1, LockShared))
	require.Equal(t, OK, v.XLock(h2, LockShared))

	require.Equal(t, OK, v.XLock(h1, LockReserved))
	assert.Equal(t, Busy, v.XLock(h2, LockReserved))

	reserved, status := v.XCheckReservedLock(h2)
	require.Equal(t, OK, status)
	assert.True(t, reserved)

	require.Equal(t, OK, v.XUnlock(h1, LockNone))
	require.Equal(t, OK, v.XLock(h2, LockExclusive))
}

func TestOSLockDirSerializesExclusiveAcrossHandles(t *testing.T) {
	v := newTestVFS(t)
	v.WithOSLockDir(t.TempDir())
	h1, _ := v.XOpen(1, FlagReadWrite)
	h2, _ := v.XOpen(1, FlagReadWrite)

	require.Equal(t, OK, v.XLock(h1, LockShared))
	require.Equal(t, OK, v.XLock(h2, LockShared))
	require.Equal(t, OK, v.XLock(h1, LockReserved))
	assert.Equal(t, Busy, v.XLock(h2, LockReserved))

	require.Equal(t, OK, v.XUnlock(h1, LockNone))
	require.Equal(t, OK, v.XLock(h2, LockReserved))
}

func TestDeviceCharacteristicsAndSectorSize(t *testing.T) {
	v := newTestVFS(t)
	h, _ := v.XOpen(1, FlagReadWrite)
	assert.Equal(t, extent.PageSize, v.XSectorSize(h))
	assert.NotZero(t, v.XDeviceCharacteristics(h))
}
