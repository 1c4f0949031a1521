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

package tier

import (
	"context"
	"sync"
	"testing"

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
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *memBackend) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestPlacementFor(t *testing.T) {
	assert.Equal(t, Hot, PlacementFor(0))
	assert.Equal(t, Hot, PlacementFor(HotMaxBytes-1))
	assert.Equal(t, Warm, PlacementFor(HotMaxBytes))
	assert.Equal(t, Warm, PlacementFor(WarmMaxBytes-1))
	assert.Equal(t, Cold, PlacementFor(WarmMaxBytes))
}

func TestRouterMovePromoteDemote(t *testing.T) {
	ctx := context.Background()
	hot, warm, cold := newMemBackend(), newMemBackend(), newMemBackend()
	r := NewRouter(hot, warm, cold)

	require.NoError(t, r.Write(ctx, Cold, "k", []byte("payload")))

	require.NoError(t, r.Move(ctx, "promote", "k", Cold, Warm))
	got, err := r.Read(ctx, Warm, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
	_, err = cold.Get(ctx, "k")
	assert.Error(t, err, "promote must delete the old-tier copy")

	require.NoError(t, r.Move(ctx, "demote", "k", Warm, Cold))
	got, err = r.Read(ctx, Cold, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRouterMoveWrongDirection(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newMemBackend(), newMemBackend(), newMemBackend())
	require.NoError(t, r.Write(ctx, Hot, "k", []byte("x")))

	err := r.Move(ctx, "promote", "k", Hot, Cold)
	require.Error(t, err)
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.EINVAL, kind)

	err = r.Move(ctx, "demote", "k", Cold, Hot)
	require.Error(t, err)
	kind, ok = vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.EINVAL, kind)
}
