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

package objectstore

import (
	"context"
	"testing"

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "ab/cdef0123", []byte("hello")))
	data, err := l.Get(ctx, "ab/cdef0123")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestGetMissingIsENOENT(t *testing.T) {
	ctx := context.Background()
	l, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = l.Get(ctx, "ab/missing")
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, "ab/neverexisted"))
	require.NoError(t, l.Put(ctx, "ab/cdef", []byte("x")))
	require.NoError(t, l.Delete(ctx, "ab/cdef"))
	require.NoError(t, l.Delete(ctx, "ab/cdef"))
}

func TestListEnumeratesStoredKeys(t *testing.T) {
	ctx := context.Background()
	l, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "ab/cdef0123", []byte("1")))
	require.NoError(t, l.Put(ctx, "11/223344", []byte("2")))

	ch, err := l.List(ctx)
	require.NoError(t, err)
	var got []string
	for hash := range ch {
		got = append(got, hash)
	}
	assert.ElementsMatch(t, []string{"abcdef0123", "11223344"}, got)
}
