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
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnova/vfscore/clock"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenSQLiteStore(filepath.Join(dir, "meta.db"), clock.NewSimulatedClock(time.Unix(1700000000, 0)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreDirnameInvariant(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Put("/a", &Inode{Type: Directory, Mode: 0o755})
	require.NoError(t, err)
	_, err = s.Put("/a/b.txt", &Inode{Type: Regular, Mode: 0o644})
	require.NoError(t, err)

	in, ok, err := s.Get("/a/b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Regular, in.Type)

	parent, ok, err := s.Get("/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, parent.Nlink)
}

func TestSQLiteStorePutRejectsMissingParent(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Put("/missing/child", &Inode{Type: Regular})
	require.Error(t, err)
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)
}

func TestSQLiteStoreLinkAndRemove(t *testing.T) {
	s := newTestSQLiteStore(t)
	created, err := s.Put("/f", &Inode{Type: Regular, Mode: 0o644})
	require.NoError(t, err)
	require.EqualValues(t, 1, created.Nlink)

	require.NoError(t, s.Link("/f", "/g"))
	f, _, _ := s.Get("/f")
	g, _, _ := s.Get("/g")
	assert.Equal(t, f.ID, g.ID)
	assert.EqualValues(t, 2, f.Nlink)

	require.NoError(t, s.Remove("/f"))
	ok, _ := s.Has("/f")
	assert.False(t, ok)

	g2, ok, err := s.Get("/g")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, g2.Nlink)

	require.NoError(t, s.Remove("/g"))
	_, ok, err = s.GetByID(g2.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStoreRenameAtomicOverwrite(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Put("/src", &Inode{Type: Regular})
	require.NoError(t, err)
	_, err = s.Put("/dst", &Inode{Type: Regular})
	require.NoError(t, err)

	require.Error(t, s.Rename("/src", "/dst", false))
	require.NoError(t, s.Rename("/src", "/dst", true))

	ok, _ := s.Has("/src")
	assert.False(t, ok)
	ok, _ = s.Has("/dst")
	assert.True(t, ok)
}

func TestSQLiteStoreRenameDirectoryRekeysDescendants(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Put("/a", &Inode{Type: Directory, Mode: 0o755})
	require.NoError(t, err)
	_, err = s.Put("/a/b", &Inode{Type: Directory, Mode: 0o755})
	require.NoError(t, err)
	_, err = s.Put("/a/b/f", &Inode{Type: Regular})
	require.NoError(t, err)

	require.NoError(t, s.Rename("/a", "/z", false))

	ok, _ := s.Has("/z/b/f")
	assert.True(t, ok)
	ok, _ = s.Has("/a")
	assert.False(t, ok)

	children, err := s.Children("/z/b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/z/b/f"}, children)
}

func TestSQLiteStoreRmdirRequiresEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.Put("/a", &Inode{Type: Directory, Mode: 0o755})
	require.NoError(t, err)
	_, err = s.Put("/a/f", &Inode{Type: Regular})
	require.NoError(t, err)

	err = s.Remove("/a")
	require.Error(t, err)
	kind, _ := vfserrors.KindOf(err)
	assert.Equal(t, vfserrors.ENOTEMPTY, kind)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.db")
	clk := clock.NewSimulatedClock(time.Unix(1700000000, 0))

	s1, err := OpenSQLiteStore(path, clk)
	require.NoError(t, err)
	_, err = s1.Put("/persisted", &Inode{Type: Regular, Mode: 0o644})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLiteStore(path, clk)
	require.NoError(t, err)
	defer s2.Close()

	in, ok, err := s2.Get("/persisted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Regular, in.Type)
}
