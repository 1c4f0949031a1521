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
	"testing"
	"time"

	"github.com/fsnova/vfscore/clock"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	return NewMemStore(clock.NewSimulatedClock(time.Unix(1700000000, 0)))
}

func TestStoreDirnameInvariant(t *testing.T) {
	s := newTestStore(t)
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
	assert.Equal(t, Directory, parent.Type)
	assert.EqualValues(t, 2, parent.Nlink, "a leaf directory has nlink 2")
}

func TestStoreMkdirIncrementsParentNlink(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("/a", &Inode{Type: Directory, Mode: 0o755})
	require.NoError(t, err)
	_, err = s.Put("/a/b", &Inode{Type: Directory, Mode: 0o755})
	require.NoError(t, err)

	parent, _, err := s.Get("/a")
	require.NoError(t, err)
	assert.EqualValues(t, 3, parent.Nlink, "2 + one child directory")
}

func TestStorePutRejectsMissingParent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("/missing/child", &Inode{Type: Regular})
	require.Error(t, err)
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)
}

func TestStoreLinkIncrementsNlinkAndSharesID(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Put("/f", &Inode{Type: Regular, Mode: 0o644})
	require.NoError(t, err)
	require.EqualValues(t, 1, created.Nlink)

	require.NoError(t, s.Link("/f", "/g"))

	f, _, _ := s.Get("/f")
	g, _, _ := s.Get("/g")
	assert.Equal(t, f.ID, g.ID)
	assert.EqualValues(t, 2, f.Nlink)
	assert.EqualValues(t, 2, g.Nlink)
}

func TestStoreRemoveDestroysOnZeroNlink(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("/f", &Inode{Type: Regular, Mode: 0o644})
	require.NoError(t, err)
	require.NoError(t, s.Link("/f", "/g"))

	require.NoError(t, s.Remove("/f"))
	ok, _ := s.Has("/f")
	assert.False(t, ok)

	g, ok, err := s.Get("/g")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, g.Nlink)

	require.NoError(t, s.Remove("/g"))
	id := g.ID
	_, ok, err = s.GetByID(id)
	require.NoError(t, err)
	assert.False(t, ok, "inode must be destroyed once all entries are gone")
}

func TestStoreRenameAtomicOverwrite(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("/src", &Inode{Type: Regular})
	require.NoError(t, err)
	_, err = s.Put("/dst", &Inode{Type: Regular})
	require.NoError(t, err)

	err = s.Rename("/src", "/dst", false)
	require.Error(t, err, "rename without overwrite must fail when dest exists")

	require.NoError(t, s.Rename("/src", "/dst", true))
	ok, _ := s.Has("/src")
	assert.False(t, ok)
	ok, _ = s.Has("/dst")
	assert.True(t, ok)
}

func TestStoreRenameDirectoryRekeysDescendants(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, mustDir(s, "/a"))
	require.NoError(t, mustDir(s, "/a/b"))
	_, err := s.Put("/a/b/f", &Inode{Type: Regular})
	require.NoError(t, err)

	require.NoError(t, s.Rename("/a", "/z", false))

	ok, _ := s.Has("/z/b/f")
	assert.True(t, ok, "descendant paths must be rekeyed under the new parent")
	ok, _ = s.Has("/a")
	assert.False(t, ok)
}

func TestStoreRmdirRequiresEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, mustDir(s, "/a"))
	_, err := s.Put("/a/f", &Inode{Type: Regular})
	require.NoError(t, err)

	err = s.Remove("/a")
	require.Error(t, err)
	kind, _ := vfserrors.KindOf(err)
	assert.Equal(t, vfserrors.ENOTEMPTY, kind)
}

func mustDir(s Store, path string) error {
	_, err := s.Put(path, &Inode{Type: Directory, Mode: 0o755})
	return err
}
