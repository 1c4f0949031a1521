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

package fs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnova/vfscore/cas"
	"github.com/fsnova/vfscore/clock"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	hot, err := objectstore.New(filepath.Join(t.TempDir(), "hot"))
	require.NoError(t, err)
	warm, err := objectstore.New(filepath.Join(t.TempDir(), "warm"))
	require.NoError(t, err)
	cold, err := objectstore.New(filepath.Join(t.TempDir(), "cold"))
	require.NoError(t, err)

	e, err := New(Options{
		Store:       metadata.NewMemStore(clock.RealClock{}),
		HotBackend:  hot,
		WarmBackend: warm,
		ColdBackend: cold,
		Algorithm:   cas.SHA256,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestStatOnRoot(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	in, err := e.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, in.IsDir())
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Write(ctx, "/hello.txt", []byte("hello, world")))
	data, err := e.Read(ctx, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, world"), data)
}

func TestAppendAccumulates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Write(ctx, "/log.txt", []byte("a")))
	require.NoError(t, e.Append(ctx, "/log.txt", []byte("b")))
	require.NoError(t, e.Append(ctx, "/log.txt", []byte("c")))

	data, err := e.Read(ctx, "/log.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestMkdirAndReaddir(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Write(ctx, "/dir/a.txt", []byte("1")))
	require.NoError(t, e.Write(ctx, "/dir/b.txt", []byte("2")))

	entries, err := e.Readdir(ctx, "/dir", ReaddirOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "b.txt", entries[1].Name)
}

func TestMkdirRecursiveCreatesIntermediatesAndReturnsFirstCreated(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/home/user", MkdirOptions{Recursive: true})
	require.NoError(t, err)

	first, err := e.Mkdir(ctx, "/home/user/a/b/c", MkdirOptions{Recursive: true, Mode: 0o755})
	require.NoError(t, err)
	assert.Equal(t, "/home/user/a", first)

	for _, p := range []string{"/home/user/a", "/home/user/a/b", "/home/user/a/b/c"} {
		in, err := e.Stat(ctx, p)
		require.NoError(t, err)
		assert.True(t, in.IsDir())
	}
}

func TestMkdirRecursiveOnExistingDirIsNoOp(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)

	first, err := e.Mkdir(ctx, "/dir", MkdirOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, "", first)
}

func TestReaddirRecursiveWithStatsAndFilter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)
	_, err = e.Mkdir(ctx, "/dir/sub", MkdirOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Write(ctx, "/dir/a.txt", []byte("1")))
	require.NoError(t, e.Write(ctx, "/dir/sub/b.txt", []byte("2")))

	entries, err := e.Readdir(ctx, "/dir", ReaddirOptions{
		Recursive: true,
		WithStats: true,
		Filter:    func(d DirEntry) bool { return d.Type == metadata.Regular },
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.NotNil(t, entry.Inode)
	}
}

func TestRmdirRejectsNonEmptyDir(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Write(ctx, "/dir/a.txt", []byte("1")))

	err = e.Rmdir(ctx, "/dir", RmdirOptions{})
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOTEMPTY, kind)
}

func TestRmdirRecursiveRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)
	_, err = e.Mkdir(ctx, "/dir/sub", MkdirOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Write(ctx, "/dir/a.txt", []byte("1")))
	require.NoError(t, e.Write(ctx, "/dir/sub/b.txt", []byte("2")))

	require.NoError(t, e.Rmdir(ctx, "/dir", RmdirOptions{Recursive: true}))

	_, err = e.Stat(ctx, "/dir")
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)
}

func TestRmRejectsDirectoryWithoutRecursive(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)

	err = e.Rm(ctx, "/dir", RmOptions{})
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.EISDIR, kind)

	require.NoError(t, e.Rm(ctx, "/dir", RmOptions{Recursive: true}))
	_, err = e.Stat(ctx, "/dir")
	kind, ok = vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)
}

func TestUnlinkRemovesFileButNotDirectory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Write(ctx, "/f.txt", []byte("x")))
	require.NoError(t, e.Unlink(ctx, "/f.txt"))
	_, err := e.Stat(ctx, "/f.txt")
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)

	_, err = e.Mkdir(ctx, "/dir", MkdirOptions{})
	require.NoError(t, err)
	err = e.Unlink(ctx, "/dir")
	kind, ok = vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.EISDIR, kind)
}

func TestOpenWriteThenReadHandle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	wh, err := e.Open(ctx, "/f.txt", OpenWrite, 0o640)
	require.NoError(t, err)
	n, err := wh.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, wh.Close(ctx))

	in, err := e.Stat(ctx, "/f.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 0o640, in.Mode&metadata.ModePermMask)

	rh, err := e.Open(ctx, "/f.txt", OpenRead, 0)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err = rh.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	require.NoError(t, rh.Close(ctx))
}

func TestRenameMovesEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Write(ctx, "/a.txt", []byte("x")))
	require.NoError(t, e.Rename(ctx, "/a.txt", "/b.txt", false))

	_, err := e.Stat(ctx, "/a.txt")
	kind, ok := vfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, vfserrors.ENOENT, kind)

	data, err := e.Read(ctx, "/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestSymlinkResolvesThroughFacade(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Write(ctx, "/target.txt", []byte("payload")))
	require.NoError(t, e.Symlink(ctx, "/target.txt", "/link.txt"))

	target, err := e.Readlink(ctx, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, "/target.txt", target)

	data, err := e.Read(ctx, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestChmodChownUtimesTouchExpectedTimestamps(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Write(ctx, "/f.txt", []byte("x")))

	before, err := e.Stat(ctx, "/f.txt")
	require.NoError(t, err)

	require.NoError(t, e.Chmod(ctx, "/f.txt", 0o600))
	after, err := e.Stat(ctx, "/f.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, after.Mode&metadata.ModePermMask)
	assert.GreaterOrEqual(t, after.Ctime, before.Ctime)
	assert.Equal(t, before.Mtime, after.Mtime)

	require.NoError(t, e.Chown(ctx, "/f.txt", 42, 7))
	owned, err := e.Stat(ctx, "/f.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 42, owned.UID)
	assert.EqualValues(t, 7, owned.GID)

	when := time.Unix(1700000000, 0)
	require.NoError(t, e.Utimes(ctx, "/f.txt", when, when))
	touched, err := e.Stat(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, when.UnixMilli(), touched.Atime)
	assert.Equal(t, when.UnixMilli(), touched.Mtime)
}

func TestPromoteDemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.Write(ctx, "/f.txt", []byte("small")))

	tierName, err := e.GetTier(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "hot", tierName)

	require.NoError(t, e.Demote(ctx, "/f.txt"))
	tierName, err = e.GetTier(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "warm", tierName)

	require.NoError(t, e.Promote(ctx, "/f.txt"))
	tierName, err = e.GetTier(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "hot", tierName)

	data, err := e.Read(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), data)
}

func TestGCDeletesUnreferencedBlobs(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.Write(ctx, "/keep.txt", []byte("keep me")))
	require.NoError(t, e.Write(ctx, "/temp.txt", []byte("overwritten blob")))
	require.NoError(t, e.Write(ctx, "/temp.txt", []byte("final content")))

	result, err := e.GC(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Warm.ObjectsDeleted+result.Hot.ObjectsDeleted, uint64(1))

	data, err := e.Read(ctx, "/keep.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("keep me"), data)
}
