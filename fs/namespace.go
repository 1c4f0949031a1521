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
	"sort"
	"strings"
	"time"

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/pathutil"
	"github.com/fsnova/vfscore/watch"
)

// MkdirOptions configures Mkdir (spec §6's mkdir(path, {recursive?, mode?})).
type MkdirOptions struct {
	// Recursive creates any missing ancestor directories with Mode, and
	// makes Mkdir a silent no-op (spec §8's round-trip property) if path
	// already names a directory.
	Recursive bool
	// Mode overrides the engine's default directory permission bits for
	// every directory this call creates. Zero means use the engine's
	// configured DirPerms.
	Mode uint32
}

// Mkdir creates a directory at path. Without Recursive, the parent must
// already exist and path must not. With Recursive, missing ancestors are
// created along the way; Mkdir returns the first path it actually created
// (spec §8 scenario 5), or "" if Recursive found path already a directory.
func (e *Engine) Mkdir(ctx context.Context, path string, opts MkdirOptions) (string, error) {
	start := time.Now()
	first, err := e.mkdir(path, opts)
	e.opMetrics(ctx, "mkdir", start, err)
	return first, err
}

func (e *Engine) mkdir(path string, opts MkdirOptions) (string, error) {
	mode := opts.Mode
	if mode == 0 {
		mode = e.opts.DirPerms
	}

	if !opts.Recursive {
		dir, name := resolveParent(path)
		if _, ok, err := e.store.Get(dir); err != nil {
			return "", err
		} else if !ok {
			return "", vfserrors.New(vfserrors.ENOENT, "mkdir", path)
		}
		full := pathutil.Join(dir, name)
		if err := e.mkdirOne(full, mode); err != nil {
			return "", err
		}
		return full, nil
	}

	var first string
	for _, ancestor := range ancestorChain(path) {
		in, ok, err := e.store.Get(ancestor)
		if err != nil {
			return first, err
		}
		if ok {
			if !in.IsDir() {
				return first, vfserrors.New(vfserrors.ENOTDIR, "mkdir", path)
			}
			continue
		}
		if err := e.mkdirOne(ancestor, mode); err != nil {
			return first, err
		}
		if first == "" {
			first = ancestor
		}
	}
	return first, nil
}

func (e *Engine) mkdirOne(path string, mode uint32) error {
	now := e.now()
	_, err := e.store.Put(path, &metadata.Inode{
		Type: metadata.Directory, Mode: mode, UID: e.opts.UID, GID: e.opts.GID,
		Nlink: 2, Atime: now, Mtime: now, Ctime: now, Birthtime: now,
	})
	if err == nil {
		e.watchers.Notify(watch.Rename, path)
	}
	return err
}

// ancestorChain returns every ancestor directory of path, root-to-leaf,
// including path itself: ancestorChain("/a/b/c") is
// ["/a", "/a/b", "/a/b/c"]. The root "/" is never included since it always
// exists.
func ancestorChain(path string) []string {
	clean, _ := pathutil.Normalize(path)
	if clean == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	chain := make([]string, 0, len(segments))
	cur := ""
	for _, seg := range segments {
		cur += "/" + seg
		chain = append(chain, cur)
	}
	return chain
}

// RmdirOptions configures Rmdir (spec §6's rmdir(path, {recursive?})).
type RmdirOptions struct {
	// Recursive removes path's entire subtree instead of requiring it be
	// empty first.
	Recursive bool
}

// Rmdir removes the directory at path. Without Recursive, path must be
// empty (ENOTEMPTY otherwise); with Recursive, its whole subtree is
// removed depth-first first.
func (e *Engine) Rmdir(ctx context.Context, path string, opts RmdirOptions) error {
	start := time.Now()
	err := e.rmdir(path, opts)
	e.opMetrics(ctx, "rmdir", start, err)
	return err
}

func (e *Engine) rmdir(path string, opts RmdirOptions) error {
	res, err := e.resolve.Resolve(path, false, "rmdir")
	if err != nil {
		return err
	}
	if !res.Inode.IsDir() {
		return vfserrors.New(vfserrors.ENOTDIR, "rmdir", path)
	}
	if opts.Recursive {
		return e.removeTree(res.Path)
	}
	children, err := e.store.Children(res.Path)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return vfserrors.New(vfserrors.ENOTEMPTY, "rmdir", path)
	}
	return e.removeEntry(res.Path, path)
}

// RmOptions configures Rm (spec §6's rm, distinct from unlink/rmdir: it can
// remove a directory tree in one call).
type RmOptions struct {
	// Recursive allows Rm to remove a directory and everything beneath it.
	// Without it, Rm on a directory returns EISDIR — use Rmdir or Unlink
	// for the narrower single-entry removals.
	Recursive bool
}

// Rm removes the entry at path. A non-directory is removed exactly as
// Unlink would; a directory requires Recursive and is removed depth-first.
func (e *Engine) Rm(ctx context.Context, path string, opts RmOptions) error {
	start := time.Now()
	err := e.rm(path, opts)
	e.opMetrics(ctx, "rm", start, err)
	return err
}

func (e *Engine) rm(path string, opts RmOptions) error {
	res, err := e.resolve.Resolve(path, false, "rm")
	if err != nil {
		return err
	}
	if res.Inode.IsDir() {
		if !opts.Recursive {
			return vfserrors.New(vfserrors.EISDIR, "rm", path)
		}
		return e.removeTree(res.Path)
	}
	return e.removeEntry(res.Path, path)
}

// Unlink removes the non-directory entry (file or symlink) at path,
// deleting its inode once every hard link to it is gone (spec §6's unlink,
// kept distinct from Rm/Rmdir even though Rm subsumes it for a leaf).
func (e *Engine) Unlink(ctx context.Context, path string) error {
	start := time.Now()
	err := e.unlink(path)
	e.opMetrics(ctx, "unlink", start, err)
	return err
}

func (e *Engine) unlink(path string) error {
	res, err := e.resolve.Resolve(path, false, "unlink")
	if err != nil {
		return err
	}
	if res.Inode.IsDir() {
		return vfserrors.New(vfserrors.EISDIR, "unlink", path)
	}
	return e.removeEntry(res.Path, path)
}

// removeEntry deletes the already-resolved leaf at resolvedPath (file,
// symlink, or empty directory), marking it deleted in the COW branch and
// notifying watchers keyed by the caller's original path.
func (e *Engine) removeEntry(resolvedPath, origPath string) error {
	if err := e.store.Remove(resolvedPath); err != nil {
		return err
	}
	if e.branch != nil {
		e.branch.MarkDeleted(resolvedPath)
	}
	e.watchers.Notify(watch.Rename, origPath)
	return nil
}

// removeTree deletes the directory at path and everything beneath it,
// depth-first (every leaf before its parent), used by Rm's recursive mode
// and Rmdir's Recursive option.
func (e *Engine) removeTree(path string) error {
	children, err := e.store.Children(path)
	if err != nil {
		return err
	}
	for _, child := range children {
		in, ok, err := e.store.Get(child)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if in.IsDir() {
			if err := e.removeTree(child); err != nil {
				return err
			}
			continue
		}
		if err := e.removeEntry(child, child); err != nil {
			return err
		}
	}
	return e.removeEntry(path, path)
}

// Rename atomically moves oldPath to newPath. If overwrite is false and
// newPath already has an entry, EEXIST is returned.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string, overwrite bool) error {
	start := time.Now()
	err := e.rename(oldPath, newPath, overwrite)
	e.opMetrics(ctx, "rename", start, err)
	return err
}

func (e *Engine) rename(oldPath, newPath string, overwrite bool) error {
	res, err := e.resolve.Resolve(oldPath, false, "rename")
	if err != nil {
		return err
	}
	if err := e.store.Rename(res.Path, newPath, overwrite); err != nil {
		return vfserrors.NewTwoPath(kindOrEinval(err), "rename", oldPath, newPath)
	}
	e.watchers.Notify(watch.Rename, oldPath)
	e.watchers.Notify(watch.Rename, newPath)
	return nil
}

func kindOrEinval(err error) vfserrors.Kind {
	if kind, ok := vfserrors.KindOf(err); ok {
		return kind
	}
	return vfserrors.EINVAL
}

// Link adds a new hard link at newPath pointing at existingPath's inode.
// existingPath must not be a directory.
func (e *Engine) Link(ctx context.Context, existingPath, newPath string) error {
	start := time.Now()
	err := e.link(existingPath, newPath)
	e.opMetrics(ctx, "link", start, err)
	return err
}

func (e *Engine) link(existingPath, newPath string) error {
	res, err := e.resolve.Resolve(existingPath, false, "link")
	if err != nil {
		return err
	}
	if res.Inode.IsDir() {
		return vfserrors.NewTwoPath(vfserrors.EPERM, "link", existingPath, newPath)
	}
	if err := e.store.Link(res.Path, newPath); err != nil {
		return vfserrors.NewTwoPath(kindOrEinval(err), "link", existingPath, newPath)
	}
	e.watchers.Notify(watch.Rename, newPath)
	return nil
}

// Symlink creates a symlink at linkPath whose target is the raw string
// target (absolute or relative; not resolved at creation time).
func (e *Engine) Symlink(ctx context.Context, target, linkPath string) error {
	start := time.Now()
	err := e.symlink(target, linkPath)
	e.opMetrics(ctx, "symlink", start, err)
	return err
}

func (e *Engine) symlink(target, linkPath string) error {
	dir, name := resolveParent(linkPath)
	if _, ok, err := e.store.Get(dir); err != nil {
		return err
	} else if !ok {
		return vfserrors.New(vfserrors.ENOENT, "symlink", linkPath)
	}

	now := e.now()
	_, err := e.store.Put(pathutil.Join(dir, name), &metadata.Inode{
		Type: metadata.Symlink, Mode: 0o777, UID: e.opts.UID, GID: e.opts.GID,
		Nlink: 1, Atime: now, Mtime: now, Ctime: now, Birthtime: now,
		LinkTarget: target,
	})
	if err == nil {
		e.watchers.Notify(watch.Rename, linkPath)
	}
	return err
}

// Readlink returns the raw target string recorded at a symlink, without
// resolving it.
func (e *Engine) Readlink(ctx context.Context, path string) (string, error) {
	start := time.Now()
	res, err := e.resolve.Resolve(path, false, "readlink")
	if err != nil {
		e.opMetrics(ctx, "readlink", start, err)
		return "", err
	}
	if res.Inode.Type != metadata.Symlink {
		err = vfserrors.New(vfserrors.EINVAL, "readlink", path)
		e.opMetrics(ctx, "readlink", start, err)
		return "", err
	}
	e.opMetrics(ctx, "readlink", start, nil)
	return res.Inode.LinkTarget, nil
}

// Realpath fully resolves path, following every symlink along the way,
// and returns the canonical absolute path it names.
func (e *Engine) Realpath(ctx context.Context, path string) (string, error) {
	start := time.Now()
	res, err := e.resolve.Resolve(path, true, "realpath")
	e.opMetrics(ctx, "realpath", start, err)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// DirEntry is one entry returned by Readdir. Path is the entry's full
// path, so a Recursive listing is unambiguous; Name is just its final
// component. Inode is populated only when ReaddirOptions.WithStats is set.
type DirEntry struct {
	Path  string
	Name  string
	Type  metadata.Kind
	Inode *metadata.Inode
}

// ReaddirOptions configures Readdir (spec §6's readdir(path, {withFileTypes?,
// recursive?, withStats?, maxDepth?, filter?})). Every entry Readdir returns
// already carries its type (DirEntry.Type), so withFileTypes has no
// separate knob here — it's the default, not an opt-in.
type ReaddirOptions struct {
	// Recursive walks the whole subtree instead of just direct children.
	Recursive bool
	// MaxDepth bounds a Recursive walk; entries at depth > MaxDepth are
	// excluded. Zero means unbounded. Ignored when Recursive is false.
	MaxDepth int
	// WithStats populates each entry's Inode field with a full Stat.
	WithStats bool
	// Filter, if set, excludes any entry for which it returns false.
	Filter func(DirEntry) bool
}

// Readdir lists the children of the directory at path, sorted by path.
func (e *Engine) Readdir(ctx context.Context, path string, opts ReaddirOptions) ([]DirEntry, error) {
	start := time.Now()
	entries, err := e.readdir(path, opts)
	e.opMetrics(ctx, "readdir", start, err)
	return entries, err
}

func (e *Engine) readdir(path string, opts ReaddirOptions) ([]DirEntry, error) {
	res, err := e.resolve.Resolve(path, true, "readdir")
	if err != nil {
		return nil, err
	}
	if !res.Inode.IsDir() {
		return nil, vfserrors.New(vfserrors.ENOTDIR, "readdir", path)
	}

	var entries []DirEntry
	if err := e.walkChildren(res.Path, 1, opts, &entries); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// walkChildren appends path's direct children to out, recursing into
// sub-directories when opts.Recursive is set and depth hasn't exceeded
// opts.MaxDepth.
func (e *Engine) walkChildren(path string, depth int, opts ReaddirOptions, out *[]DirEntry) error {
	children, err := e.store.Children(path)
	if err != nil {
		return err
	}

	for _, child := range children {
		in, ok, err := e.store.Get(child)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		entry := DirEntry{Path: child, Name: pathutil.Basename(child), Type: in.Type}
		if opts.WithStats {
			entry.Inode = in
		}
		if opts.Filter == nil || opts.Filter(entry) {
			*out = append(*out, entry)
		}
		if opts.Recursive && in.IsDir() && (opts.MaxDepth == 0 || depth < opts.MaxDepth) {
			if err := e.walkChildren(child, depth+1, opts, out); err != nil {
				return err
			}
		}
	}
	return nil
}
