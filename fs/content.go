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
	"time"

	"github.com/fsnova/vfscore/cas"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/pathutil"
	"github.com/fsnova/vfscore/stream"
	"github.com/fsnova/vfscore/tier"
	"github.com/fsnova/vfscore/watch"
)

// readAll fetches path's full content through whichever tier currently
// holds it.
func (e *Engine) readAll(ctx context.Context, in *metadata.Inode, syscall, path string) ([]byte, error) {
	if in.Type == metadata.BlockDevice {
		return nil, vfserrors.New(vfserrors.EINVAL, syscall, path)
	}
	if in.BlobRef == nil {
		return nil, nil
	}
	obj, ok, err := e.casForTier(in.Tier).Get(ctx, in.BlobRef.ID)
	if err != nil {
		return nil, vfserrors.Wrap(vfserrors.EINVAL, syscall, path, err)
	}
	if !ok {
		return nil, vfserrors.New(vfserrors.ENOENT, syscall, path)
	}
	return obj.Bytes, nil
}

// Read returns the full current content of the regular file at path.
func (e *Engine) Read(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	res, err := e.resolve.Resolve(path, true, "read")
	if err != nil {
		e.opMetrics(ctx, "read", start, err)
		return nil, err
	}
	if res.Inode.IsDir() {
		e.opMetrics(ctx, "read", start, vfserrors.New(vfserrors.EISDIR, "read", path))
		return nil, vfserrors.New(vfserrors.EISDIR, "read", path)
	}
	data, err := e.readAll(ctx, res.Inode, "read", path)
	if err == nil {
		_, uerr := e.store.Update(res.Path, func(in *metadata.Inode) { in.Atime = e.now() })
		if uerr != nil {
			err = uerr
		}
	}
	e.opMetrics(ctx, "read", start, err)
	return data, err
}

type writeOutcome struct {
	Hash string
	Tier tier.Tier
	Size int64
}

// writeContent persists data as path's new content: through the branch's
// COW intercept (so a branch-owned path records the previous hash it
// overwrote), then relocated to the tier its size places it in.
func (e *Engine) writeContent(ctx context.Context, path string, data []byte) (writeOutcome, error) {
	result, err := e.branch.InterceptWrite(ctx, path, data)
	if err != nil {
		return writeOutcome{}, vfserrors.Wrap(vfserrors.EINVAL, "write", path, err)
	}

	placed, err := e.placeContent(ctx, result.Hash, int64(len(data)))
	if err != nil {
		return writeOutcome{}, err
	}
	return writeOutcome{Hash: result.Hash, Tier: placed, Size: int64(len(data))}, nil
}

// placeContent relocates a freshly-written blob (always initially stored in
// the warm tier by the COW branch's CAS instance) to the tier its size
// places it in, via the tier router's transactional move.
func (e *Engine) placeContent(ctx context.Context, hash string, size int64) (tier.Tier, error) {
	target := tier.PlacementFor(size)
	if target == tier.Warm {
		return tier.Warm, nil
	}

	fanout, err := cas.HashToPath(hash)
	if err != nil {
		return tier.Warm, err
	}
	verb := "promote"
	if target == tier.Cold {
		verb = "demote"
	}
	err = withRetry(ctx, verb, hash, func() error {
		return e.router.Move(ctx, verb, fanout, tier.Warm, target)
	})
	if err != nil {
		return tier.Warm, err
	}
	return target, nil
}

// Write replaces path's entire content with data (spec's "w" flag: create
// or truncate). mtime and ctime are touched; atime is not.
func (e *Engine) Write(ctx context.Context, path string, data []byte) error {
	start := time.Now()
	err := e.write(ctx, path, data, false)
	e.opMetrics(ctx, "write", start, err)
	return err
}

// Append adds data to the end of path's current content.
func (e *Engine) Append(ctx context.Context, path string, data []byte) error {
	start := time.Now()
	err := e.write(ctx, path, data, true)
	e.opMetrics(ctx, "append", start, err)
	return err
}

func (e *Engine) write(ctx context.Context, path string, data []byte, appendMode bool) error {
	syscall := "write"
	if appendMode {
		syscall = "append"
	}

	res, err := e.resolve.Resolve(path, true, syscall)
	var existing []byte
	if err != nil {
		if kind, ok := vfserrors.KindOf(err); !ok || kind != vfserrors.ENOENT {
			return err
		}
		// New file: created below.
	} else {
		if res.Inode.IsDir() {
			return vfserrors.New(vfserrors.EISDIR, syscall, path)
		}
		if res.Inode.Type == metadata.BlockDevice {
			return vfserrors.New(vfserrors.EINVAL, syscall, path)
		}
		if appendMode {
			existing, err = e.readAll(ctx, res.Inode, syscall, path)
			if err != nil {
				return err
			}
		}
	}

	final := data
	if appendMode {
		final = append(append([]byte(nil), existing...), data...)
	}

	outcome, err := e.writeContent(ctx, path, final)
	if err != nil {
		return err
	}

	blobRef := &metadata.BlobRef{ID: outcome.Hash, Tier: outcome.Tier, Size: outcome.Size, Checksum: outcome.Hash}
	if res != nil {
		_, err = e.store.Update(res.Path, func(in *metadata.Inode) {
			in.BlobRef = blobRef
			in.Tier = outcome.Tier
			in.Size = outcome.Size
			e.touchMtimeCtime(in)
		})
		if err == nil {
			e.watchers.Notify(watch.Change, path)
		}
		return err
	}

	dir, name := resolveParent(path)
	if _, ok, derr := e.store.Get(dir); derr != nil {
		return derr
	} else if !ok {
		return vfserrors.New(vfserrors.ENOENT, syscall, path)
	}
	now := e.now()
	_, err = e.store.Put(pathutil.Join(dir, name), &metadata.Inode{
		Type: metadata.Regular, Mode: e.opts.FilePerms, UID: e.opts.UID, GID: e.opts.GID,
		Nlink: 1, Atime: now, Mtime: now, Ctime: now, Birthtime: now,
		BlobRef: blobRef, Tier: outcome.Tier, Size: outcome.Size,
	})
	if err == nil {
		e.watchers.Notify(watch.Rename, path)
	}
	return err
}

// Truncate resizes path's content to size, padding with zero bytes or
// discarding the tail as needed.
func (e *Engine) Truncate(ctx context.Context, path string, size int64) error {
	start := time.Now()
	res, err := e.resolve.Resolve(path, true, "truncate")
	if err != nil {
		e.opMetrics(ctx, "truncate", start, err)
		return err
	}
	if res.Inode.IsDir() {
		e.opMetrics(ctx, "truncate", start, vfserrors.New(vfserrors.EISDIR, "truncate", path))
		return vfserrors.New(vfserrors.EISDIR, "truncate", path)
	}

	current, err := e.readAll(ctx, res.Inode, "truncate", path)
	if err != nil {
		e.opMetrics(ctx, "truncate", start, err)
		return err
	}
	resized := make([]byte, size)
	copy(resized, current)

	outcome, err := e.writeContent(ctx, path, resized)
	if err != nil {
		e.opMetrics(ctx, "truncate", start, err)
		return err
	}
	_, err = e.store.Update(res.Path, func(in *metadata.Inode) {
		in.BlobRef = &metadata.BlobRef{ID: outcome.Hash, Tier: outcome.Tier, Size: outcome.Size, Checksum: outcome.Hash}
		in.Tier = outcome.Tier
		in.Size = size
		e.touchMtimeCtime(in)
	})
	e.opMetrics(ctx, "truncate", start, err)
	return err
}

// CopyFile duplicates src's current content to dst as a new inode (POSIX
// cp semantics, not a hard link: the two paths own independent inodes from
// this point on).
func (e *Engine) CopyFile(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := e.copyFile(ctx, src, dst)
	e.opMetrics(ctx, "copyFile", start, err)
	return err
}

func (e *Engine) copyFile(ctx context.Context, src, dst string) error {
	res, err := e.resolve.Resolve(src, true, "copyFile")
	if err != nil {
		return err
	}
	if res.Inode.IsDir() {
		return vfserrors.NewTwoPath(vfserrors.EISDIR, "copyFile", src, dst)
	}
	data, err := e.readAll(ctx, res.Inode, "copyFile", src)
	if err != nil {
		return err
	}
	return e.write(ctx, dst, data, false)
}

// CreateReadStream opens a pull-model read stream over path's current
// content (spec §4.7).
func (e *Engine) CreateReadStream(ctx context.Context, path string, opts stream.ReadOptions) (*stream.ReadStream, error) {
	res, err := e.resolve.Resolve(path, true, "createReadStream")
	if err != nil {
		return nil, err
	}
	if res.Inode.IsDir() {
		return nil, vfserrors.New(vfserrors.EISDIR, "createReadStream", path)
	}
	data, err := e.readAll(ctx, res.Inode, "createReadStream", path)
	if err != nil {
		return nil, err
	}
	return stream.NewReadStream(ctx, data, res.Inode.Size, opts)
}

// CreateWriteStream opens a push-model write stream targeting path. start
// allows positional writes relative to path's existing content (spec §4.7);
// zero is the common create-or-truncate/append case. The returned stream's
// Close persists its accumulated bytes as path's new content through the
// same COW+tier pipeline Write uses.
func (e *Engine) CreateWriteStream(ctx context.Context, path string, flag stream.WriteFlag, start int64) (*stream.WriteStream, error) {
	res, err := e.resolve.Resolve(path, true, "createWriteStream")
	exists := err == nil
	if err != nil {
		if kind, ok := vfserrors.KindOf(err); !ok || kind != vfserrors.ENOENT {
			return nil, err
		}
	}
	if exists && (flag == stream.FlagWX || flag == stream.FlagAX) {
		return nil, vfserrors.New(vfserrors.EEXIST, "createWriteStream", path)
	}
	if exists && res.Inode.IsDir() {
		return nil, vfserrors.New(vfserrors.EISDIR, "createWriteStream", path)
	}
	if exists && res.Inode.Type == metadata.BlockDevice {
		return nil, vfserrors.New(vfserrors.EINVAL, "createWriteStream", path)
	}

	var existing []byte
	needsExisting := flag == stream.FlagA || flag == stream.FlagAX || start > 0
	if exists && needsExisting {
		existing, err = e.readAll(ctx, res.Inode, "createWriteStream", path)
		if err != nil {
			return nil, err
		}
	}

	sink := func(ctx context.Context, final []byte) error {
		return e.write(ctx, path, final, false)
	}
	return stream.NewWriteStream(sink, flag, start, existing), nil
}
