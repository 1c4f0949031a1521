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

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
)

// Stat resolves path, following a final symlink, and returns its inode.
func (e *Engine) Stat(ctx context.Context, path string) (*metadata.Inode, error) {
	start := time.Now()
	res, err := e.resolve.Resolve(path, true, "stat")
	e.opMetrics(ctx, "stat", start, err)
	if err != nil {
		return nil, err
	}
	return res.Inode, nil
}

// Lstat resolves path without following a final symlink.
func (e *Engine) Lstat(ctx context.Context, path string) (*metadata.Inode, error) {
	start := time.Now()
	res, err := e.resolve.Resolve(path, false, "lstat")
	e.opMetrics(ctx, "lstat", start, err)
	if err != nil {
		return nil, err
	}
	return res.Inode, nil
}

// Exists reports whether path resolves to anything, following symlinks.
func (e *Engine) Exists(ctx context.Context, path string) bool {
	_, err := e.Stat(ctx, path)
	return err == nil
}

// Access reports whether path exists and (trivially, since this engine has
// no per-call credential plumbing) is reachable; mode is accepted for API
// parity with POSIX access(2) but not yet enforced against UID/GID.
func (e *Engine) Access(ctx context.Context, path string, mode uint32) error {
	_, err := e.Stat(ctx, path)
	return err
}

// Chmod sets path's permission bits, following a final symlink. Only ctime
// is touched (POSIX: a mode change is metadata-only).
func (e *Engine) Chmod(ctx context.Context, path string, mode uint32) error {
	return e.chmod(ctx, path, mode, true)
}

// Lchmod is Chmod without following a final symlink.
func (e *Engine) Lchmod(ctx context.Context, path string, mode uint32) error {
	return e.chmod(ctx, path, mode, false)
}

func (e *Engine) chmod(ctx context.Context, path string, mode uint32, follow bool) error {
	start := time.Now()
	syscall := "chmod"
	if !follow {
		syscall = "lchmod"
	}
	res, err := e.resolve.Resolve(path, follow, syscall)
	if err != nil {
		e.opMetrics(ctx, syscall, start, err)
		return err
	}
	_, err = e.store.Update(res.Path, func(in *metadata.Inode) {
		in.Mode = mode & metadata.ModePermMask | (in.Mode &^ metadata.ModePermMask)
		e.touchCtime(in)
	})
	e.opMetrics(ctx, syscall, start, err)
	return err
}

// Chown sets path's owning UID/GID, following a final symlink.
func (e *Engine) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return e.chown(ctx, path, uid, gid, true)
}

// Lchown is Chown without following a final symlink.
func (e *Engine) Lchown(ctx context.Context, path string, uid, gid uint32) error {
	return e.chown(ctx, path, uid, gid, false)
}

func (e *Engine) chown(ctx context.Context, path string, uid, gid uint32, follow bool) error {
	start := time.Now()
	syscall := "chown"
	if !follow {
		syscall = "lchown"
	}
	res, err := e.resolve.Resolve(path, follow, syscall)
	if err != nil {
		e.opMetrics(ctx, syscall, start, err)
		return err
	}
	_, err = e.store.Update(res.Path, func(in *metadata.Inode) {
		in.UID, in.GID = uid, gid
		e.touchCtime(in)
	})
	e.opMetrics(ctx, syscall, start, err)
	return err
}

// Utimes sets path's atime/mtime, following a final symlink. ctime is
// always touched alongside, per POSIX.
func (e *Engine) Utimes(ctx context.Context, path string, atime, mtime time.Time) error {
	return e.utimes(ctx, path, atime, mtime, true)
}

// Lutimes is Utimes without following a final symlink.
func (e *Engine) Lutimes(ctx context.Context, path string, atime, mtime time.Time) error {
	return e.utimes(ctx, path, atime, mtime, false)
}

func (e *Engine) utimes(ctx context.Context, path string, atime, mtime time.Time, follow bool) error {
	start := time.Now()
	syscall := "utimes"
	if !follow {
		syscall = "lutimes"
	}
	res, err := e.resolve.Resolve(path, follow, syscall)
	if err != nil {
		e.opMetrics(ctx, syscall, start, err)
		return err
	}
	_, err = e.store.Update(res.Path, func(in *metadata.Inode) {
		in.Atime = atime.UnixMilli()
		in.Mtime = mtime.UnixMilli()
		e.touchCtime(in)
	})
	e.opMetrics(ctx, syscall, start, err)
	return err
}

// GetTier reports which tier currently holds path's content.
func (e *Engine) GetTier(ctx context.Context, path string) (tierName string, err error) {
	in, err := e.Stat(ctx, path)
	if err != nil {
		return "", err
	}
	if in.Type != metadata.Regular || in.BlobRef == nil {
		return "", vfserrors.New(vfserrors.EINVAL, "getTier", path)
	}
	return in.Tier.String(), nil
}
