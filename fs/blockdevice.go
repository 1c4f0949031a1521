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

// Block-device files are the one path through the Capability Facade that
// bypasses CAS/COW content addressing entirely: a SQLite database image
// needs page-level random access and SQLite's own lock discipline, which
// the Extent/Block Layer and VFS Shim (spec §4.9/§4.10) provide. Every
// other regular file goes through content.go's whole-blob CAS pipeline.
package fs

import (
	"context"
	"time"

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/pathutil"
	"github.com/fsnova/vfscore/vfsshim"
)

// MakeBlockDevice creates a block-device-backed file at path, for a
// caller that wants to host a SQLite database image there. The engine
// must have been constructed with BlockBackend/BlockIndexPath for this to
// succeed.
func (e *Engine) MakeBlockDevice(ctx context.Context, path string) error {
	start := time.Now()
	err := e.makeBlockDevice(path)
	e.opMetrics(ctx, "makeBlockDevice", start, err)
	return err
}

func (e *Engine) makeBlockDevice(path string) error {
	if e.vfs == nil {
		return vfserrors.New(vfserrors.EINVAL, "makeBlockDevice", path)
	}
	dir, name := resolveParent(path)
	if _, ok, err := e.store.Get(dir); err != nil {
		return err
	} else if !ok {
		return vfserrors.New(vfserrors.ENOENT, "makeBlockDevice", path)
	}

	now := e.now()
	_, err := e.store.Put(pathutil.Join(dir, name), &metadata.Inode{
		Type: metadata.BlockDevice, Mode: e.opts.FilePerms, UID: e.opts.UID, GID: e.opts.GID,
		Nlink: 1, Atime: now, Mtime: now, Ctime: now, Birthtime: now,
	})
	return err
}

// OpenBlockDevice opens path (which must already be a block-device file)
// through the VFS shim, keyed by its stable inode ID rather than by
// path — the shim itself knows nothing about the namespace.
func (e *Engine) OpenBlockDevice(ctx context.Context, path string, flags vfsshim.OpenFlag) (*vfsshim.Handle, error) {
	start := time.Now()
	h, err := e.openBlockDevice(path, flags)
	e.opMetrics(ctx, "openBlockDevice", start, err)
	return h, err
}

func (e *Engine) openBlockDevice(path string, flags vfsshim.OpenFlag) (*vfsshim.Handle, error) {
	if e.vfs == nil {
		return nil, vfserrors.New(vfserrors.EINVAL, "openBlockDevice", path)
	}
	res, err := e.resolve.Resolve(path, true, "openBlockDevice")
	if err != nil {
		return nil, err
	}
	if res.Inode.Type != metadata.BlockDevice {
		return nil, vfserrors.New(vfserrors.EINVAL, "openBlockDevice", path)
	}
	h, status := e.vfs.XOpen(res.Inode.ID, flags)
	if status != vfsshim.OK {
		return nil, vfserrors.New(vfserrors.EBUSY, "openBlockDevice", path)
	}
	return h, nil
}

// CloseBlockDevice releases a handle opened by OpenBlockDevice.
func (e *Engine) CloseBlockDevice(ctx context.Context, h *vfsshim.Handle) error {
	if e.vfs == nil {
		return vfserrors.New(vfserrors.EINVAL, "closeBlockDevice", "")
	}
	if status := e.vfs.XClose(ctx, h); status != vfsshim.OK {
		return vfserrors.New(vfserrors.EINVAL, "closeBlockDevice", "")
	}
	return nil
}
