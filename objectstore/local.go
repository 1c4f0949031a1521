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

// Package objectstore implements the local-disk tier.Backend the warm and
// cold tiers use (SPEC_FULL's "Warm tier — object store" mapping): a
// content-addressed directory tree, one file per key, at the same
// two-level fanout (`<hash[0:2]>/<hash[2:]>`) the CAS engine already
// produces via cas.HashToPath. A real deployment swaps this for
// cloud.google.com/go/storage behind the same narrow tier.Backend
// interface, mirroring the teacher's gcs.Bucket boundary — this package
// is that interface's local, dependency-free implementation, so raw
// os/io calls are the right tool here rather than a third-party blob
// store client.
package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	vfserrors "github.com/fsnova/vfscore/errors"
)

// Local is a directory-tree-backed tier.Backend.
type Local struct {
	root string
}

// New builds a Local backend rooted at dir, creating it if necessary.
func New(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: dir}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Get reads the file stored at key.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vfserrors.New(vfserrors.ENOENT, "get", key)
		}
		return nil, vfserrors.Wrap(vfserrors.EINVAL, "get", key, err)
	}
	return data, nil
}

// Put writes data at key, creating its fanout directory as needed, and
// replaces any existing file atomically via a rename from a temp sibling.
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return vfserrors.Wrap(vfserrors.ENOSPC, "put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return vfserrors.Wrap(vfserrors.ENOSPC, "put", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return vfserrors.Wrap(vfserrors.ENOSPC, "put", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return vfserrors.Wrap(vfserrors.ENOSPC, "put", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return vfserrors.Wrap(vfserrors.ENOSPC, "put", key, err)
	}
	return nil
}

// Delete removes the file at key. Deleting an absent key is a no-op,
// matching the idempotent-delete expectation CAS's Sweep relies on.
func (l *Local) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return vfserrors.Wrap(vfserrors.EINVAL, "delete", key, err)
	}
	return nil
}

// List walks the fanout tree and reports every stored key, rejoined into
// its flat hash form (the inverse of cas.HashToPath), satisfying
// cas.Lister for GC sweeps.
func (l *Local) List(ctx context.Context) (<-chan string, error) {
	out := make(chan string, 64)
	go func() {
		defer close(out)
		filepath.WalkDir(l.root, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".tmp-") {
				return nil
			}
			rel, err := filepath.Rel(l.root, p)
			if err != nil {
				return nil
			}
			hash := strings.ReplaceAll(filepath.ToSlash(rel), "/", "")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- hash:
			}
			return nil
		})
	}()
	return out, nil
}
