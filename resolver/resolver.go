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

// Package resolver implements the engine's Path Resolver (spec §4.5):
// segment-wise walking of the metadata store with bounded symlink
// expansion. It sits directly above metadata.Store and below everything
// else in the Capability Facade that needs a path resolved to an inode.
package resolver

import (
	"strings"

	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/pathutil"
)

// maxExpansions bounds the cumulative number of symlink expansions a single
// top-level resolve performs, independent of how many segments or how much
// recursion it takes to get there. Exceeding it is ELOOP.
const maxExpansions = 40

// Result is what a successful resolve produces: the fully-expanded
// canonical path, the inode it names, and whether that path was itself a
// symlink the caller chose not to follow.
type Result struct {
	Path      string
	Inode     *metadata.Inode
	IsSymlink bool // true when FollowFinalSymlink was false and the final segment is a symlink
}

// Resolver walks paths against a metadata.Store, expanding symlinks per
// spec §4.5. It holds no state between calls; every Resolve starts a fresh
// expansion budget.
type Resolver struct {
	store metadata.Store
}

// New builds a Resolver over store.
func New(store metadata.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve walks path left to right, consulting the metadata store for each
// segment. followFinalSymlink controls whether a symlink in the final
// position is expanded (stat-like callers pass true; lstat-like callers
// pass false). syscall tags any error this call produces, matching the
// caller's operation name (spec §4.5's "or the caller-provided syscall
// tag").
func (r *Resolver) Resolve(path string, followFinalSymlink bool, syscall string) (*Result, error) {
	clean, hadTrailingSlash := pathutil.Normalize(path)
	budget := maxExpansions
	res, err := r.resolve(clean, followFinalSymlink, syscall, &budget)
	if err != nil {
		return nil, err
	}
	if hadTrailingSlash && !res.Inode.IsDir() {
		return nil, vfserrors.New(vfserrors.ENOTDIR, syscall, path)
	}
	return res, nil
}

// resolve is the recursive worker. budget is shared across the whole
// top-level call, including recursive re-entries triggered by symlink
// targets, per spec §4.5's "fresh budget per top-level operation".
func (r *Resolver) resolve(path string, followFinalSymlink bool, syscall string, budget *int) (*Result, error) {
	segments := splitSegments(path)

	cursor := "/"
	var in *metadata.Inode
	root, ok, err := r.store.Get("/")
	if err != nil {
		return nil, vfserrors.Wrap(vfserrors.EINVAL, syscall, path, err)
	}
	if !ok {
		return nil, vfserrors.New(vfserrors.ENOENT, syscall, path)
	}
	in = root

	for i, seg := range segments {
		isLast := i == len(segments)-1
		next := pathutil.Join(cursor, seg)

		childIn, ok, err := r.store.Get(next)
		if err != nil {
			return nil, vfserrors.Wrap(vfserrors.EINVAL, syscall, path, err)
		}
		if !ok {
			return nil, vfserrors.New(vfserrors.ENOENT, syscall, path)
		}

		if childIn.Type == metadata.Symlink && (!isLast || followFinalSymlink) {
			*budget--
			if *budget < 0 {
				return nil, vfserrors.New(vfserrors.ELOOP, syscall, path)
			}

			var target string
			if pathutil.IsAbs(childIn.LinkTarget) {
				target = childIn.LinkTarget
			} else {
				target = pathutil.Join(cursor, childIn.LinkTarget)
			}

			expanded, err := r.resolve(target, true, syscall, budget)
			if err != nil {
				if isLast && followFinalSymlink {
					if kind, ok := vfserrors.KindOf(err); ok && kind == vfserrors.ENOENT {
						return nil, vfserrors.New(vfserrors.ENOENT, syscall, path)
					}
				}
				return nil, err
			}
			cursor = expanded.Path
			in = expanded.Inode
			continue
		}

		cursor = next
		in = childIn

		if !isLast && in.Type != metadata.Directory {
			return nil, vfserrors.New(vfserrors.ENOTDIR, syscall, path)
		}
	}

	return &Result{
		Path:      cursor,
		Inode:     in,
		IsSymlink: in.Type == metadata.Symlink && !followFinalSymlink,
	}, nil
}

func splitSegments(clean string) []string {
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}
