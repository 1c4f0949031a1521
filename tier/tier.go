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

// Package tier implements the Tier Router (spec §4.6): size-based blob
// placement across hot/warm/cold backends, plus manual promote/demote.
//
// Tiers are a small tagged variant with a dispatch table, per the
// "Capability polymorphism" design note in spec §9 — there is no
// virtual-inheritance hierarchy of backend types, just a map from Tier to
// Backend.
package tier

import (
	"context"
	"fmt"

	vfserrors "github.com/fsnova/vfscore/errors"
)

// Tier identifies which backend stores a regular file's content.
type Tier int

const (
	Hot Tier = iota
	Warm
	Cold
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	case Cold:
		return "cold"
	default:
		return "unknown"
	}
}

// Default size thresholds from spec §4.6.
const (
	HotMaxBytes  = 1 << 20        // size < 1 MiB => hot
	WarmMaxBytes = 100 << 20      // size < 100 MiB => warm
)

// PlacementFor returns the tier a newly created blob of the given size is
// placed in.
func PlacementFor(size int64) Tier {
	switch {
	case size < HotMaxBytes:
		return Hot
	case size < WarmMaxBytes:
		return Warm
	default:
		return Cold
	}
}

// Backend is the narrow interface each tier's storage implementation must
// satisfy. It is intentionally small, per spec §9's guidance that the VFS
// shim, CAS engine, and tier router each expose "a handful of operations".
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Router dispatches reads and writes to the backend matching a blob's tier,
// and implements the transactional promote/demote move described in spec
// §4.6: the new tier's write must succeed in full before the old tier's
// copy is deleted.
type Router struct {
	backends map[Tier]Backend
}

// NewRouter builds a Router from one backend per tier. All three tiers
// must be supplied.
func NewRouter(hot, warm, cold Backend) *Router {
	return &Router{backends: map[Tier]Backend{Hot: hot, Warm: warm, Cold: cold}}
}

func (r *Router) backend(t Tier) (Backend, error) {
	b, ok := r.backends[t]
	if !ok {
		return nil, fmt.Errorf("tier: no backend registered for %s", t)
	}
	return b, nil
}

// Read fetches the bytes for key from the backend matching t.
func (r *Router) Read(ctx context.Context, t Tier, key string) ([]byte, error) {
	b, err := r.backend(t)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, key)
}

// Write stores data for key in the backend matching t.
func (r *Router) Write(ctx context.Context, t Tier, key string, data []byte) error {
	b, err := r.backend(t)
	if err != nil {
		return err
	}
	return b.Put(ctx, key, data)
}

// Move relocates key from src to dst, writing the new copy in full before
// deleting the old one so a failed move never loses data. verb is "promote"
// or "demote", used only for the EINVAL error path.
func (r *Router) Move(ctx context.Context, verb, key string, src, dst Tier) error {
	if verb == "promote" && !(dst < src) {
		return vfserrors.New(vfserrors.EINVAL, "promote", key)
	}
	if verb == "demote" && !(dst > src) {
		return vfserrors.New(vfserrors.EINVAL, "demote", key)
	}

	srcBackend, err := r.backend(src)
	if err != nil {
		return err
	}
	dstBackend, err := r.backend(dst)
	if err != nil {
		return err
	}

	data, err := srcBackend.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := dstBackend.Put(ctx, key, data); err != nil {
		return err
	}
	return srcBackend.Delete(ctx, key)
}
