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

package cas

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Lister is implemented by backends that can enumerate their stored hashes,
// which a CAS GC sweep needs. Not every tier.Backend supports it (a remote
// archive tier may not offer cheap listing); Sweep reports EINVAL-shaped
// errors through a plain error when the configured backend doesn't.
type Lister interface {
	List(ctx context.Context) (<-chan string, error)
}

// SweepResult summarizes one GC pass.
type SweepResult struct {
	ObjectsDeleted uint64
}

// Sweep deletes every stored object whose hash is not reported live by
// isLive. The backend's lister streams hashes on a channel; a filter
// goroutine that consults isLive and a delete goroutine consume that
// stream concurrently under errgroup, so a slow lister doesn't stall
// deletes of objects already seen.
//
// Reference counting across branches and in-flight writers is out of
// scope (spec §4.3); isLive is supplied by the caller, which is expected
// to union live hashes from the metadata store and any open COW branches
// before calling Sweep.
func (s *Store) Sweep(ctx context.Context, isLive func(hash string) bool) (SweepResult, error) {
	lister, ok := s.backend.(Lister)
	if !ok {
		return SweepResult{}, fmt.Errorf("cas: backend does not support listing for GC")
	}

	hashes, err := lister.List(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("cas: list: %w", err)
	}

	stale := make(chan string, 100)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(stale)
		for hash := range hashes {
			if isLive(hash) {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case stale <- hash:
			}
		}
		return nil
	})

	var deleted uint64
	g.Go(func() error {
		for hash := range stale {
			if err := s.Delete(ctx, hash); err != nil {
				return fmt.Errorf("cas: delete %q: %w", hash, err)
			}
			atomic.AddUint64(&deleted, 1)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return SweepResult{ObjectsDeleted: atomic.LoadUint64(&deleted)}, err
	}
	return SweepResult{ObjectsDeleted: deleted}, nil
}
