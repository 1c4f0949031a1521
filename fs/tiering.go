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
	"github.com/fsnova/vfscore/common"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/tier"
)

// Promote moves path's content one tier closer to hot (cold -> warm ->
// hot). Promoting an already-hot file is a no-op.
func (e *Engine) Promote(ctx context.Context, path string) error {
	start := time.Now()
	err := e.move(ctx, path, "promote")
	e.opMetrics(ctx, "promote", start, err)
	return err
}

// Demote moves path's content one tier further from hot (hot -> warm ->
// cold), throttled by the engine's demotion rate limiter so a bulk
// demotion sweep can't starve foreground callers sharing the same tier
// backends. Demoting an already-cold file is a no-op.
func (e *Engine) Demote(ctx context.Context, path string) error {
	start := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		e.opMetrics(ctx, "demote", start, err)
		return vfserrors.Wrap(vfserrors.EBUSY, "demote", path, err)
	}
	err := e.move(ctx, path, "demote")
	e.opMetrics(ctx, "demote", start, err)
	return err
}

func (e *Engine) move(ctx context.Context, path, verb string) error {
	res, err := e.resolve.Resolve(path, true, verb)
	if err != nil {
		return err
	}
	in := res.Inode
	if in.Type != metadata.Regular || in.BlobRef == nil {
		return vfserrors.New(vfserrors.EINVAL, verb, path)
	}

	var target tier.Tier
	switch {
	case verb == "promote" && in.Tier > tier.Hot:
		target = in.Tier - 1
	case verb == "demote" && in.Tier < tier.Cold:
		target = in.Tier + 1
	default:
		return nil // already at the terminal tier in this direction
	}

	fanout, err := cas.HashToPath(in.BlobRef.ID)
	if err != nil {
		return err
	}
	if err := withRetry(ctx, verb, path, func() error {
		return e.router.Move(ctx, verb, fanout, in.Tier, target)
	}); err != nil {
		return err
	}

	_, err = e.store.Update(res.Path, func(in *metadata.Inode) {
		in.Tier = target
		in.BlobRef.Tier = target
		e.touchCtime(in)
	})
	return err
}

// SweepResult summarizes a garbage-collection pass across all three tiers.
type SweepResult struct {
	Hot, Warm, Cold cas.SweepResult
}

// GC deletes every stored blob not referenced by any inode's BlobRef,
// across all three tiers. It assumes it is the sole writer for the
// duration of the pass (spec's Non-goal on multi-writer distributed
// locking: GC does not coordinate with concurrent branch commits beyond
// the inode store's own per-path serialization).
func (e *Engine) GC(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	live, err := e.liveHashes()
	if err != nil {
		e.opMetrics(ctx, "gc", start, err)
		return SweepResult{}, err
	}
	isLive := func(hash string) bool { return live[hash] }

	var result SweepResult
	var firstErr error

	if r, err := e.casHot.Sweep(ctx, isLive); firstErr == nil {
		result.Hot, firstErr = r, err
	}
	if r, err := e.casWarm.Sweep(ctx, isLive); firstErr == nil {
		result.Warm, firstErr = r, err
	}
	if r, err := e.casCold.Sweep(ctx, isLive); firstErr == nil {
		result.Cold, firstErr = r, err
	}

	e.opMetrics(ctx, "gc", start, firstErr)
	return result, firstErr
}

// liveHashes walks the whole namespace breadth-first, collecting every
// blob hash still referenced by an inode.
func (e *Engine) liveHashes() (map[string]bool, error) {
	live := map[string]bool{}
	pending := common.NewLinkedListQueue[string]()
	pending.Push("/")

	for !pending.IsEmpty() {
		dir := pending.Pop()
		children, err := e.store.Children(dir)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			in, ok, err := e.store.Get(child)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if in.BlobRef != nil {
				live[in.BlobRef.ID] = true
			}
			if in.IsDir() {
				pending.Push(child)
			}
		}
	}
	return live, nil
}
