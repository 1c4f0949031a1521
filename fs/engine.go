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

// Package fs implements the engine's Capability Facade (spec §4.12): the
// single entry point consumers use to get a filesystem capability. It
// wires every other package in this module together — path normalizer,
// metadata store, resolver, tier router, CAS, COW branch, extent/VFS
// layer, watcher — behind the POSIX-shaped surface spec §6 names, with
// Node-compatible negative-errno error semantics.
package fs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/fsnova/vfscore/cas"
	"github.com/fsnova/vfscore/clock"
	"github.com/fsnova/vfscore/cow"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/extent"
	"github.com/fsnova/vfscore/logger"
	"github.com/fsnova/vfscore/metadata"
	"github.com/fsnova/vfscore/pathutil"
	"github.com/fsnova/vfscore/resolver"
	"github.com/fsnova/vfscore/telemetry"
	"github.com/fsnova/vfscore/tier"
	"github.com/fsnova/vfscore/vfsshim"
	"github.com/fsnova/vfscore/watch"
)

// Options configures a new Engine. There is no file/flag loading in this
// package (spec.md's Non-goals keep CLI and config-file parsing as an
// external collaborator's job); callers build Options programmatically,
// functional-options style.
type Options struct {
	Store metadata.Store

	HotBackend   tier.Backend
	WarmBackend  tier.Backend
	ColdBackend  tier.Backend
	BlockBackend tier.Backend // backing store for the extent/VFS layer
	BlockIndexPath string

	Algorithm    cas.Algorithm
	ColdCompress bool // zstd-compress blobs Put directly into the cold tier's CAS store; blobs moved there by placement or Demote keep their existing framing

	Clock   clock.Clock
	Metrics telemetry.Handles

	UID, GID            uint32
	FilePerms, DirPerms uint32

	// DemoteRateLimit bounds how many Demote calls per second proceed, so
	// demotion can't starve foreground callers sharing the same tier
	// backends. Promote is not rate-limited.
	DemoteRateLimit rate.Limit
}

// Option mutates an Options value at construction time.
type Option func(*Options)

func WithClock(c clock.Clock) Option         { return func(o *Options) { o.Clock = c } }
func WithMetrics(h telemetry.Handles) Option { return func(o *Options) { o.Metrics = h } }
func WithOwnership(uid, gid uint32) Option {
	return func(o *Options) { o.UID, o.GID = uid, gid }
}
func WithPerms(file, dir uint32) Option {
	return func(o *Options) { o.FilePerms, o.DirPerms = file, dir }
}
func WithDemoteRateLimit(l rate.Limit) Option { return func(o *Options) { o.DemoteRateLimit = l } }

const (
	defaultFilePerms = 0o644
	defaultDirPerms  = 0o755
)

// Engine is the constructed Capability Facade. It owns every subsystem's
// lifetime; Close tears them all down.
type Engine struct {
	opts Options

	store    metadata.Store
	resolve  *resolver.Resolver
	router   *tier.Router
	casHot   *cas.Store
	casWarm  *cas.Store
	casCold  *cas.Store
	branch   *cow.Branch
	extents  *extent.Manager
	vfs      *vfsshim.VFS
	watchers *watch.Registry
	clk      clock.Clock
	metrics  telemetry.Handles

	limiter *rate.Limiter

	mu        sync.Mutex
	nextHandl uint64
}

// New builds an Engine from a base Options value plus functional overrides.
// Store, HotBackend, WarmBackend, and ColdBackend are required; BlockBackend
// and BlockIndexPath are required only if the caller intends to use the
// block-device/VFS capability (spec §4.10).
func New(base Options, opts ...Option) (*Engine, error) {
	o := base
	for _, fn := range opts {
		fn(&o)
	}
	if o.Store == nil || o.HotBackend == nil || o.WarmBackend == nil || o.ColdBackend == nil {
		return nil, fmt.Errorf("fs: Store, HotBackend, WarmBackend, ColdBackend are required")
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.FilePerms == 0 {
		o.FilePerms = defaultFilePerms
	}
	if o.DirPerms == 0 {
		o.DirPerms = defaultDirPerms
	}
	if o.DemoteRateLimit == 0 {
		o.DemoteRateLimit = rate.Limit(50)
	}

	casHot, err := cas.New(o.HotBackend, o.Algorithm, false)
	if err != nil {
		return nil, fmt.Errorf("fs: build hot cas: %w", err)
	}
	casWarm, err := cas.New(o.WarmBackend, o.Algorithm, false)
	if err != nil {
		return nil, fmt.Errorf("fs: build warm cas: %w", err)
	}
	casCold, err := cas.New(o.ColdBackend, o.Algorithm, o.ColdCompress)
	if err != nil {
		return nil, fmt.Errorf("fs: build cold cas: %w", err)
	}

	e := &Engine{
		opts:     o,
		store:    o.Store,
		resolve:  resolver.New(o.Store),
		router:   tier.NewRouter(o.HotBackend, o.WarmBackend, o.ColdBackend),
		casHot:   casHot,
		casWarm:  casWarm,
		casCold:  casCold,
		watchers: watch.NewRegistry(),
		clk:      o.Clock,
		metrics:  o.Metrics,
		limiter:  rate.NewLimiter(o.DemoteRateLimit, 1),
	}
	e.branch = cow.New("root", nil, casWarm, o.Clock.Now)

	if o.BlockBackend != nil && o.BlockIndexPath != "" {
		mgr, err := extent.Open(o.BlockBackend, o.BlockIndexPath)
		if err != nil {
			return nil, fmt.Errorf("fs: build extent manager: %w", err)
		}
		e.extents = mgr
		e.vfs = vfsshim.New(mgr)
	}

	logger.Infof("fs: engine constructed (algorithm=%d cold_compress=%v)", o.Algorithm, o.ColdCompress)
	return e, nil
}

// Close releases every subsystem this Engine owns.
func (e *Engine) Close() error {
	var err error
	if e.extents != nil {
		err = e.extents.Close()
	}
	if cerr := e.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (e *Engine) casForTier(t tier.Tier) *cas.Store {
	switch t {
	case tier.Hot:
		return e.casHot
	case tier.Cold:
		return e.casCold
	default:
		return e.casWarm
	}
}

func (e *Engine) now() int64 { return e.clk.Now().UnixMilli() }

func (e *Engine) opMetrics(ctx context.Context, op string, start time.Time, err error) {
	if e.metrics.Ops == nil {
		return
	}
	e.metrics.Ops.Count(ctx, op)
	e.metrics.Ops.Latency(ctx, op, time.Since(start))
	if err != nil {
		if kind, ok := vfserrors.KindOf(err); ok {
			e.metrics.Ops.ErrorCount(ctx, op, kind.String())
		} else {
			e.metrics.Ops.ErrorCount(ctx, op, "unknown")
		}
	}
}

// withRetry runs fn with exponential backoff, giving up and surfacing EBUSY
// (spec §7's "exponential-backoff-then-EBUSY" transient-backend policy)
// once the budget is exhausted. Only the caller-supplied fn decides what
// counts as retryable by returning a non-nil error; a nil error or a
// context cancellation stop the loop immediately.
func withRetry(ctx context.Context, syscall, path string, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	err := backoff.Retry(fn, policy)
	if err != nil {
		if ctx.Err() != nil {
			return vfserrors.Wrap(vfserrors.EINVAL, syscall, path, ctx.Err())
		}
		return vfserrors.New(vfserrors.EBUSY, syscall, path)
	}
	return nil
}

func (e *Engine) touchCtime(in *metadata.Inode) { in.Ctime = e.now() }

func (e *Engine) touchMtimeCtime(in *metadata.Inode) {
	in.Mtime = e.now()
	in.Ctime = e.now()
}

func resolveParent(path string) (dir, name string) {
	return pathutil.Dirname(path), pathutil.Basename(path)
}
