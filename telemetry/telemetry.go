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

// Package telemetry wires the engine's operation counters and latency
// histograms through OpenTelemetry's metric API, with a Prometheus
// exporter as the default reader. The shape (handle interfaces grouped
// by subsystem, a join-the-shutdown-functions helper, attribute-set
// caching to avoid per-call allocation) follows the instrumentation
// layer most of this codebase's ambient stack is grounded on.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ShutdownFn tears down whatever resources a telemetry provider holds
// (exporters, background flush goroutines).
type ShutdownFn func(ctx context.Context) error

// JoinShutdownFunc combines multiple ShutdownFns into one that runs all
// of them and joins their errors, so callers have a single function to
// defer at engine shutdown.
func JoinShutdownFunc(fns ...ShutdownFn) ShutdownFn {
	return func(ctx context.Context) error {
		var err error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			err = errors.Join(err, fn(ctx))
		}
		return err
	}
}

var defaultLatencyBuckets = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100,
	130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000,
)

// OpHandle records per-operation counters for the Capability Facade: one
// call count, one error count (tagged by the POSIX error Kind), one
// latency histogram, each attributed by operation name (spec §6's
// capability surface: read, write, mkdir, rename, ...).
type OpHandle interface {
	Count(ctx context.Context, op string)
	ErrorCount(ctx context.Context, op, errKind string)
	Latency(ctx context.Context, op string, d time.Duration)
}

// CASHandle records CAS put/get/delete activity and bytes moved.
type CASHandle interface {
	PutCount(ctx context.Context, typ string)
	GetCount(ctx context.Context, hit bool)
	BytesStored(ctx context.Context, n int64)
}

// TierHandle records tier-router placement and move activity.
type TierHandle interface {
	PlacementCount(ctx context.Context, tier string)
	MoveCount(ctx context.Context, verb, tier string)
}

// Handles aggregates every metric handle the engine's subsystems use.
type Handles struct {
	Ops  OpHandle
	CAS  CASHandle
	Tier TierHandle
}

const (
	opKey      = "op"
	errKindKey = "err_kind"
	typeKey    = "type"
	hitKey     = "hit"
	verbKey    = "verb"
	tierKey    = "tier"
)

type attrCache struct {
	mu   sync.Mutex
	sets map[string]metric.MeasurementOption
}

func newAttrCache() *attrCache { return &attrCache{sets: map[string]metric.MeasurementOption{}} }

func (c *attrCache) get(cacheKey string, build func() attribute.Set) metric.MeasurementOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opt, ok := c.sets[cacheKey]; ok {
		return opt
	}
	opt := metric.WithAttributeSet(build())
	c.sets[cacheKey] = opt
	return opt
}

type otelHandles struct {
	opCount    metric.Int64Counter
	opErrCount metric.Int64Counter
	opLatency  metric.Float64Histogram
	opAttrs    *attrCache

	casPutCount  metric.Int64Counter
	casGetCount  metric.Int64Counter
	casBytes     metric.Int64Counter
	casAttrs     *attrCache

	tierPlacement metric.Int64Counter
	tierMove      metric.Int64Counter
	tierAttrs     *attrCache
}

func (o *otelHandles) Count(ctx context.Context, op string) {
	o.opCount.Add(ctx, 1, o.opAttrs.get("count:"+op, func() attribute.Set {
		return attribute.NewSet(attribute.String(opKey, op))
	}))
}

func (o *otelHandles) ErrorCount(ctx context.Context, op, errKind string) {
	o.opErrCount.Add(ctx, 1, o.opAttrs.get("err:"+op+":"+errKind, func() attribute.Set {
		return attribute.NewSet(attribute.String(opKey, op), attribute.String(errKindKey, errKind))
	}))
}

func (o *otelHandles) Latency(ctx context.Context, op string, d time.Duration) {
	o.opLatency.Record(ctx, float64(d.Microseconds()), o.opAttrs.get("lat:"+op, func() attribute.Set {
		return attribute.NewSet(attribute.String(opKey, op))
	}))
}

func (o *otelHandles) PutCount(ctx context.Context, typ string) {
	o.casPutCount.Add(ctx, 1, o.casAttrs.get("put:"+typ, func() attribute.Set {
		return attribute.NewSet(attribute.String(typeKey, typ))
	}))
}

func (o *otelHandles) GetCount(ctx context.Context, hit bool) {
	key := fmt.Sprintf("get:%v", hit)
	o.casGetCount.Add(ctx, 1, o.casAttrs.get(key, func() attribute.Set {
		return attribute.NewSet(attribute.Bool(hitKey, hit))
	}))
}

func (o *otelHandles) BytesStored(ctx context.Context, n int64) {
	o.casBytes.Add(ctx, n)
}

func (o *otelHandles) PlacementCount(ctx context.Context, tier string) {
	o.tierPlacement.Add(ctx, 1, o.tierAttrs.get("place:"+tier, func() attribute.Set {
		return attribute.NewSet(attribute.String(tierKey, tier))
	}))
}

func (o *otelHandles) MoveCount(ctx context.Context, verb, tier string) {
	o.tierMove.Add(ctx, 1, o.tierAttrs.get("move:"+verb+":"+tier, func() attribute.Set {
		return attribute.NewSet(attribute.String(verbKey, verb), attribute.String(tierKey, tier))
	}))
}

// New builds Handles backed by OpenTelemetry meters from the global
// provider (the caller is expected to have installed a Prometheus or
// OTLP MeterProvider via otel.SetMeterProvider before calling this).
func New() (Handles, error) {
	opsMeter := otel.Meter("vfscore/ops")
	casMeter := otel.Meter("vfscore/cas")
	tierMeter := otel.Meter("vfscore/tier")

	opCount, err1 := opsMeter.Int64Counter("ops_count", metric.WithDescription("Capability operations processed."))
	opErrCount, err2 := opsMeter.Int64Counter("ops_error_count", metric.WithDescription("Capability operations that failed, by error kind."))
	opLatency, err3 := opsMeter.Float64Histogram("ops_latency", metric.WithDescription("Capability operation latency."), metric.WithUnit("us"), defaultLatencyBuckets)

	casPutCount, err4 := casMeter.Int64Counter("put_count", metric.WithDescription("CAS put calls, by object type."))
	casGetCount, err5 := casMeter.Int64Counter("get_count", metric.WithDescription("CAS get calls, by hit/miss."))
	casBytes, err6 := casMeter.Int64Counter("bytes_stored", metric.WithDescription("Bytes written through CAS puts."), metric.WithUnit("By"))

	tierPlacement, err7 := tierMeter.Int64Counter("placement_count", metric.WithDescription("New blobs placed, by tier."))
	tierMove, err8 := tierMeter.Int64Counter("move_count", metric.WithDescription("Promote/demote moves, by verb and destination tier."))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7, err8); err != nil {
		return Handles{}, fmt.Errorf("telemetry: build meters: %w", err)
	}

	h := &otelHandles{
		opCount: opCount, opErrCount: opErrCount, opLatency: opLatency, opAttrs: newAttrCache(),
		casPutCount: casPutCount, casGetCount: casGetCount, casBytes: casBytes, casAttrs: newAttrCache(),
		tierPlacement: tierPlacement, tierMove: tierMove, tierAttrs: newAttrCache(),
	}
	return Handles{Ops: h, CAS: h, Tier: h}, nil
}

// Noop returns Handles whose methods do nothing, for callers (tests,
// embedders that don't want metrics) that don't want to stand up an
// OpenTelemetry provider.
func Noop() Handles {
	return Handles{Ops: noopHandle{}, CAS: noopHandle{}, Tier: noopHandle{}}
}

type noopHandle struct{}

func (noopHandle) Count(context.Context, string)                  {}
func (noopHandle) ErrorCount(context.Context, string, string)     {}
func (noopHandle) Latency(context.Context, string, time.Duration) {}
func (noopHandle) PutCount(context.Context, string)               {}
func (noopHandle) GetCount(context.Context, bool)                  {}
func (noopHandle) BytesStored(context.Context, int64)              {}
func (noopHandle) PlacementCount(context.Context, string)          {}
func (noopHandle) MoveCount(context.Context, string, string)       {}
