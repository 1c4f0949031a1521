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

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallPrometheusBuildsUsableHandles(t *testing.T) {
	handles, shutdown, err := InstallPrometheus()
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx := context.Background()
	assert.NotPanics(t, func() {
		handles.Ops.Count(ctx, "read")
		handles.Ops.ErrorCount(ctx, "read", "ENOENT")
		handles.Ops.Latency(ctx, "read", 5*time.Millisecond)
		handles.CAS.PutCount(ctx, "blob")
		handles.CAS.GetCount(ctx, true)
		handles.CAS.BytesStored(ctx, 4096)
		handles.Tier.PlacementCount(ctx, "hot")
		handles.Tier.MoveCount(ctx, "promote", "hot")
	})
}

func TestNoopHandlesDoNothing(t *testing.T) {
	handles := Noop()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		handles.Ops.Count(ctx, "write")
		handles.CAS.GetCount(ctx, false)
		handles.Tier.MoveCount(ctx, "demote", "cold")
	})
}

func TestJoinShutdownFuncJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	join := JoinShutdownFunc(
		func(context.Context) error { return errA },
		nil,
		func(context.Context) error { return errB },
	)

	err := join(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errA))
	assert.True(t, errors.Is(err, errB))
}
