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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InstallPrometheus builds a Prometheus-backed MeterProvider, installs it
// as the global provider, and returns Handles plus a ShutdownFn. The
// registered /metrics handler is whatever the caller scrapes the default
// Prometheus registry with; this function only wires the SDK side.
func InstallPrometheus() (Handles, ShutdownFn, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Handles{}, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	handles, err := New()
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return Handles{}, nil, err
	}

	return handles, provider.Shutdown, nil
}
