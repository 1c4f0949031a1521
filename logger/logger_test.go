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

package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redirectToBuffer(t *testing.T, severity string, format Format) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	programLevel.Set(severityToLevel(severity))
	defaultLogger = slog.New(newHandler(buf, programLevel, format))
	return buf
}

func TestSeverityFilteringSuppressesLowerLevels(t *testing.T) {
	buf := redirectToBuffer(t, "WARNING", FormatText)

	Debugf("should not appear")
	Infof("should not appear either")
	Warnf("shows up")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "shows up")
	assert.Contains(t, out, "severity=WARNING")
}

func TestJSONFormatEmitsSeverityField(t *testing.T) {
	buf := redirectToBuffer(t, "TRACE", FormatJSON)

	Errorf("boom %d", 42)

	out := buf.String()
	assert.Contains(t, out, `"severity":"ERROR"`)
	assert.Contains(t, out, "boom 42")
}

func TestTraceIsBelowDebug(t *testing.T) {
	buf := redirectToBuffer(t, "TRACE", FormatText)
	Trace("trace line")
	assert.Contains(t, buf.String(), "severity=TRACE")
}

func TestSetLogLevelAppliesImmediately(t *testing.T) {
	buf := redirectToBuffer(t, "ERROR", FormatText)
	Infof("hidden")
	require.Empty(t, buf.String())

	SetLogLevel("INFO")
	Infof("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestNewLegacyLoggerForwardsLines(t *testing.T) {
	buf := redirectToBuffer(t, "DEBUG", FormatText)
	legacy := NewLegacyLogger(LevelDebug, "")

	legacy.Println("from a legacy caller")

	out := buf.String()
	assert.True(t, strings.Contains(out, "from a legacy caller"))
	assert.Contains(t, out, "severity=DEBUG")
}
