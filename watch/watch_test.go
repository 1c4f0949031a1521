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

package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyFiresExactPathMatch(t *testing.T) {
	r := NewRegistry()
	var got []Event
	w := r.Watch("/a/f", false, func(e Event) { got = append(got, e) })
	defer w.Close()

	r.Notify(Change, "/a/f")
	r.Notify(Change, "/a/other")

	require.Len(t, got, 1)
	assert.Equal(t, "/a/f", got[0].Affected)
}

func TestNotifyRecursiveFiresForDescendants(t *testing.T) {
	r := NewRegistry()
	var got []Event
	w := r.Watch("/a", true, func(e Event) { got = append(got, e) })
	defer w.Close()

	r.Notify(Rename, "/a/b/c")
	require.Len(t, got, 1)
	assert.Equal(t, Rename, got[0].Type)
}

func TestNonRecursiveWatchIgnoresDescendants(t *testing.T) {
	r := NewRegistry()
	fired := false
	w := r.Watch("/a", false, func(e Event) { fired = true })
	defer w.Close()

	r.Notify(Change, "/a/b")
	assert.False(t, fired)
}

func TestCloseDeregisters(t *testing.T) {
	r := NewRegistry()
	fired := false
	w := r.Watch("/a", false, func(e Event) { fired = true })
	w.Close()

	r.Notify(Change, "/a")
	assert.False(t, fired)
}

func TestRootWatchRecursiveCoversEverything(t *testing.T) {
	r := NewRegistry()
	var got []Event
	w := r.Watch("/", true, func(e Event) { got = append(got, e) })
	defer w.Close()

	r.Notify(Change, "/anything/deep")
	require.Len(t, got, 1)
}
