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

package pathutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

// normalizeResult bundles Normalize's two return values so a table-driven
// case can diff them as a single struct.
type normalizeResult struct {
	Clean   string
	Trailer bool
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want normalizeResult
	}{
		{"root", "/", normalizeResult{"/", false}},
		{"collapse double slash", "//a//b", normalizeResult{"/a/b", false}},
		{"dot segments", "/a/./b/.", normalizeResult{"/a/b", false}},
		{"dotdot segments", "/a/b/../c", normalizeResult{"/a/c", false}},
		{"dotdot above root dropped", "/../../a", normalizeResult{"/a", false}},
		{"trailing slash tracked", "/a/b/", normalizeResult{"/a/b", true}},
		{"relative normalized under root", "a/b", normalizeResult{"/a/b", false}},
		{"empty string", "", normalizeResult{"/", false}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clean, trailer := Normalize(tc.in)
			got := normalizeResult{clean, trailer}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Normalize(%q) mismatch (-want +got):\n%s", tc.in, diff)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"/", "//a//b/../c/", "/x/y/z", "relative/path"}
	for _, in := range inputs {
		once, _ := Normalize(in)
		twice, _ := Normalize(once)
		assert.Equal(t, once, twice, "normalize(normalize(%q)) must equal normalize(%q)", in, in)
	}
}

func TestDirnameBasename(t *testing.T) {
	assert.Equal(t, "/", Dirname("/"))
	assert.Equal(t, "/", Basename("/"))
	assert.Equal(t, "/a/b", Dirname("/a/b/c"))
	assert.Equal(t, "c", Basename("/a/b/c"))
	assert.Equal(t, "/", Dirname("/c"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/a/b", Join("/a", "b"))
	assert.Equal(t, "/x", Join("/a", "/x"))
	assert.Equal(t, "/a/b/c", Join("/a/b", "./c"))
	assert.Equal(t, "/a", Join("/a/b", "../../a"))
}

func TestIsAbs(t *testing.T) {
	assert.True(t, IsAbs("/a/b"))
	assert.False(t, IsAbs("a/b"))
	assert.False(t, IsAbs(""))
}
