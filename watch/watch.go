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

// Package watch implements the engine's Watcher (spec §4.11): a registry
// of listeners keyed by watched path, fired best-effort after a mutation
// commits. It has no knowledge of the metadata store or any particular
// operation; the Capability Facade calls Notify once a mutation has
// already taken effect.
package watch

import (
	"strings"
	"sync"

	"github.com/fsnova/vfscore/pathutil"
)

// EventType distinguishes the two event families spec §4.11 names.
type EventType int

const (
	Rename EventType = iota // create, delete, move
	Change                  // content or metadata mutation
)

func (e EventType) String() string {
	if e == Rename {
		return "rename"
	}
	return "change"
}

// Event is delivered to a Listener.
type Event struct {
	Type     EventType
	Path     string // the path the watcher was registered on
	Affected string // the specific path that changed, for recursive watches
}

// Listener receives watch events. It must not block for long: Notify
// calls it synchronously on the committing goroutine (spec §5's
// cooperative-scheduling model has no separate notification executor).
type Listener func(Event)

// Watcher is a single registration returned by Registry.Watch. ref/unref
// model Node's handle-keepalive convention: Close always tears the
// watcher down regardless of the ref count, matching spec §4.11's
// "close/ref/unref" surface.
type Watcher struct {
	registry  *Registry
	id        uint64
	path      string
	recursive bool
	listener  Listener
	refs      int32
	closed    bool
}

// Close deregisters the watcher. Idempotent.
func (w *Watcher) Close() {
	w.registry.remove(w.id)
}

// Ref increments the watcher's keepalive count.
func (w *Watcher) Ref() { w.registry.setRef(w.id, 1) }

// Unref decrements it. A fully-unrefed watcher does not keep its host
// process alive; this engine has no process-lifecycle hook to act on, so
// Unref is bookkeeping only, exposed for API parity with spec §4.11.
func (w *Watcher) Unref() { w.registry.setRef(w.id, -1) }

// Registry holds every active Watcher and dispatches Notify calls to the
// ones whose path matches.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	watchers map[uint64]*Watcher
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{watchers: map[uint64]*Watcher{}}
}

// Watch registers listener for mutations at path. If recursive is true,
// mutations anywhere under path also fire it.
func (r *Registry) Watch(path string, recursive bool, listener Listener) *Watcher {
	clean, _ := pathutil.Normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	w := &Watcher{registry: r, id: r.nextID, path: clean, recursive: recursive, listener: listener}
	r.watchers[w.id] = w
	return w
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, id)
}

func (r *Registry) setRef(id uint64, delta int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.watchers[id]; ok {
		w.refs += delta
	}
}

// Notify fires every watcher whose registration covers affectedPath,
// after the mutation that produced typ has already committed (spec's
// "emitters fire after the mutation commits" best-effort guarantee).
func (r *Registry) Notify(typ EventType, affectedPath string) {
	clean, _ := pathutil.Normalize(affectedPath)

	r.mu.Lock()
	var fire []*Watcher
	for _, w := range r.watchers {
		if w.path == clean || (w.recursive && isUnder(w.path, clean)) {
			fire = append(fire, w)
		}
	}
	r.mu.Unlock()

	for _, w := range fire {
		w.listener(Event{Type: typ, Path: w.path, Affected: clean})
	}
}

func isUnder(root, path string) bool {
	if root == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, root+"/")
}
