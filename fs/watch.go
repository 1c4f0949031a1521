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

import "github.com/fsnova/vfscore/watch"

// Watch registers listener for events at (or, if recursive, under) path.
// Rename events fire when an entry is created (including a new file made
// by Write, Append, CopyFile or a write stream's Close), removed, renamed,
// linked or symlinked; Change events fire when Write, Append, CopyFile or
// a write stream's Close replaces an existing file's content. Truncate,
// Chmod/Lchmod, Chown/Lchown and Utimes/Lutimes do not notify watchers.
func (e *Engine) Watch(path string, recursive bool, listener watch.Listener) *watch.Watcher {
	return e.watchers.Watch(path, recursive, listener)
}
