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

package vfsshim

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// osLocker layers an advisory flock(2) per fileID under the in-memory lock
// state machine, when the process is running on a real OS with a real
// directory to hold lock files in. It is defense in depth, not a substitute
// for the logical lock graph XLock/XUnlock already enforce: a second
// process opening the same backing store out-of-band is still kept out.
type osLocker struct {
	mu   sync.Mutex
	dir  string
	open map[uint64]*os.File
}

func newOSLocker(dir string) *osLocker {
	return &osLocker{dir: dir, open: map[uint64]*os.File{}}
}

func (l *osLocker) fileFor(fileID uint64) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.open[fileID]; ok {
		return f, nil
	}
	path := filepath.Join(l.dir, fmt.Sprintf("%d.lock", fileID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	l.open[fileID] = f
	return f, nil
}

// acquire takes an OS-level flock in shared or exclusive mode depending on
// whether level requests at least RESERVED (POSIX's coarse two-mode lock
// can't express SQLite's five levels, so anything past SHARED maps to an
// exclusive flock).
func (l *osLocker) acquire(fileID uint64, level LockLevel) error {
	f, err := l.fileFor(fileID)
	if err != nil {
		return err
	}
	how := unix.LOCK_SH | unix.LOCK_NB
	if level >= LockReserved {
		how = unix.LOCK_EX | unix.LOCK_NB
	}
	if level == LockNone {
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}
	return unix.Flock(int(f.Fd()), how)
}

func (l *osLocker) release(fileID uint64) error {
	l.mu.Lock()
	f, ok := l.open[fileID]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func (l *osLocker) closeAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	for id, f := range l.open {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(l.open, id)
	}
	return err
}
