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

package metadata

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fsnova/vfscore/clock"
	vfserrors "github.com/fsnova/vfscore/errors"
	"github.com/fsnova/vfscore/pathutil"
	"github.com/fsnova/vfscore/tier"

	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS inodes (
	id            INTEGER PRIMARY KEY,
	type          INTEGER NOT NULL,
	mode          INTEGER NOT NULL,
	uid           INTEGER NOT NULL,
	gid           INTEGER NOT NULL,
	size          INTEGER NOT NULL,
	nlink         INTEGER NOT NULL,
	atime         INTEGER NOT NULL,
	mtime         INTEGER NOT NULL,
	ctime         INTEGER NOT NULL,
	birthtime     INTEGER NOT NULL,
	link_target   TEXT NOT NULL DEFAULT '',
	blob_id       TEXT,
	blob_tier     INTEGER,
	blob_size     INTEGER,
	blob_checksum TEXT
);
CREATE TABLE IF NOT EXISTS entries (
	path     TEXT PRIMARY KEY,
	inode_id INTEGER NOT NULL,
	parent   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_parent_idx ON entries(parent);
`

// sqliteStore is the hot, row-structured metadata backend: inode rows and
// directory entries persisted through database/sql against the pure-Go
// modernc.org/sqlite driver (no cgo toolchain required). It implements the
// same Store contract, and the same single-writer serialization, as
// memStore; the difference is durability across process restarts.
type sqliteStore struct {
	db  *sql.DB
	clk clock.Clock
	mu  sync.Mutex // serializes writers; sqlite itself only allows one anyway
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// path. The query_only pragma is deliberately not set, since this is the
// read-write hot tier; foreign_keys is turned off, and the schema declares
// no foreign-key constraints between entries and inodes.
func OpenSQLiteStore(path string, clk clock.Clock) (Store, error) {
	u := url.URL{Scheme: "file", Opaque: path, RawQuery: url.Values{
		"_pragma": {"foreign_keys(0)", "journal_mode(WAL)"},
	}.Encode()}

	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("metadata: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer model; avoids SQLITE_BUSY under concurrent goroutines

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: create schema: %w", err)
	}

	s := &sqliteStore{db: db, clk: clk}
	if err := s.seedRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) seedRoot() error {
	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM entries WHERE path = '/'`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := s.clk.Now().UnixMilli()
	res, err := s.db.Exec(`INSERT INTO inodes(type, mode, uid, gid, size, nlink, atime, mtime, ctime, birthtime)
		VALUES (?, ?, 0, 0, 0, 2, ?, ?, ?, ?)`, Directory, 0o755, now, now, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO entries(path, inode_id, parent) VALUES ('/', ?, '')`, id)
	return err
}

func scanInode(scanner interface {
	Scan(dest ...any) error
}) (*Inode, error) {
	in := &Inode{}
	var linkTarget string
	var blobID, blobChecksum sql.NullString
	var blobTier sql.NullInt64
	var blobSize sql.NullInt64

	if err := scanner.Scan(
		&in.ID, &in.Type, &in.Mode, &in.UID, &in.GID, &in.Size, &in.Nlink,
		&in.Atime, &in.Mtime, &in.Ctime, &in.Birthtime, &linkTarget,
		&blobID, &blobTier, &blobSize, &blobChecksum,
	); err != nil {
		return nil, err
	}
	in.LinkTarget = linkTarget
	if blobID.Valid {
		in.BlobRef = &BlobRef{
			ID:       blobID.String,
			Tier:     tier.Tier(blobTier.Int64),
			Size:     blobSize.Int64,
			Checksum: blobChecksum.String,
		}
		in.Tier = tier.Tier(blobTier.Int64)
	}
	return in, nil
}

const inodeColumns = `id, type, mode, uid, gid, size, nlink, atime, mtime, ctime, birthtime, link_target, blob_id, blob_tier, blob_size, blob_checksum`

func (s *sqliteStore) Get(path string) (*Inode, bool, error) {
	clean, _ := pathutil.Normalize(path)
	row := s.db.QueryRow(`SELECT i.`+inodeColumns+` FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, clean)
	in, err := scanInode(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, vfserrors.Wrap(vfserrors.EINVAL, "get", path, err)
	}
	return in, true, nil
}

func (s *sqliteStore) Has(path string) (bool, error) {
	clean, _ := pathutil.Normalize(path)
	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM entries WHERE path = ?`, clean).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *sqliteStore) GetByID(id uint64) (*Inode, bool, error) {
	row := s.db.QueryRow(`SELECT `+inodeColumns+` FROM inodes WHERE id = ?`, id)
	in, err := scanInode(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return in, true, nil
}

func (s *sqliteStore) Children(dir string) ([]string, error) {
	clean, _ := pathutil.Normalize(dir)
	rows, err := s.db.Query(`SELECT path FROM entries WHERE parent = ?`, clean)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) insertInode(tx *sql.Tx, in *Inode, now int64) (int64, error) {
	if in.Atime == 0 {
		in.Atime = now
	}
	if in.Mtime == 0 {
		in.Mtime = now
	}
	if in.Ctime == 0 {
		in.Ctime = now
	}
	if in.Birthtime == 0 {
		in.Birthtime = now
	}
	var blobID, blobChecksum any
	var blobTier, blobSize any
	if in.BlobRef != nil {
		blobID, blobChecksum = in.BlobRef.ID, in.BlobRef.Checksum
		blobTier, blobSize = int64(in.BlobRef.Tier), in.BlobRef.Size
	}
	res, err := tx.Exec(`INSERT INTO inodes(type, mode, uid, gid, size, nlink, atime, mtime, ctime, birthtime, link_target, blob_id, blob_tier, blob_size, blob_checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Type, in.Mode, in.UID, in.GID, in.Size, in.Nlink, in.Atime, in.Mtime, in.Ctime, in.Birthtime, in.LinkTarget,
		blobID, blobTier, blobSize, blobChecksum)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) Put(path string, in *Inode) (*Inode, error) {
	clean, _ := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT count(*) FROM entries WHERE path = ?`, clean).Scan(&exists); err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, vfserrors.New(vfserrors.EEXIST, "create", path)
	}

	parent := pathutil.Dirname(clean)
	var parentID int64
	var parentType Kind
	if clean != "/" {
		row := tx.QueryRow(`SELECT i.id, i.type FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, parent)
		if err := row.Scan(&parentID, &parentType); err == sql.ErrNoRows {
			return nil, vfserrors.New(vfserrors.ENOENT, "create", path)
		} else if err != nil {
			return nil, err
		}
		if parentType != Directory {
			return nil, vfserrors.New(vfserrors.ENOTDIR, "create", path)
		}
	}

	now := s.clk.Now().UnixMilli()
	rec := in.Clone()
	if rec.Type == Directory {
		rec.Nlink = 2
	} else if rec.Nlink == 0 {
		rec.Nlink = 1
	}
	id, err := s.insertInode(tx, rec, now)
	if err != nil {
		return nil, err
	}
	rec.ID = uint64(id)

	if _, err := tx.Exec(`INSERT INTO entries(path, inode_id, parent) VALUES (?, ?, ?)`, clean, id, parent); err != nil {
		return nil, err
	}
	if clean != "/" && rec.Type == Directory {
		if _, err := tx.Exec(`UPDATE inodes SET nlink = nlink + 1, ctime = ? WHERE id = ?`, now, parentID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *sqliteStore) Update(path string, mutate func(*Inode)) (*Inode, error) {
	clean, _ := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT i.`+inodeColumns+` FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, clean)
	in, err := scanInode(row)
	if err == sql.ErrNoRows {
		return nil, vfserrors.New(vfserrors.ENOENT, "update", path)
	}
	if err != nil {
		return nil, err
	}
	mutate(in)

	var blobID, blobChecksum any
	var blobTier, blobSize any
	if in.BlobRef != nil {
		blobID, blobChecksum = in.BlobRef.ID, in.BlobRef.Checksum
		blobTier, blobSize = int64(in.BlobRef.Tier), in.BlobRef.Size
	}
	_, err = tx.Exec(`UPDATE inodes SET mode=?, uid=?, gid=?, size=?, nlink=?, atime=?, mtime=?, ctime=?, birthtime=?,
		link_target=?, blob_id=?, blob_tier=?, blob_size=?, blob_checksum=? WHERE id=?`,
		in.Mode, in.UID, in.GID, in.Size, in.Nlink, in.Atime, in.Mtime, in.Ctime, in.Birthtime,
		in.LinkTarget, blobID, blobTier, blobSize, blobChecksum, in.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *sqliteStore) Remove(path string) error {
	clean, _ := pathutil.Normalize(path)
	if clean == "/" {
		return vfserrors.New(vfserrors.EPERM, "unlink", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	var typ Kind
	var nlink uint32
	row := tx.QueryRow(`SELECT i.id, i.type, i.nlink FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, clean)
	if err := row.Scan(&id, &typ, &nlink); err == sql.ErrNoRows {
		return vfserrors.New(vfserrors.ENOENT, "unlink", path)
	} else if err != nil {
		return err
	}

	if typ == Directory {
		var childCount int
		if err := tx.QueryRow(`SELECT count(*) FROM entries WHERE parent = ?`, clean).Scan(&childCount); err != nil {
			return err
		}
		if childCount > 0 {
			return vfserrors.New(vfserrors.ENOTEMPTY, "rmdir", path)
		}
	}

	parent := pathutil.Dirname(clean)
	if _, err := tx.Exec(`DELETE FROM entries WHERE path = ?`, clean); err != nil {
		return err
	}

	now := s.clk.Now().UnixMilli()
	if typ == Directory {
		if _, err := tx.Exec(`DELETE FROM inodes WHERE id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE inodes SET nlink = nlink - 1, ctime = ? WHERE id = (SELECT inode_id FROM entries WHERE path = ?)`, now, parent); err != nil {
			return err
		}
	} else {
		newNlink := nlink - 1
		if newNlink == 0 {
			if _, err := tx.Exec(`DELETE FROM inodes WHERE id = ?`, id); err != nil {
				return err
			}
		} else if _, err := tx.Exec(`UPDATE inodes SET nlink = ? WHERE id = ?`, newNlink, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Rename(oldPath, newPath string, overwrite bool) error {
	oldClean, _ := pathutil.Normalize(oldPath)
	newClean, _ := pathutil.Normalize(newPath)
	if oldClean == "/" {
		return vfserrors.New(vfserrors.EPERM, "rename", oldPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	var typ Kind
	row := tx.QueryRow(`SELECT i.id, i.type FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, oldClean)
	if err := row.Scan(&id, &typ); err == sql.ErrNoRows {
		return vfserrors.NewTwoPath(vfserrors.ENOENT, "rename", oldPath, newPath)
	} else if err != nil {
		return err
	}

	newParent := pathutil.Dirname(newClean)
	if newParent != "/" {
		var parentType Kind
		if err := tx.QueryRow(`SELECT i.type FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, newParent).Scan(&parentType); err == sql.ErrNoRows {
			return vfserrors.NewTwoPath(vfserrors.ENOENT, "rename", oldPath, newPath)
		} else if err != nil {
			return err
		} else if parentType != Directory {
			return vfserrors.NewTwoPath(vfserrors.ENOTDIR, "rename", oldPath, newPath)
		}
	}

	var existingID int64
	err = tx.QueryRow(`SELECT inode_id FROM entries WHERE path = ?`, newClean).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		// destination free
	case err != nil:
		return err
	default:
		if !overwrite {
			return vfserrors.NewTwoPath(vfserrors.EEXIST, "rename", oldPath, newPath)
		}
		var childCount int
		if err := tx.QueryRow(`SELECT count(*) FROM entries WHERE parent = ?`, newClean).Scan(&childCount); err != nil {
			return err
		}
		if childCount > 0 {
			return vfserrors.NewTwoPath(vfserrors.ENOTEMPTY, "rename", oldPath, newPath)
		}
		if _, err := tx.Exec(`DELETE FROM inodes WHERE id = ?`, existingID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM entries WHERE path = ?`, newClean); err != nil {
			return err
		}
	}

	oldParent := pathutil.Dirname(oldClean)
	if _, err := tx.Exec(`UPDATE entries SET path = ?, parent = ? WHERE path = ?`, newClean, newParent, oldClean); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE inodes SET ctime = ? WHERE id = ?`, s.clk.Now().UnixMilli(), id); err != nil {
		return err
	}
	if typ == Directory {
		if err := rekeyDescendantsSQL(tx, oldClean, newClean); err != nil {
			return err
		}
		if oldParent != newParent {
			if _, err := tx.Exec(`UPDATE inodes SET nlink = nlink - 1 WHERE id = (SELECT inode_id FROM entries WHERE path = ?)`, oldParent); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE inodes SET nlink = nlink + 1 WHERE id = (SELECT inode_id FROM entries WHERE path = ?)`, newParent); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// rekeyDescendantsSQL rewrites every entries row whose path or parent lies
// under oldRoot so it lives under newRoot instead, after a directory rename.
func rekeyDescendantsSQL(tx *sql.Tx, oldRoot, newRoot string) error {
	rows, err := tx.Query(`SELECT path, parent FROM entries WHERE path = ? OR path LIKE ?`, oldRoot, oldRoot+"/%")
	if err != nil {
		return err
	}
	type rowT struct{ path, parent string }
	var all []rowT
	for rows.Next() {
		var r rowT
		if err := rows.Scan(&r.path, &r.parent); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()

	for _, r := range all {
		if r.path == oldRoot {
			continue // already moved by the caller's UPDATE
		}
		newPath := newRoot + strings.TrimPrefix(r.path, oldRoot)
		newParent := r.parent
		if r.parent == oldRoot {
			newParent = newRoot
		} else if strings.HasPrefix(r.parent, oldRoot+"/") {
			newParent = newRoot + strings.TrimPrefix(r.parent, oldRoot)
		}
		if _, err := tx.Exec(`UPDATE entries SET path = ?, parent = ? WHERE path = ?`, newPath, newParent, r.path); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Link(existingPath, newPath string) error {
	existingClean, _ := pathutil.Normalize(existingPath)
	newClean, _ := pathutil.Normalize(newPath)
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	var typ Kind
	row := tx.QueryRow(`SELECT i.id, i.type FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, existingClean)
	if err := row.Scan(&id, &typ); err == sql.ErrNoRows {
		return vfserrors.NewTwoPath(vfserrors.ENOENT, "link", existingPath, newPath)
	} else if err != nil {
		return err
	}
	if typ == Directory {
		return vfserrors.NewTwoPath(vfserrors.EPERM, "link", existingPath, newPath)
	}

	var exists int
	if err := tx.QueryRow(`SELECT count(*) FROM entries WHERE path = ?`, newClean).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return vfserrors.NewTwoPath(vfserrors.EEXIST, "link", existingPath, newPath)
	}

	parent := pathutil.Dirname(newClean)
	var parentType Kind
	if err := tx.QueryRow(`SELECT i.type FROM inodes i JOIN entries e ON e.inode_id = i.id WHERE e.path = ?`, parent).Scan(&parentType); err == sql.ErrNoRows {
		return vfserrors.NewTwoPath(vfserrors.ENOENT, "link", existingPath, newPath)
	} else if err != nil {
		return err
	} else if parentType != Directory {
		return vfserrors.NewTwoPath(vfserrors.ENOTDIR, "link", existingPath, newPath)
	}

	now := s.clk.Now().UnixMilli()
	if _, err := tx.Exec(`INSERT INTO entries(path, inode_id, parent) VALUES (?, ?, ?)`, newClean, id, parent); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE inodes SET nlink = nlink + 1, ctime = ? WHERE id = ?`, now, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*sqliteStore)(nil)
