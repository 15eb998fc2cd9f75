package registry

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
)

// errKeyNotFound carries the exact text raft checks for on a missing key.
var errKeyNotFound = errors.New("not found")

// RaftStore exposes the database as a raft LogStore and StableStore so the
// replication log lives next to the directory.
type RaftStore struct {
	db *sql.DB
}

var (
	_ raft.LogStore    = (*RaftStore)(nil)
	_ raft.StableStore = (*RaftStore)(nil)
)

func (s *SQLiteStore) RaftStore() *RaftStore { return &RaftStore{db: s.db} }

func (r *RaftStore) FirstIndex() (uint64, error) {
	return r.index(`SELECT COALESCE(MIN(idx), 0) FROM raft_log`)
}

func (r *RaftStore) LastIndex() (uint64, error) {
	return r.index(`SELECT COALESCE(MAX(idx), 0) FROM raft_log`)
}

func (r *RaftStore) index(query string) (uint64, error) {
	var idx int64
	if err := r.db.QueryRow(query).Scan(&idx); err != nil {
		return 0, err
	}
	return uint64(idx), nil
}

func (r *RaftStore) GetLog(index uint64, l *raft.Log) error {
	var (
		term, typ, appended int64
		data, ext           []byte
	)
	err := r.db.QueryRow(`SELECT term, type, data, extensions, appended_at FROM raft_log WHERE idx = ?`, int64(index)).
		Scan(&term, &typ, &data, &ext, &appended)
	if errors.Is(err, sql.ErrNoRows) {
		return raft.ErrLogNotFound
	}
	if err != nil {
		return err
	}
	*l = raft.Log{
		Index:      index,
		Term:       uint64(term),
		Type:       raft.LogType(typ),
		Data:       data,
		Extensions: ext,
	}
	if appended != 0 {
		l.AppendedAt = time.Unix(0, appended)
	}
	return nil
}

func (r *RaftStore) StoreLog(l *raft.Log) error {
	return r.StoreLogs([]*raft.Log{l})
}

func (r *RaftStore) StoreLogs(logs []*raft.Log) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	for _, l := range logs {
		var appended int64
		if !l.AppendedAt.IsZero() {
			appended = l.AppendedAt.UnixNano()
		}
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO raft_log (idx, term, type, data, extensions, appended_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, int64(l.Index), int64(l.Term), int64(l.Type), l.Data, l.Extensions, appended)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storing log %d: %w", l.Index, err)
		}
	}
	return tx.Commit()
}

// DeleteRange removes entries min through max inclusive.
func (r *RaftStore) DeleteRange(min, max uint64) error {
	_, err := r.db.Exec(`DELETE FROM raft_log WHERE idx >= ? AND idx <= ?`, int64(min), int64(max))
	return err
}

func (r *RaftStore) Set(key, val []byte) error {
	_, err := r.db.Exec(`INSERT OR REPLACE INTO raft_stable (key, value) VALUES (?, ?)`, key, val)
	return err
}

func (r *RaftStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := r.db.QueryRow(`SELECT value FROM raft_stable WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errKeyNotFound
	}
	return val, err
}

func (r *RaftStore) SetUint64(key []byte, val uint64) error {
	return r.Set(key, binary.BigEndian.AppendUint64(nil, val))
}

func (r *RaftStore) GetUint64(key []byte) (uint64, error) {
	val, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("stable key %q: want 8 bytes, got %d", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}
