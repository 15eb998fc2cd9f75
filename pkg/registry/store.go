// Package registry persists and replicates the peer directory.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"

	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/remote"
)

var log = logging.Logger("registry")

// ErrNotFound means no host is stored under the hash.
var ErrNotFound = errors.New("host not found")

const schema = `
CREATE TABLE IF NOT EXISTS peers (
    hash       TEXT PRIMARY KEY,
    host       TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS raft_log (
    idx         INTEGER PRIMARY KEY,
    term        INTEGER NOT NULL,
    type        INTEGER NOT NULL,
    data        BLOB,
    extensions  BLOB,
    appended_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS raft_stable (
    key   BLOB PRIMARY KEY,
    value BLOB NOT NULL
);
`

// SQLiteStore keeps the directory in a SQLite database, one row per host.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema if it doesn't exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putHost(ctx context.Context, db execer, host remote.Host) error {
	data, err := json.Marshal(host)
	if err != nil {
		return fmt.Errorf("marshaling host: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO peers (hash, host, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			host = excluded.host,
			updated_at = excluded.updated_at
	`, host.Hash().String(), string(data), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Put inserts or replaces one host.
func (s *SQLiteStore) Put(ctx context.Context, host remote.Host) error {
	return putHost(ctx, s.db, host)
}

// PutAll upserts every host of dir in one transaction.
func (s *SQLiteStore) PutAll(ctx context.Context, dir distributor.Directory) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, host := range dir {
			if err := putHost(ctx, tx, host); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replace makes dir the whole stored directory.
func (s *SQLiteStore) Replace(ctx context.Context, dir distributor.Directory) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM peers`); err != nil {
			return err
		}
		for _, host := range dir {
			if err := putHost(ctx, tx, host); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, hash identity.PeerHash) (remote.Host, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT host FROM peers WHERE hash = ?`, hash.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Host{}, fmt.Errorf("%s: %w", hash.Short(), ErrNotFound)
	}
	if err != nil {
		return remote.Host{}, err
	}
	var host remote.Host
	if err := json.Unmarshal([]byte(data), &host); err != nil {
		return remote.Host{}, fmt.Errorf("decoding host %s: %w", hash.Short(), err)
	}
	return host, nil
}

// Delete reports whether a row was removed.
func (s *SQLiteStore) Delete(ctx context.Context, hash identity.PeerHash) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE hash = ?`, hash.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Load reads the whole directory. Rows whose key no longer matches the
// stored host are skipped.
func (s *SQLiteStore) Load(ctx context.Context) (distributor.Directory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash, host FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("listing peers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dir := make(distributor.Directory)
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, err
		}
		var host remote.Host
		if err := json.Unmarshal([]byte(data), &host); err != nil {
			return nil, fmt.Errorf("decoding host %s: %w", key, err)
		}
		hash := host.Hash()
		if hash.String() != key {
			log.Warnw("skipping peer stored under a foreign key", "key", key, "hash", hash.Short())
			continue
		}
		dir[hash] = host
	}
	return dir, rows.Err()
}
