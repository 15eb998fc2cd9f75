package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/remote"
)

type opKind string

const (
	opPut    opKind = "put"
	opDelete opKind = "delete"
)

type command struct {
	Op   opKind            `json:"op"`
	Hash identity.PeerHash `json:"hash"`
	Host *remote.Host      `json:"host,omitempty"`
}

// FSM applies replicated directory changes. Later puts for a hash replace
// earlier ones. When a store is attached every change is written through.
type FSM struct {
	mu    sync.RWMutex
	dir   distributor.Directory
	store *SQLiteStore
}

var _ raft.FSM = (*FSM)(nil)

// NewFSM starts from initial, which may be nil. store may be nil.
func NewFSM(initial distributor.Directory, store *SQLiteStore) *FSM {
	dir := make(distributor.Directory, len(initial))
	for k, v := range initial {
		dir[k] = v
	}
	return &FSM{dir: dir, store: store}
}

// Apply returns nil or the error that prevented the change.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("decoding command at %d: %w", l.Index, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ctx := context.Background()
	switch cmd.Op {
	case opPut:
		if cmd.Host == nil {
			return fmt.Errorf("put at %d without host", l.Index)
		}
		f.dir[cmd.Hash] = *cmd.Host
		if f.store != nil {
			if err := f.store.Put(ctx, *cmd.Host); err != nil {
				log.Errorw("persist replicated host", "peer", cmd.Hash.Short(), "err", err)
			}
		}
	case opDelete:
		delete(f.dir, cmd.Hash)
		if f.store != nil {
			if _, err := f.store.Delete(ctx, cmd.Hash); err != nil {
				log.Errorw("persist replicated delete", "peer", cmd.Hash.Short(), "err", err)
			}
		}
	default:
		return fmt.Errorf("unknown op %q at %d", cmd.Op, l.Index)
	}
	return nil
}

// Directory returns a copy of the replicated directory.
func (f *FSM) Directory() distributor.Directory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(distributor.Directory, len(f.dir))
	for k, v := range f.dir {
		out[k] = v
	}
	return out
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &snapshot{hosts: f.Directory()}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var hosts []remote.Host
	if err := json.NewDecoder(rc).Decode(&hosts); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	dir := distributor.NewDirectory(hosts...)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dir = dir
	if f.store != nil {
		if err := f.store.Replace(context.Background(), dir); err != nil {
			return fmt.Errorf("persisting snapshot: %w", err)
		}
	}
	log.Infow("directory restored from snapshot", "peers", len(dir))
	return nil
}

type snapshot struct {
	hosts distributor.Directory
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	hosts := make([]remote.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, h)
	}
	if err := json.NewEncoder(sink).Encode(hosts); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}
