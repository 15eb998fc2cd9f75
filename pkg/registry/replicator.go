package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"

	"github.com/beemesh/distributor/internal/config"
	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/remote"
)

// Replicator submits directory changes through raft. Writes must go to the
// leader; reads are served from the local FSM.
type Replicator struct {
	raft    *raft.Raft
	fsm     *FSM
	timeout time.Duration
}

func NewReplicator(r *raft.Raft, fsm *FSM, timeout time.Duration) *Replicator {
	return &Replicator{raft: r, fsm: fsm, timeout: timeout}
}

// NewRaft starts a raft node with a TCP transport and file snapshots under
// cfg.Dir, logging into logs. With cfg.Bootstrap set and no prior state the
// node forms a single-server cluster.
func NewRaft(cfg config.RaftConfig, fsm *FSM, logs *RaftStore) (*raft.Raft, error) {
	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(cfg.NodeID)

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("raft data dir: %w", err)
	}
	snaps, err := raft.NewFileSnapshotStore(filepath.Clean(cfg.Dir), 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raft snapshots: %w", err)
	}
	trans, err := raft.NewTCPTransport(cfg.Bind, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raft transport: %w", err)
	}

	r, err := raft.NewRaft(conf, fsm, logs, logs, snaps, trans)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	if cfg.Bootstrap {
		existing, err := raft.HasExistingState(logs, logs, snaps)
		if err != nil {
			_ = r.Shutdown().Error()
			return nil, fmt.Errorf("raft state: %w", err)
		}
		if !existing {
			f := r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{{
				ID:      conf.LocalID,
				Address: trans.LocalAddr(),
			}}})
			if err := f.Error(); err != nil {
				_ = r.Shutdown().Error()
				return nil, fmt.Errorf("bootstrap raft: %w", err)
			}
			log.Infow("bootstrapped raft cluster", "id", cfg.NodeID, "addr", trans.LocalAddr())
		}
	}
	return r, nil
}

// Put replicates host, replacing any entry under its hash.
func (r *Replicator) Put(host remote.Host) error {
	return r.apply(command{Op: opPut, Hash: host.Hash(), Host: &host})
}

func (r *Replicator) Delete(hash identity.PeerHash) error {
	return r.apply(command{Op: opDelete, Hash: hash})
}

func (r *Replicator) apply(cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	f := r.raft.Apply(data, r.timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("replicate %s %s: %w", cmd.Op, cmd.Hash.Short(), err)
	}
	if err, ok := f.Response().(error); ok {
		return fmt.Errorf("apply %s %s: %w", cmd.Op, cmd.Hash.Short(), err)
	}
	return nil
}

// Directory is the locally applied view.
func (r *Replicator) Directory() distributor.Directory { return r.fsm.Directory() }

// AddVoter joins a distributor to the cluster. It must run on the leader.
func (r *Replicator) AddVoter(id, addr string) error {
	return r.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, r.timeout).Error()
}

func (r *Replicator) IsLeader() bool { return r.raft.State() == raft.Leader }

func (r *Replicator) Shutdown() error { return r.raft.Shutdown().Error() }
