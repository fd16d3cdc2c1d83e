package network

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

func marshalTopology(t Topology) ([]byte, error) {
	return json.Marshal(t)
}

// NodeConfig configures one raft voter in the topology group.
type NodeConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Node owns the raft group that replicates Topology across the declared
// peers. Bootstrap/AddVoter/Apply/IsLeader mirror cuemby-warren's
// pkg/manager.Manager, narrowed to the one FSM this package needs; the
// certificate, DNS, ingress, and secrets-manager machinery the teacher
// bundles alongside raft has no counterpart here and is not carried over.
type Node struct {
	id        string
	localAddr raft.ServerAddress
	raft      *raft.Raft
	fsm       *topologyFSM
}

// NewNode constructs the raft transport, log/stable/snapshot stores, and
// FSM for cfg, but does not start a cluster — call Bootstrap on the first
// node, and AddVoter on the leader for every other node.
func NewNode(cfg NodeConfig, initial Topology) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("network: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("network: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("network: create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("network: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("network: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("network: create stable store: %w", err)
	}

	fsm := newTopologyFSM(initial)
	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("network: create raft: %w", err)
	}

	return &Node{id: cfg.NodeID, localAddr: transport.LocalAddr(), raft: r, fsm: fsm}, nil
}

// Bootstrap starts a brand new single-voter cluster with this node as the
// only member. Call once, on whichever node stands up the topology first.
func (n *Node) Bootstrap() error {
	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(n.id), Address: n.localAddr},
		},
	}
	return n.raft.BootstrapCluster(cfg).Error()
}

// AddVoter adds another node to the cluster. Only the leader may call this.
func (n *Node) AddVoter(nodeID, addr string) error {
	if !n.IsLeader() {
		return fmt.Errorf("network: not the leader, current leader is %q", n.raft.Leader())
	}
	return n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// RemoveServer removes a node from the cluster. Only the leader may call this.
func (n *Node) RemoveServer(nodeID string) error {
	if !n.IsLeader() {
		return fmt.Errorf("network: not the leader")
	}
	return n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

// ApplyTopology replicates a new Topology to every voter and blocks until
// committed. Only the leader may call this; non-leader callers get raft's
// own ErrNotLeader.
func (n *Node) ApplyTopology(t Topology) error {
	data, err := marshalTopology(t)
	if err != nil {
		return err
	}
	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return err
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Topology returns the last-applied topology visible to this node.
func (n *Node) Topology() Topology {
	return n.fsm.current()
}

// IsLeader reports whether this node currently holds raft leadership.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderAddr returns the current raft leader's transport address, or "" if
// none is currently elected.
func (n *Node) LeaderAddr() string {
	return string(n.raft.Leader())
}

// Shutdown stops the raft group.
func (n *Node) Shutdown() error {
	return n.raft.Shutdown().Error()
}

// LocalAddr returns this node's own raft transport address, used when
// asking the leader to AddVoter this node.
func (n *Node) LocalAddr() raft.ServerAddress {
	return n.localAddr
}
