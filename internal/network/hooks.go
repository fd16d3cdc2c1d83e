package network

import (
	"context"
	"log/slog"

	"github.com/siftengine/sift/internal/tasks"
)

// TopologyProvider is the view of a raft Node that Cluster needs: just the
// current committed topology. Satisfied by *Node; narrowed to an interface
// so hook behavior is testable without a running raft cluster.
type TopologyProvider interface {
	Topology() Topology
}

// Cluster bundles a running raft Node with the index access and HTTP
// client Rebalance needs, and is the thing cmd/siftd wires into
// scheduler.Hooks when network federation is enabled.
type Cluster struct {
	Node    TopologyProvider
	Shard   ShardFunc
	Indexes IndexSource
	Client  *ExportClient
	Logger  *slog.Logger
}

// NewHook returns the scheduler.Hooks-shaped func backing
// networkTopologyChange tasks. It refuses to run on a non-leader node:
// topology-change tasks only ever run where spec.md §4.9 says they must.
func (c *Cluster) NewHook() func(ctx context.Context, t tasks.Task) (tasks.Details, error) {
	return func(ctx context.Context, t tasks.Task) (tasks.Details, error) {
		topology := c.Node.Topology()
		if !topology.IsLeader() {
			return tasks.Details{}, errNotLeader(topology.Leader)
		}

		origin := Origin{
			Remote:         topology.Self,
			TaskUID:        t.UID,
			NetworkVersion: topology.Version,
		}

		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}

		counts, err := Rebalance(ctx, origin, topology, c.Shard, c.Indexes, c.Client, func(indexUID, remote string, exportErr error) {
			logger.Warn("network export failed, documents retained",
				"index", indexUID, "remote", remote, "error", exportErr)
		})
		if err != nil {
			return tasks.Details{RemoteMoved: counts, NetworkVersion: topology.Version}, err
		}
		return tasks.Details{RemoteMoved: counts, NetworkVersion: topology.Version}, nil
	}
}

type notLeaderError struct {
	leader string
}

func (e *notLeaderError) Error() string {
	return "network: this node is not the topology leader (leader is " + e.leader + ")"
}

func errNotLeader(leader string) error {
	return &notLeaderError{leader: leader}
}
