package network

import "sort"

// Remote is one declared peer: the address to reach it at and the API key
// to present. SearchAPIKey, when set, is used for federated search requests
// issued to this remote instead of WriteAPIKey.
type Remote struct {
	URL          string `json:"url"`
	SearchAPIKey string `json:"searchApiKey,omitempty"`
	WriteAPIKey  string `json:"writeApiKey,omitempty"`
}

// Topology is the declared cluster shape: this node's own name, the
// current leader (empty when the feature is disabled), the full peer set
// keyed by remote name, and a monotonically increasing version bumped on
// every topology edit.
type Topology struct {
	Self    string            `json:"self,omitempty"`
	Leader  string            `json:"leader,omitempty"`
	Remotes map[string]Remote `json:"remotes,omitempty"`
	Version int64             `json:"version"`
}

// Enabled reports whether network federation is configured at all.
func (t Topology) Enabled() bool {
	return len(t.Remotes) > 0
}

// IsLeader reports whether this node is the declared leader, or whether no
// leader is declared (in which case every node is free to run
// topology-change tasks locally, matching spec.md §4.9's single-node
// default).
func (t Topology) IsLeader() bool {
	return t.Leader == "" || t.Leader == t.Self
}

// ShardFunc maps an external document id to the remote name that should
// own it ("" means this node). Sharding functions are pure and
// deterministic over (docID, topology Self and Remotes) so every node computes the
// same assignment independently.
type ShardFunc func(t Topology, externalID string) string

// HashShard is the default ShardFunc: FNV-1a over the external id modulo
// the number of shard owners (self plus every remote), sorted by name for
// determinism. It is a simple, stable placement function adequate for
// rebalance correctness; it does not attempt consistent-hashing-style
// minimal movement on membership change, matching spec.md §4.9's "decide
// per doc the target shard from the new sharding function" without
// prescribing a specific algorithm.
func HashShard(t Topology, externalID string) string {
	owners := shardOwners(t)
	if len(owners) == 0 {
		return ""
	}
	h := fnv1a(externalID)
	idx := int(h % uint64(len(owners)))
	owner := owners[idx]
	if owner == t.Self {
		return ""
	}
	return owner
}

func shardOwners(t Topology) []string {
	owners := make([]string, 0, len(t.Remotes)+1)
	owners = append(owners, t.Self)
	for name := range t.Remotes {
		owners = append(owners, name)
	}
	sort.Strings(owners)
	return owners
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
