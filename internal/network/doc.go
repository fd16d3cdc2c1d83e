// Package network implements spec.md §4.9: the optional declared-topology
// cluster feature. A raft group elects a leader among the declared peers;
// only the leader runs network-topology-change tasks, which rebalance
// documents across shards and export them to remote peers over plain HTTP
// using the bit-exact Meili-Proxy-* header vocabulary from spec.md §6.
package network
