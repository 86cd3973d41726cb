// Package membership tracks which peers participate in replication.
//
// Two implementations exist. Static membership parses a fixed peer
// list from configuration. Gossip membership discovers peers through
// memberlist and carries each node's replication address as gossip
// metadata, so the replication layer always dials the HTTP address
// rather than the gossip one.
package membership
