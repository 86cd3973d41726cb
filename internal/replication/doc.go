// Package replication propagates local mutations to peer nodes.
//
// Writes are fanned out asynchronously: the coordinator sends each
// mutation to up to the replication factor of peers and never blocks
// the originating write. Failed deliveries land in a per-peer journal
// backed by Badger and are redelivered when the peer returns. The sync
// scheduler runs periodic anti-entropy: peers exchange key/version
// digests and copy whichever side is newer, with last-writer-wins
// resolution performed by the storage engine.
package replication
