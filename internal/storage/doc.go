// Package storage provides the key-value storage engine for kvmesh.
//
// The engine keeps objects in a sharded in-memory map with incremental
// byte accounting against a fixed storage budget. Reads are TTL-aware
// and values are sealed through an AEAD codec before they ever reach
// the map. Mutations are handed to the replication layer through a
// sink callback after the local write has succeeded.
package storage
