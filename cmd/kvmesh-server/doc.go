// Package main provides the entry point for kvmesh-server.
//
// kvmesh-server is a budget-enforced, encrypted key-value store with
// asynchronous best-effort replication between peer nodes.
package main
