// Package httpserver provides the HTTP/HTTPS server for kvmesh.
//
// It exposes the object API, node statistics, backup management and
// the peer replication endpoints, built on net/http with a small
// middleware chain for request IDs, panic recovery and request
// logging.
package httpserver
