// Package handler implements the HTTP API endpoints for kvmesh:
// object storage, node statistics, backups and the peer replication
// surface.
package handler
