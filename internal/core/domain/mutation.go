// Package domain defines the core domain models for kvmesh.
package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Mutation is the unit of replication: one versioned change to one key,
// fanned out to peers after the local write has already succeeded.
type Mutation struct {
	// ID uniquely identifies this mutation for logging and journaling.
	ID string `json:"id"`

	// Origin is the node that produced the mutation.
	Origin string `json:"origin,omitempty"`

	Key       string   `json:"key"`
	Version   uint64   `json:"version"`
	Value     []byte   `json:"value,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	TTL       int64    `json:"ttl,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
	Tombstone bool     `json:"tombstone,omitempty"`
}

// NewMutation builds a mutation from the current state of an object.
func NewMutation(o *Object, origin string) Mutation {
	return Mutation{
		ID:        GenerateMutationID(),
		Origin:    origin,
		Key:       o.Key,
		Version:   o.Version,
		Value:     o.Value,
		Tags:      o.Tags,
		TTL:       o.TTL,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
		Tombstone: o.Tombstone,
	}
}

// Object converts the mutation back into a stored object.
func (m Mutation) Object() *Object {
	return &Object{
		Key:       m.Key,
		Value:     m.Value,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Tags:      m.Tags,
		TTL:       m.TTL,
		Tombstone: m.Tombstone,
	}
}

// GenerateMutationID generates a mutation identifier.
// Format: kvm-{ulid_lowercase}.
func GenerateMutationID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		// ulid generation only fails if the entropy source does; fall back
		// to a timestamp-only identifier rather than failing the mutation.
		return "kvm-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return "kvm-" + strings.ToLower(id.String())
}
