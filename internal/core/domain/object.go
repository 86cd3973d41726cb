// Package domain defines the core domain models for kvmesh.
package domain

import (
	"crypto/rand"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Object constraints.
const (
	MaxKeyLength = 256
	MaxTagLength = 64
	MaxTagCount  = 16
)

// Object is one logical record in the store.
//
// Value holds the at-rest representation of the payload: ciphertext when
// encryption is enabled, plaintext otherwise. Version is monotone per key
// and never decreases; every successful local mutation bumps it.
type Object struct {
	// Key uniquely identifies the object within the store.
	Key string `json:"key"`

	// Value is the opaque payload. Empty for tombstones.
	Value []byte `json:"value,omitempty"`

	// Version is the monotone mutation counter for this key.
	Version uint64 `json:"version"`

	// CreatedAt is the first-write timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the last-mutation timestamp (Unix milliseconds).
	UpdatedAt int64 `json:"updated_at"`

	// Tags are secondary lookup labels.
	Tags []string `json:"tags,omitempty"`

	// TTL is the time-to-live in milliseconds. Zero means no expiry.
	// The object is expired once now - UpdatedAt >= TTL.
	TTL int64 `json:"ttl,omitempty"`

	// Tombstone marks a replicated deletion. Tombstones keep their bumped
	// version so they outrank stale remote copies of the deleted key.
	Tombstone bool `json:"tombstone,omitempty"`
}

// NowMillis returns the current wall clock in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// IsExpired reports whether the object's TTL has elapsed at the given time.
// Tombstones never expire through TTL; they are purged by retention.
func (o *Object) IsExpired(nowMillis int64) bool {
	if o.Tombstone || o.TTL <= 0 {
		return false
	}
	return nowMillis-o.UpdatedAt >= o.TTL
}

// StoredBytes is the number of bytes this object charges against the
// storage budget. Tombstones carry no payload and charge nothing.
func (o *Object) StoredBytes() int64 {
	return int64(len(o.Value))
}

// HasTag reports whether the object carries the given tag.
func (o *Object) HasTag(tag string) bool {
	return slices.Contains(o.Tags, tag)
}

// Supersedes reports whether this copy of a key wins over other under
// last-writer-wins: the higher version wins, a version tie is broken by
// the later UpdatedAt.
func (o *Object) Supersedes(other *Object) bool {
	if other == nil {
		return true
	}
	return o.Stamp().Supersedes(other.Stamp())
}

// VersionStamp is a per-key anti-entropy digest entry: just enough of
// an object's state to rank two copies under last-writer-wins without
// shipping the value.
type VersionStamp struct {
	Version   uint64 `json:"version"`
	UpdatedAt int64  `json:"updated_at"`
}

// Stamp returns the object's digest entry.
func (o *Object) Stamp() VersionStamp {
	return VersionStamp{Version: o.Version, UpdatedAt: o.UpdatedAt}
}

// Supersedes reports whether this stamp outranks other: the higher
// version wins, a version tie is broken by the later UpdatedAt.
func (v VersionStamp) Supersedes(other VersionStamp) bool {
	if v.Version != other.Version {
		return v.Version > other.Version
	}
	return v.UpdatedAt > other.UpdatedAt
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	clone := *o
	if o.Value != nil {
		clone.Value = slices.Clone(o.Value)
	}
	if o.Tags != nil {
		clone.Tags = slices.Clone(o.Tags)
	}
	return &clone
}

// Validate checks object constraints.
func (o *Object) Validate() error {
	if o.Key == "" || len(o.Key) > MaxKeyLength {
		return ErrInvalidKey.WithDetails("key must be 1-256 bytes")
	}
	if len(o.Tags) > MaxTagCount {
		return ErrInvalidKey.WithDetails("too many tags")
	}
	for _, tag := range o.Tags {
		if tag == "" || len(tag) > MaxTagLength {
			return ErrInvalidKey.WithDetails("invalid tag")
		}
	}
	return nil
}

// GenerateNodeID generates a node identifier.
// Format: kvn-{ulid_lowercase}.
func GenerateNodeID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return "kvn-" + strings.ToLower(id.String()), nil
}
