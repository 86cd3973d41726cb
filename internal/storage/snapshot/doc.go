// Package snapshot writes and restores backup snapshots of the store.
//
// A snapshot is a full dump of the in-memory objects, tombstones
// included, written atomically to the backup directory:
//
//	backup-<ulid>.kvsnap
//	[magic:8 "KVMESNAP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (JSON objects, or encrypted bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// Restore picks the newest snapshot whose checksum verifies, falling
// back to older files when the newest is corrupted. Retention keeps a
// bounded number of recent files plus anything younger than the age
// cutoff.
package snapshot
