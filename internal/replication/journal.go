package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/oklog/ulid/v2"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
)

const (
	journalKeyPrefix = "hint/"

	journalGCInterval  = 10 * time.Minute
	journalGCThreshold = 0.5
)

// Journal is the durable hinted-handoff store. Mutations that could
// not be delivered to a peer are appended under that peer's prefix and
// drained in order once the peer is reachable again.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// OpenJournal opens (or creates) the journal at dir.
func OpenJournal(dir string, logger *slog.Logger) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go j.gcLoop()

	logger.Info("replication journal opened", "dir", dir)
	return j, nil
}

// journalKey builds "hint/<peerID>/<ulid>". ULIDs keep entries in
// append order under a prefix scan.
func journalKey(peerID string) []byte {
	return []byte(journalKeyPrefix + peerID + "/" + strings.ToLower(ulid.Make().String()))
}

func peerPrefix(peerID string) []byte {
	return []byte(journalKeyPrefix + peerID + "/")
}

// Append records a mutation for later delivery to peerID.
func (j *Journal) Append(peerID string, m domain.Mutation) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("journal: marshal mutation: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(peerID), value)
	})
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Drain delivers pending mutations for peerID through fn, oldest
// first, deleting each entry once fn succeeds. Draining stops at the
// first delivery failure so ordering is preserved for the next
// attempt. Returns the number of delivered entries.
func (j *Journal) Drain(ctx context.Context, peerID string, fn func(domain.Mutation) error) (int, error) {
	type entry struct {
		key []byte
		m   domain.Mutation
	}

	var entries []entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = peerPrefix(peerID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var m domain.Mutation
			if err := json.Unmarshal(value, &m); err != nil {
				// An undecodable entry can never be delivered; log the
				// key so it can be inspected and skip it.
				j.logger.Error("dropping undecodable journal entry",
					"key", string(item.Key()), "error", err)
				continue
			}
			entries = append(entries, entry{key: item.KeyCopy(nil), m: m})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal: scan: %w", err)
	}

	delivered := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := fn(e.m); err != nil {
			return delivered, err
		}
		if err := j.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(e.key)
		}); err != nil {
			return delivered, fmt.Errorf("journal: delete delivered entry: %w", err)
		}
		delivered++
	}
	return delivered, nil
}

// Pending returns the number of undelivered entries per peer.
func (j *Journal) Pending() (map[string]int, error) {
	counts := make(map[string]int)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, journalKeyPrefix)
			peerID, _, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			counts[peerID]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: count pending: %w", err)
	}
	return counts, nil
}

// Close stops the GC loop and closes the database.
func (j *Journal) Close() error {
	close(j.stopCh)
	<-j.doneCh

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("journal: close db: %w", err)
	}
	return nil
}

// gcLoop reclaims value-log space left behind by drained entries.
func (j *Journal) gcLoop() {
	defer close(j.doneCh)

	ticker := time.NewTicker(journalGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				if err := j.db.RunValueLogGC(journalGCThreshold); err != nil {
					break
				}
			}
		case <-j.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
