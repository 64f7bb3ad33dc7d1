// Package journal keeps a bounded local history of reconcile outcomes.
//
// Entries never carry credential material: only the secret name, bundle
// entry, account identifier, subdomain and outcome.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketJournal = []byte("journal")

// DefaultMaxEntries bounds the journal when no limit is configured
const DefaultMaxEntries = 1000

// Entry is one reconcile outcome
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Secret    string    `json:"secret"`
	Entry     string    `json:"entry,omitempty"` // Bundle entry name
	Username  string    `json:"username,omitempty"`
	Subdomain string    `json:"subdomain,omitempty"`
	Outcome   string    `json:"outcome"` // registered, rejected, failed
	Reason    string    `json:"reason,omitempty"`
}

// Journal stores entries in a BoltDB file, oldest first
type Journal struct {
	db         *bolt.DB
	maxEntries int
}

// Open opens or creates the journal file at path
func Open(path string, maxEntries int) (*Journal, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJournal)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal bucket: %w", err)
	}

	return &Journal{db: db, maxEntries: maxEntries}, nil
}

// DB returns the underlying BoltDB handle so other components can keep
// their own buckets in the same file
func (j *Journal) DB() *bolt.DB {
	return j.db
}

// Close closes the journal file
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an entry and drops the oldest ones beyond the limit
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJournal)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate journal key: %w", err)
		}
		if err := bucket.Put(sequenceKey(seq), data); err != nil {
			return fmt.Errorf("failed to store journal entry: %w", err)
		}

		// Stats does not see uncommitted writes, count with a cursor
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, k)
		}

		excess := len(keys) - j.maxEntries
		if excess <= 0 {
			return nil
		}

		// Collect first, deleting while iterating skips keys
		keysToDelete := keys[:excess]
		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListFilter contains filters for listing entries
type ListFilter struct {
	Outcome string
	Secret  string
	Limit   int
}

// List returns entries matching the filter, newest first
func (j *Journal) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var entries []Entry

	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}

			if filter.Outcome != "" && e.Outcome != filter.Outcome {
				continue
			}
			if filter.Secret != "" && e.Secret != filter.Secret {
				continue
			}

			entries = append(entries, e)
			if filter.Limit > 0 && len(entries) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return entries, err
}

// Count returns the number of stored entries
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketJournal).Stats().KeyN
		return nil
	})
	return n, err
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
