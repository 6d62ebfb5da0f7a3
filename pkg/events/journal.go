package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/openclaw/launcher/pkg/types"
)

var bucketEvents = []byte("events")

// Journal is a durable, append-only log of lifecycle events backed by
// BoltDB. It survives launcher restarts, unlike the in-memory snapshot.
type Journal struct {
	db *bolt.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating event bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records an event. ID and Time are assigned here.
func (j *Journal) Append(instance, kind, detail string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		ev := types.Event{
			ID:       seq,
			Time:     time.Now().Unix(),
			Instance: instance,
			Kind:     kind,
			Detail:   detail,
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return b.Put(key[:], data)
	})
}

// List returns up to limit events, newest first.
func (j *Journal) List(limit int) ([]types.Event, error) {
	var events []types.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(events) < limit; k, v = c.Prev() {
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}
