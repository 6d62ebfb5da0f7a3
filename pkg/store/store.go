package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/openclaw/launcher/pkg/types"
)

// lockRetryInterval is the poll interval while waiting for the exclusive
// section. Acquisition is cheap; contention is rare and short-lived.
const lockRetryInterval = 50 * time.Millisecond

// Store is the crash-safe persistent mapping of instance ID to record,
// serialized as key-sorted JSON at a fixed path.
//
// All read-modify-write cycles run inside Update, which holds an OS-level
// advisory exclusive lock for the duration. The lock lives in a sidecar
// .lock file rather than on the data file itself: the write protocol
// replaces the data file by rename, which would silently detach any lock
// held on the old inode.
type Store struct {
	path     string
	lockPath string
}

// View is the parsed store contents, yielded mutably to Update callbacks.
type View struct {
	Instances map[string]types.InstanceRecord `json:"instances"`
}

// New returns a store backed by the JSON document at path. Nothing is
// created until the first Update.
func New(path string) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Update runs fn inside the exclusive section: lock, read, mutate, rewrite.
// The rewrite is all-or-nothing (temp file plus rename). If fn returns an
// error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(*View) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	fl := flock.New(s.lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("acquiring store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquiring store lock: not acquired")
	}
	defer fl.Close()

	view, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(&view); err != nil {
		return err
	}
	return s.write(view)
}

// Load reads the store without taking the lock. A concurrent rewrite can
// race the read, so a parse failure gets one reopen-and-retry before it is
// surfaced.
func (s *Store) Load() (View, error) {
	view, err := s.read()
	if err != nil {
		view, err = s.read()
	}
	return view, err
}

// read parses the backing file. A missing, empty, or whitespace-only file
// yields an empty mapping.
func (s *Store) read() (View, error) {
	view := View{Instances: map[string]types.InstanceRecord{}}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return view, nil
	}
	if err != nil {
		return view, fmt.Errorf("reading store: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return view, nil
	}

	if err := json.Unmarshal(data, &view); err != nil {
		return view, fmt.Errorf("parsing store: %w", err)
	}
	if view.Instances == nil {
		view.Instances = map[string]types.InstanceRecord{}
	}
	return view, nil
}

// write serializes the view and atomically replaces the backing file.
func (s *Store) write(view View) error {
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".instances-*.json")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

// Count returns the number of records.
func (v *View) Count() int {
	return len(v.Instances)
}

// Get looks up a record by instance ID.
func (v *View) Get(id string) (types.InstanceRecord, bool) {
	rec, ok := v.Instances[id]
	return rec, ok
}

// Put inserts or replaces a record.
func (v *View) Put(id string, rec types.InstanceRecord) {
	v.Instances[id] = rec
}

// Delete removes a record. Deleting an absent ID is a no-op.
func (v *View) Delete(id string) {
	delete(v.Instances, id)
}

// NextPort returns the first port >= base not used by any record. There is
// no reclamation list; destroyed instances free their port implicitly.
func (v *View) NextPort(base int) int {
	used := make(map[int]struct{}, len(v.Instances))
	for _, rec := range v.Instances {
		used[rec.Port] = struct{}{}
	}

	port := base
	for {
		if _, taken := used[port]; !taken {
			return port
		}
		port++
	}
}
