package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/metrics"
)

var (
	bucketKV    = []byte("kv")
	bucketMeta  = []byte("meta")
	keyRevision = []byte("revision")
)

// BoltStore implements Store over a single embedded bbolt database file.
// The Master is a single process with no peer to replicate to, so a
// strongly-consistent networked store is unnecessary; bbolt's
// single-writer transactions give the same put/get/CAS guarantees the
// contract requires for that topology.
type BoltStore struct {
	db *bolt.DB

	mu                sync.RWMutex
	watchers          map[string][]*watcher
	compactedRevision uint64
}

type watcher struct {
	prefix string
	ch     chan Event
}

// NewBoltStore opens (creating if necessary) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: init buckets: %w", err)
	}

	return &BoltStore{
		db:       db,
		watchers: make(map[string][]*watcher),
	}, nil
}

func encodeRevision(rev uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, rev)
	return b
}

func decodeRevision(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (s *BoltStore) nextRevision(tx *bolt.Tx) (uint64, error) {
	m := tx.Bucket(bucketMeta)
	rev := decodeRevision(m.Get(keyRevision)) + 1
	if err := m.Put(keyRevision, encodeRevision(rev)); err != nil {
		return 0, err
	}
	return rev, nil
}

// CurrentRevision returns the store's current revision counter.
func (s *BoltStore) CurrentRevision() uint64 {
	var rev uint64
	_ = s.db.View(func(tx *bolt.Tx) error {
		rev = decodeRevision(tx.Bucket(bucketMeta).Get(keyRevision))
		return nil
	})
	return rev
}

// Put writes value at key.
func (s *BoltStore) Put(key string, value []byte) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOpDuration, "put")

	var rev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketKV).Put([]byte(key), value); err != nil {
			return err
		}
		var err error
		rev, err = s.nextRevision(tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("kvstore: put %s: %w", key, err)
	}

	s.publish(Event{Op: OpPut, Key: key, Value: value, Revision: rev})
	return nil
}

// Get returns the value at key.
func (s *BoltStore) Get(key string) ([]byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOpDuration, "get")

	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// GetPrefix returns every key/value pair whose key starts with prefix.
func (s *BoltStore) GetPrefix(prefix string) ([]KV, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOpDuration, "get_prefix")

	var out []KV
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out = append(out, KV{Key: string(k), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: get_prefix %s: %w", prefix, err)
	}
	return out, nil
}

// CompareAndSwap writes newValue at key only if the stored value
// equals expected (nil expected meaning "absent").
func (s *BoltStore) CompareAndSwap(key string, expected, newValue []byte) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOpDuration, "compare_and_swap")

	var swapped bool
	var rev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		current := b.Get([]byte(key))

		match := (current == nil && expected == nil) || bytes.Equal(current, expected)
		if !match {
			swapped = false
			return nil
		}

		if err := b.Put([]byte(key), newValue); err != nil {
			return err
		}
		var err error
		rev, err = s.nextRevision(tx)
		swapped = true
		return err
	})
	if err != nil {
		return false, fmt.Errorf("kvstore: compare_and_swap %s: %w", key, err)
	}
	if swapped {
		s.publish(Event{Op: OpPut, Key: key, Value: newValue, Revision: rev})
	}
	return swapped, nil
}

// Delete removes key.
func (s *BoltStore) Delete(key string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOpDuration, "delete")

	var rev uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketKV).Delete([]byte(key)); err != nil {
			return err
		}
		var err error
		rev, err = s.nextRevision(tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("kvstore: delete %s: %w", key, err)
	}
	s.publish(Event{Op: OpDelete, Key: key, Revision: rev})
	return nil
}

// Watch subscribes to Put/Delete events under prefix.
func (s *BoltStore) Watch(prefix string, fromRevision uint64) (<-chan Event, func(), error) {
	s.mu.Lock()
	if fromRevision != 0 && fromRevision < s.compactedRevision {
		s.mu.Unlock()
		return nil, nil, ErrRevisionCompacted
	}

	w := &watcher{prefix: prefix, ch: make(chan Event, 64)}
	s.watchers[prefix] = append(s.watchers[prefix], w)
	s.mu.Unlock()

	metrics.WatchSubscribersTotal.Inc()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[prefix]
		for i, cur := range list {
			if cur == w {
				s.watchers[prefix] = append(list[:i], list[i+1:]...)
				close(w.ch)
				metrics.WatchSubscribersTotal.Dec()
				break
			}
		}
	}

	return w.ch, cancel, nil
}

// SetCompactedRevisionForTest simulates the store having pruned history
// up to (and excluding) rev, so Watch calls resuming from an earlier
// revision observe ErrRevisionCompacted. The bbolt backend never
// compacts in production; this exists to exercise the re-list path.
func (s *BoltStore) SetCompactedRevisionForTest(rev uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactedRevision = rev
}

func (s *BoltStore) publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for prefix, list := range s.watchers {
		if !bytes.HasPrefix([]byte(evt.Key), []byte(prefix)) {
			continue
		}
		for _, w := range list {
			select {
			case w.ch <- evt:
			default:
				log.WithComponent("kvstore").Warn().
					Str("prefix", prefix).
					Str("key", evt.Key).
					Msg("watch subscriber buffer full, dropping event")
			}
		}
	}
}

// Close closes the underlying database handle.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	for prefix, list := range s.watchers {
		for _, w := range list {
			close(w.ch)
		}
		delete(s.watchers, prefix)
	}
	s.mu.Unlock()

	return s.db.Close()
}
