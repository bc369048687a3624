package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNoTransaction is returned by Commit when Begin was not called.
var ErrNoTransaction = errors.New("storage: no open transaction")

// Staged layers a write set over a base Database. Between Begin and Commit
// every write is held in memory and reads see it; Commit lands the whole set
// through one base Write and Rollback drops it. Outside a transaction writes
// go straight to the base.
//
// Staged does not isolate concurrent callers: whoever opens a transaction must
// also serialise every other writer until it commits or rolls back.
type Staged struct {
	base Database

	mu     sync.RWMutex
	open   bool
	writes map[string]stagedValue
}

type stagedValue struct {
	value   []byte
	deleted bool
}

// NewStaged wraps base.
func NewStaged(base Database) *Staged {
	return &Staged{base: base}
}

// Begin opens a transaction. Calling Begin while one is open keeps the
// current write set.
func (s *Staged) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return
	}
	s.open = true
	s.writes = make(map[string]stagedValue)
}

// Commit writes the staged set to the base in one batch and closes the
// transaction. The set is dropped even when the base write fails.
func (s *Staged) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNoTransaction
	}
	batch := NewBatch()
	keys := make([]string, 0, len(s.writes))
	for key := range s.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		w := s.writes[key]
		if w.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), w.value)
	}
	s.open = false
	s.writes = nil
	if batch.Len() == 0 {
		return nil
	}
	return s.base.Write(batch)
}

// Rollback discards the staged set.
func (s *Staged) Rollback() {
	s.mu.Lock()
	s.open = false
	s.writes = nil
	s.mu.Unlock()
}

// Pending returns the number of staged keys.
func (s *Staged) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.writes)
}

func (s *Staged) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.base.Put(key, value)
	}
	s.writes[string(key)] = stagedValue{value: append([]byte(nil), value...)}
	return nil
}

func (s *Staged) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	w, ok := s.writes[string(key)]
	s.mu.RUnlock()
	if ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return s.base.Get(key)
}

func (s *Staged) Has(key []byte) (bool, error) {
	s.mu.RLock()
	w, ok := s.writes[string(key)]
	s.mu.RUnlock()
	if ok {
		return !w.deleted, nil
	}
	return s.base.Has(key)
}

func (s *Staged) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.base.Delete(key)
	}
	s.writes[string(key)] = stagedValue{deleted: true}
	return nil
}

// Write stages every operation of the batch, or applies it to the base
// outside a transaction.
func (s *Staged) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return s.base.Write(batch)
	}
	for _, op := range batch.ops {
		if op.delete {
			s.writes[string(op.key)] = stagedValue{deleted: true}
			continue
		}
		s.writes[string(op.key)] = stagedValue{value: append([]byte(nil), op.value...)}
	}
	return nil
}

// Iterate merges staged writes under the prefix with the base contents.
func (s *Staged) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	staged := make(map[string]stagedValue)
	for key, w := range s.writes {
		if strings.HasPrefix(key, string(prefix)) {
			staged[key] = w
		}
	}
	s.mu.RUnlock()

	if len(staged) == 0 {
		return s.base.Iterate(prefix, fn)
	}
	merged := make(map[string][]byte)
	err := s.base.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return err
	}
	for key, w := range staged {
		if w.deleted {
			delete(merged, key)
			continue
		}
		merged[key] = w.value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), append([]byte(nil), merged[key]...)); err != nil {
			return err
		}
	}
	return nil
}

// Close drops any open transaction and closes the base.
func (s *Staged) Close() {
	s.Rollback()
	s.base.Close()
}
