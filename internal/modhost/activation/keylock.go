package activation

import (
	"sync"
)

// keyState serializes link mutations for one (tenant, module) and counts
// them. A runtime call that observes a different generation after it returns
// has been overtaken by a later writer.
type keyState struct {
	mu   sync.Mutex
	gen  uint64
	refs int // guarded by keyLocks.mu
}

// keyLocks holds a keyState per key only while some caller uses it.
type keyLocks struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

func newKeyLocks() *keyLocks {
	return &keyLocks{keys: make(map[string]*keyState)}
}

// acquire returns the state for key. Every acquire must be paired with a
// release.
func (k *keyLocks) acquire(key string) *keyState {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.keys[key]
	if !ok {
		st = &keyState{}
		k.keys[key] = st
	}
	st.refs++
	return st
}

// release drops the entry for key once its last user is done.
func (k *keyLocks) release(key string, st *keyState) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st.refs--
	if st.refs <= 0 && k.keys[key] == st {
		delete(k.keys, key)
	}
}

func (k *keyLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// mutate runs fn under the key lock and bumps the generation when fn
// succeeds. It returns the generation fn's write produced.
func (s *keyState) mutate(fn func() error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return s.gen, err
	}
	s.gen++
	return s.gen, nil
}

// read runs fn under the key lock without bumping the generation.
func (s *keyState) read(fn func() error) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, fn()
}

func (s *keyState) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}
