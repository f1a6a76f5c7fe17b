package lock

import "sync"

// Keyed hands out one mutex per key, e.g. per chat id, so work on the same
// key is serialized while different keys proceed in parallel. Entries are
// dropped once no holder or waiter remains.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed returns an empty keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the function that releases it.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// TryLock takes key only if it is free.
func (k *Keyed) TryLock(key string) (unlock func(), ok bool) {
	k.mu.Lock()
	e, exists := k.locks[key]
	if !exists {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	if !e.mu.TryLock() {
		if !exists {
			delete(k.locks, key)
		}
		k.mu.Unlock()
		return nil, false
	}
	e.refs++
	k.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}, true
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
