package review

import "sync"

// docLocks serializes writers per document id. The store may interleave
// operations on different documents freely, but two review operations on
// the same document must not race.
type docLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newDocLocks() *docLocks {
	return &docLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for id and returns its unlock func.
func (l *docLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.m[id]
	if !ok {
		m = &sync.Mutex{}
		l.m[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
