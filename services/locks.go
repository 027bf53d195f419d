package services

import "sync"

// matchLocks serializes state machine transitions per match id, so an
// organizer override racing the auto-confirm sweep never interleaves.
// Entries are reference-counted and dropped when the last holder unlocks.
type matchLocks struct {
	mu    sync.Mutex
	locks map[int]*matchLockEntry
}

type matchLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newMatchLocks() *matchLocks {
	return &matchLocks{locks: make(map[int]*matchLockEntry)}
}

func (l *matchLocks) Lock(matchID int) {
	l.mu.Lock()
	entry, ok := l.locks[matchID]
	if !ok {
		entry = &matchLockEntry{}
		l.locks[matchID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *matchLocks) Unlock(matchID int) {
	l.mu.Lock()
	entry := l.locks[matchID]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, matchID)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
