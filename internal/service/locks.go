package service

import (
	"sync"
	"time"
)

// dayLocks hands out one mutex per clinic-day. Entries are dropped once no
// goroutine holds or waits for them, so the map stays as small as the set of
// clinic-days with an operation in flight.
type dayLocks struct {
	mu    sync.Mutex
	locks map[string]*dayLock
}

type dayLock struct {
	mu   sync.Mutex
	refs int
}

func newDayLocks() *dayLocks {
	return &dayLocks{locks: make(map[string]*dayLock)}
}

// lock blocks until the clinic-day is free and returns its unlock func.
func (l *dayLocks) lock(clinicID string, day time.Time) func() {
	key := clinicID + "/" + day.Format(time.DateOnly)

	l.mu.Lock()
	dl, ok := l.locks[key]
	if !ok {
		dl = &dayLock{}
		l.locks[key] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *dayLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
