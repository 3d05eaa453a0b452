// Package sync provides key-partitioned locking on top of the standard library
// primitives.
package sync

import (
	"sort"
	base "sync"
)

const (
	hashEntriesPerLock = 200
)

// StripedLock is a partitioned locking mechanism that consistently maps a key
// space to a set of locks. This provides concurrent data access while also
// limiting the total memory footprint.
type StripedLock struct {
	locks    []base.RWMutex
	hashRing *ring
}

// NewStripedLock returns a new StripedLock with a static number of stripes.
func NewStripedLock(stripes uint) *StripedLock {
	if stripes == 0 {
		stripes = 1
	}

	return &StripedLock{
		locks:    make([]base.RWMutex, stripes),
		hashRing: newRing(stripes, hashEntriesPerLock),
	}
}

// Get gets the lock for a key
func (l *StripedLock) Get(key []byte) *base.RWMutex {
	return &l.locks[l.hashRing.shard(key)]
}

// Reserve blocks until it holds shared locks for every read key and exclusive
// locks for every write key, and returns a function releasing all of them.
//
// Keys sharing a stripe are locked once, exclusively if any of them is a write.
// Stripes are always acquired in ascending order, so overlapping reservations
// cannot deadlock.
func (l *StripedLock) Reserve(reads, writes [][]byte) (release func()) {
	exclusive := make(map[int]bool, len(reads)+len(writes))
	for _, key := range reads {
		if stripe := l.hashRing.shard(key); !exclusive[stripe] {
			exclusive[stripe] = false
		}
	}
	for _, key := range writes {
		exclusive[l.hashRing.shard(key)] = true
	}

	stripes := make([]int, 0, len(exclusive))
	for stripe := range exclusive {
		stripes = append(stripes, stripe)
	}
	sort.Ints(stripes)

	for _, stripe := range stripes {
		if exclusive[stripe] {
			l.locks[stripe].Lock()
		} else {
			l.locks[stripe].RLock()
		}
	}

	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			stripe := stripes[i]
			if exclusive[stripe] {
				l.locks[stripe].Unlock()
			} else {
				l.locks[stripe].RUnlock()
			}
		}
	}
}
