// Package sharded provides string-keyed striped locks that split their
// state across multiple shards to reduce contention.
package sharded

import (
	"sync"
)

// Locks is a striped mutex table keyed by string. Two keys hashing to the
// same stripe serialize against each other; distinct stripes run
// independently. It is used to serialize mirror mutations per destination
// path while still allowing operations on disjoint paths to proceed
// concurrently.
type Locks []*sync.Mutex

func NewLocks(numShards int) *Locks {
	if !isPowerOfTwo(numShards) {
		panic("num shards must be a power of 2")
	}
	l := make(Locks, numShards)
	for i := 0; i < numShards; i++ {
		l[i] = &sync.Mutex{}
	}
	return &l
}

// Lock acquires the stripe for the given key.
func (l *Locks) Lock(key string) {
	(*l)[getShardIndex(key, len(*l))].Lock()
}

// Unlock releases the stripe for the given key.
func (l *Locks) Unlock(key string) {
	(*l)[getShardIndex(key, len(*l))].Unlock()
}

// LockPair acquires the stripes for two keys in a deadlock-free order and
// returns the matching unlock function. When both keys hash to the same
// stripe only one acquisition is made.
func (l *Locks) LockPair(a, b string) (unlock func()) {
	ia := getShardIndex(a, len(*l))
	ib := getShardIndex(b, len(*l))
	if ia == ib {
		(*l)[ia].Lock()
		return (*l)[ia].Unlock
	}
	if ia > ib {
		ia, ib = ib, ia
	}
	(*l)[ia].Lock()
	(*l)[ib].Lock()
	return func() {
		(*l)[ib].Unlock()
		(*l)[ia].Unlock()
	}
}
