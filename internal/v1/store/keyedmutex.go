package store

import (
	"hash/fnv"
	"sync"
)

const keyedMutexShards = 64

// KeyedMutex serializes read-modify-write cycles per room without one global
// lock. Keys are hashed onto a fixed shard table, so unrelated rooms rarely
// contend. The lock is advisory: hold it for the duration of a mutation and
// never across a broadcast.
type KeyedMutex struct {
	shards [keyedMutexShards]sync.Mutex
}

// NewKeyedMutex returns an empty shard table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (km *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &km.shards[h.Sum32()%keyedMutexShards]
}

// Lock acquires the shard for key and returns the matching unlock.
func (km *KeyedMutex) Lock(key string) func() {
	m := km.shard(key)
	m.Lock()
	return m.Unlock
}
