package scheduler

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardLocks hashes a server id to one of a fixed number of mutexes, giving
// cheap per-id serialization for Start/Stop without a lock-per-id map that
// would grow forever.
type shardLocks struct {
	shards []sync.Mutex
}

func newShardLocks(n int) *shardLocks {
	if n <= 0 {
		n = 1
	}
	return &shardLocks{shards: make([]sync.Mutex, n)}
}

func (s *shardLocks) Lock(id string) func() {
	m := &s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
	m.Lock()
	return m.Unlock
}
