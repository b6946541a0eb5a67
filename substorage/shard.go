package substorage

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"mini-rpc/metrics"
)

// ShardRing assigns each session id to one of a fixed set of SubStorage
// shards by consistent hashing, so a coordinator running many concurrent
// sessions can spread their sub-storages (and the lock contention that
// comes with them) across several independently-lockable buckets while
// keeping one session's id always mapped to the same shard for its
// lifetime.
//
// Adapted from a hash-ring/virtual-node balancer for service-instance
// selection (not part of this tree): here the ring picks a storage shard
// index instead of a service instance, and callers add shard indices
// instead of service addresses.
type ShardRing struct {
	mu       sync.Mutex
	replicas int
	ring     []uint32
	nodes    map[uint32]int
	shards   map[int]*shard
	metrics  *metrics.Metrics
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*SubStorage
}

// NewShardRing creates a ring with n shards and 100 virtual nodes per
// shard, matching the virtual-node count used for the service-instance
// ring this is adapted from.
func NewShardRing(n int) *ShardRing {
	return NewShardRingWithMetrics(n, nil)
}

// NewShardRingWithMetrics is NewShardRing with an optional Metrics bundle;
// m may be nil to disable instrumentation. Every SubStorage later returned
// by Open reports its checkpoint depth through m, labeled by session id.
func NewShardRingWithMetrics(n int, m *metrics.Metrics) *ShardRing {
	r := &ShardRing{
		replicas: 100,
		nodes:    make(map[uint32]int),
		shards:   make(map[int]*shard, n),
		metrics:  m,
	}
	for i := 0; i < n; i++ {
		r.shards[i] = &shard{sessions: make(map[string]*SubStorage)}
		for v := 0; v < r.replicas; v++ {
			key := fmt.Sprintf("shard-%d#%d", i, v)
			hash := crc32.ChecksumIEEE([]byte(key))
			r.ring = append(r.ring, hash)
			r.nodes[hash] = i
		}
	}
	sort.Slice(r.ring, func(i, j int) bool { return r.ring[i] < r.ring[j] })
	return r
}

func (r *ShardRing) pick(sessionID string) int {
	hash := crc32.ChecksumIEEE([]byte(sessionID))
	idx := sort.Search(len(r.ring), func(i int) bool { return r.ring[i] >= hash })
	if idx == len(r.ring) {
		idx = 0
	}
	return r.nodes[r.ring[idx]]
}

// Open returns the SubStorage for sessionID, creating a fresh one on first
// use. The same sessionID always maps to the same shard and the same
// SubStorage instance for as long as it remains open.
func (r *ShardRing) Open(sessionID string) *SubStorage {
	i := r.pick(sessionID)

	r.mu.Lock()
	sh := r.shards[i]
	r.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[sessionID]
	if !ok {
		s = New().withMetrics(sessionID, r.metrics)
		sh.sessions[sessionID] = s
	}
	return s
}

// Retire removes sessionID's SubStorage from its shard, releasing it after
// the coordinator has committed or reverted the session.
func (r *ShardRing) Retire(sessionID string) {
	i := r.pick(sessionID)

	r.mu.Lock()
	sh := r.shards[i]
	r.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, sessionID)
}
