// Package substorage implements the per-session key/value façade presented
// to modules: a stack of delta maps supporting checkpoint creation,
// discard, and revert.
package substorage

import (
	"fmt"

	"mini-rpc/metrics"
)

// tombstone marks a key removed in a frame, shadowing any lower value
// without deleting it from that lower frame.
type tombstone struct{}

// frame is one level of the checkpoint stack: byte-key to either a real
// value or a tombstone.
type frame map[string]any

// SubStorage is a stack of frames; the top frame is the mutable one. The
// bottom frame is the session's baseline and can never be popped.
type SubStorage struct {
	stack []frame

	sessionID string
	metrics   *metrics.Metrics
}

// New creates a SubStorage with a single empty baseline frame.
func New() *SubStorage {
	return &SubStorage{stack: []frame{make(frame)}}
}

// withMetrics attaches a session id and Metrics bundle so later checkpoint
// operations report stack depth. m may be nil to disable instrumentation.
// Called by ShardRing.Open, which is the only place a SubStorage is bound
// to a session id.
func (s *SubStorage) withMetrics(sessionID string, m *metrics.Metrics) *SubStorage {
	s.sessionID = sessionID
	s.metrics = m
	return s
}

func (s *SubStorage) reportDepth() {
	if s.metrics != nil {
		s.metrics.SetCheckpointDepth(s.sessionID, len(s.stack))
	}
}

// Get scans from top to bottom, returning the first value found. A
// tombstone at any level hides whatever a lower frame holds for the same
// key, so scanning stops at the first entry regardless of its kind.
func (s *SubStorage) Get(key string) ([]byte, bool) {
	for i := len(s.stack) - 1; i >= 0; i-- {
		v, ok := s.stack[i][key]
		if !ok {
			continue
		}
		if _, isTombstone := v.(tombstone); isTombstone {
			return nil, false
		}
		return v.([]byte), true
	}
	return nil, false
}

// Has reports whether Get would return a value.
func (s *SubStorage) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Set writes value to the top frame.
func (s *SubStorage) Set(key string, value []byte) {
	s.top()[key] = value
}

// Remove writes a tombstone to the top frame.
func (s *SubStorage) Remove(key string) {
	s.top()[key] = tombstone{}
}

// CreateCheckpoint pushes a fresh empty frame and returns its index in the
// stack (Depth()-1, the number of checkpoints now open). DiscardCheckpoint
// and RevertToCheckpoint take no argument: they always act on the top frame.
func (s *SubStorage) CreateCheckpoint() int {
	s.stack = append(s.stack, make(frame))
	s.reportDepth()
	return len(s.stack) - 1
}

// DiscardCheckpoint pops the top frame and merges it into the new top,
// preferring the popped (newer) value for any key present in both —
// "discard the checkpoint boundary, keep the writes."
func (s *SubStorage) DiscardCheckpoint() {
	popped := s.pop()
	newTop := s.top()
	for k, v := range popped {
		newTop[k] = v
	}
	s.reportDepth()
}

// RevertToCheckpoint pops the top frame and discards its contents —
// "undo everything written since this checkpoint was created."
func (s *SubStorage) RevertToCheckpoint() {
	s.pop()
	s.reportDepth()
}

// Depth reports the number of frames on the stack (1 means only the
// baseline frame remains).
func (s *SubStorage) Depth() int {
	return len(s.stack)
}

func (s *SubStorage) top() frame {
	return s.stack[len(s.stack)-1]
}

// pop removes and returns the top frame. Popping the baseline frame is a
// programmer error — the session lifecycle never calls revert/discard more
// times than it called create — so this panics rather than silently
// corrupting the stack.
func (s *SubStorage) pop() frame {
	if len(s.stack) <= 1 {
		panic(fmt.Sprintf("substorage: checkpoint stack underflow (depth %d)", len(s.stack)))
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top
}
