package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mini-rpc/substorage"
)

type mockTxOwner struct {
	mu          sync.Mutex
	opened      bool
	closed      bool
	failExecute bool
	failClose   bool
	failBodies  map[string]bool
	executedTxs []Transaction

	// store, if set, is written to on every ExecuteTransaction call
	// (before the success/failure check) so tests can observe whether a
	// failed transaction's partial storage effects were reverted.
	store *substorage.SubStorage
}

func (m *mockTxOwner) BlockOpened(session SessionKey, header Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockTxOwner) ExecuteTransaction(session SessionKey, tx Transaction) (TransactionOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		m.store.Set(string(tx.Body), []byte("written"))
	}
	if m.failExecute || m.failBodies[string(tx.Body)] {
		return TransactionOutcome{}, errors.New("execution failed")
	}
	m.executedTxs = append(m.executedTxs, tx)
	return TransactionOutcome{Events: []Event{{Type: "executed", Body: tx.Body}}}, nil
}

func (m *mockTxOwner) CheckTransaction(tx Transaction) (ErrorCode, error) {
	return ErrorCodeNone, nil
}

func (m *mockTxOwner) BlockClosed(session SessionKey) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClose {
		return nil, errors.New("close rejected")
	}
	m.closed = true
	return []Event{{Type: "closed"}}, nil
}

func newCoordinator(owners map[string]TxOwner) (*Coordinator, *substorage.ShardRing) {
	ring := substorage.NewShardRing(2)
	c := New(Config{
		Owners:     owners,
		Storage:    ring,
		TxTimeout:  time.Second,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
	})
	return c, ring
}

func TestRunBlockExecutesSortedTransactionsInOrder(t *testing.T) {
	owner := &mockTxOwner{}
	c, _ := newCoordinator(map[string]TxOwner{"pay": owner})

	txs := []Transaction{
		{Type: "pay", Body: []byte("1")},
		{Type: "pay", Body: []byte("2")},
	}
	result, err := c.RunBlock(context.Background(), "session-a", Header{Number: 1}, txs)
	if err != nil {
		t.Fatalf("RunBlock: %v", err)
	}
	if !owner.opened || !owner.closed {
		t.Fatalf("owner opened=%v closed=%v, want both true", owner.opened, owner.closed)
	}
	if len(owner.executedTxs) != 2 {
		t.Fatalf("executed %d txs, want 2", len(owner.executedTxs))
	}
	// Without a sorter, admissible transactions run in arrival order.
	if string(owner.executedTxs[0].Body) != "1" || string(owner.executedTxs[1].Body) != "2" {
		t.Fatalf("executed bodies = %q, %q, want \"1\", \"2\"", owner.executedTxs[0].Body, owner.executedTxs[1].Body)
	}
	if len(result.Events) != 3 { // 2 executed + 1 closed
		t.Fatalf("events = %d, want 3", len(result.Events))
	}
}

func TestRunBlockRejectsUnknownTxTypeBeforeSorting(t *testing.T) {
	owner := &mockTxOwner{}
	c, _ := newCoordinator(map[string]TxOwner{"pay": owner})

	txs := []Transaction{
		{Type: "pay", Body: []byte("1")},
		{Type: "unknown-type", Body: []byte("2")},
	}
	result, err := c.RunBlock(context.Background(), "session-b", Header{Number: 1}, txs)
	if err != nil {
		t.Fatalf("RunBlock: %v", err)
	}
	if len(result.Sorted.Invalid) != 1 || result.Sorted.Invalid[0] != 1 {
		t.Fatalf("Sorted.Invalid = %v, want [1]", result.Sorted.Invalid)
	}
	if len(owner.executedTxs) != 1 {
		t.Fatalf("executed %d txs, want 1 (the unknown-type tx must not reach the owner)", len(owner.executedTxs))
	}
}

func TestRunBlockPerTransactionFailureDoesNotAbortBlock(t *testing.T) {
	owner := &mockTxOwner{failExecute: true}
	c, _ := newCoordinator(map[string]TxOwner{"pay": owner})

	txs := []Transaction{{Type: "pay", Body: []byte("1")}}
	result, err := c.RunBlock(context.Background(), "session-c", Header{Number: 1}, txs)
	if err != nil {
		t.Fatalf("RunBlock: %v, want block to still close successfully", err)
	}
	if len(owner.executedTxs) != 0 {
		t.Fatalf("executedTxs = %v, want none recorded for a failed execution", owner.executedTxs)
	}
	if !owner.closed {
		t.Fatalf("owner.closed = false, want true (block-closed still runs after a tx failure)")
	}
	// Only the block-closed event should remain — the failed transaction
	// contributes nothing.
	if len(result.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(result.Events))
	}
}

func TestRunBlockRevertsStorageOnPerTransactionFailure(t *testing.T) {
	owner := &mockTxOwner{failBodies: map[string]bool{"tx1": true}}
	ring := substorage.NewShardRing(2)
	owner.store = ring.Open("session-f")
	c := New(Config{
		Owners:     map[string]TxOwner{"pay": owner},
		Storage:    ring,
		TxTimeout:  time.Second,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
	})

	txs := []Transaction{
		{Type: "pay", Body: []byte("tx0")},
		{Type: "pay", Body: []byte("tx1")},
	}
	if _, err := c.RunBlock(context.Background(), "session-f", Header{Number: 1}, txs); err != nil {
		t.Fatalf("RunBlock: %v, want block to still close successfully", err)
	}

	// tx0 succeeded: its write must survive into the block's final state.
	if !owner.store.Has("tx0") {
		t.Fatalf("tx0's write missing, want present (tx0 succeeded)")
	}
	// tx1 failed: its partial write must have been reverted to the
	// checkpoint taken just before it ran, per spec.md's pre-tx revert
	// rule — the final state equals the state after applying only tx0.
	if owner.store.Has("tx1") {
		t.Fatalf("tx1's write present, want reverted (tx1 failed)")
	}
	if owner.store.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1 (every per-tx and block checkpoint resolved)", owner.store.Depth())
	}
}

func TestRunBlockRevertsOnBlockClosedFailure(t *testing.T) {
	owner := &mockTxOwner{failClose: true}
	c, ring := newCoordinator(map[string]TxOwner{"pay": owner})

	store := ring.Open("session-d")
	store.Set("baseline", []byte("untouched"))

	txs := []Transaction{{Type: "pay", Body: []byte("1")}}
	_, err := c.RunBlock(context.Background(), "session-d", Header{Number: 1}, txs)
	if err == nil {
		t.Fatalf("expected error when block-closed is rejected")
	}

	// The pre-block checkpoint must have been reverted, leaving the
	// baseline value (written before RunBlock started) intact and the
	// transaction's effects gone.
	v, ok := store.Get("baseline")
	if !ok || string(v) != "untouched" {
		t.Fatalf("baseline value lost after revert: %q, %v", v, ok)
	}
	if store.Depth() != 1 {
		t.Fatalf("Depth() after revert = %d, want 1", store.Depth())
	}
}

func TestCommitAndRevertRetireSession(t *testing.T) {
	owner := &mockTxOwner{}
	c, ring := newCoordinator(map[string]TxOwner{"pay": owner})

	store := ring.Open("session-e")
	store.Set("k", []byte("v"))
	c.Commit("session-e")

	fresh := ring.Open("session-e")
	if fresh.Has("k") {
		t.Fatalf("session-e storage still present after Commit retired it")
	}

	reverted := ring.Open("session-g")
	reverted.Set("k", []byte("v"))
	c.Revert("session-g")

	freshAfterRevert := ring.Open("session-g")
	if freshAfterRevert.Has("k") {
		t.Fatalf("session-g storage still present after Revert retired it")
	}
}
