// Package coordinator implements the thin per-block coordinator (C8): the
// component that drives one block's worth of module interaction — opening
// a session, fanning block-opened out to every TxOwner, sorting and then
// strictly-sequentially executing transactions, closing the block,
// collecting an optional consensus update, and finally committing or
// reverting the session's sub-storage.
//
// Grounded on the original coordinator's service traits
// (original_source/coordinator/src/module2.rs) translated from
// remote_trait_object service traits into Go interfaces backed by RTO
// calls through this core's own port.Client, and on
// server/server.go's Accept-loop-plus-middleware-chain shape for the
// per-transaction pipeline (see middleware.go).
package coordinator

// SessionKey identifies one open block session in calls to modules.
// RunBlock passes SessionKey(0) for every block; it does not allocate a
// fresh key per block, so modules cannot tell two blocks' sessions apart
// by this key. The coordinator tracks sessions by the string session id
// given to RunBlock, which modules do not receive.
type SessionKey uint32

// Header is the block header passed to TxOwner.BlockOpened and the data
// source for a module's view of "what block is this."
type Header struct {
	Number    uint64
	Author    string
	Timestamp int64
	ParentHash string
}

// Transaction is an opaque, typed transaction: tx-type selects which
// TxOwner handles it, Body is undecoded bytes that TxOwner understands.
type Transaction struct {
	Type string
	Body []byte
}

// TransactionWithMetadata augments a Transaction with the sort-relevant
// metadata TxSorter.SortTxs needs (e.g. a fee or sequence number) without
// requiring the coordinator to understand transaction internals itself.
type TransactionWithMetadata struct {
	Transaction Transaction
	Metadata    []byte
}

// TransactionOutcome is what ExecuteTransaction returns on success: the
// events it raised and anything else the coordinator must fold into the
// block's commit.
type TransactionOutcome struct {
	Events []Event
}

// Event is an opaque, typed side effect raised by transaction execution or
// block closing.
type Event struct {
	Type string
	Body []byte
}

// HeaderError is returned by BlockOpened when a TxOwner rejects the
// header itself (as opposed to rejecting a specific transaction).
type HeaderError struct {
	Reason string
}

func (e *HeaderError) Error() string { return "coordinator: header rejected: " + e.Reason }

// CloseBlockError is returned by BlockClosed, rejecting the whole block.
type CloseBlockError struct {
	Reason string
}

func (e *CloseBlockError) Error() string { return "coordinator: block close rejected: " + e.Reason }

// ErrorCode is a compact machine-readable rejection reason for
// CheckTransaction, distinct from the free-form HeaderError/CloseBlockError
// strings since a caller on the hot path (mempool-equivalent admission)
// wants to switch on it rather than pattern-match a string.
type ErrorCode int

const (
	ErrorCodeNone ErrorCode = iota
	ErrorCodeUnknownType
	ErrorCodeMalformed
	ErrorCodeRejected
)

// SortedTxs is TxSorter.SortTxs's result: indices into the transaction
// slice it was given, partitioned into invalid and sorted-for-execution.
// invalid is a per-block-only guarantee — it reflects admissibility at
// the moment of sorting for this block's session and carries no meaning
// once the session is retired; this core introduces no mempool type that
// would need a longer-lived notion of validity.
type SortedTxs struct {
	Invalid []int
	Sorted  []int
}
