package coordinator

import (
	"context"
	"fmt"
	"time"

	"mini-rpc/informer"
	"mini-rpc/substorage"

	"golang.org/x/sync/errgroup"
)

// BlockResult is what RunBlock returns: the events raised across the
// block's execution, the sorter's per-transaction disposition, and
// whatever consensus update the block proposed.
type BlockResult struct {
	Events          []Event
	Sorted          SortedTxs
	ValidatorSet    *CompactValidatorSet
	ConsensusParams *ConsensusParams
}

// Coordinator drives one block's worth of module interaction over a fixed
// set of linked TxOwners, keyed by transaction type, plus an optional
// TxSorter and UpdateChain.
type Coordinator struct {
	owners      map[string]TxOwner
	sorter      TxSorter
	updateChain UpdateChain
	storage     *substorage.ShardRing
	informer    informer.Informer
	txPipeline  Middleware
	txTimeout   time.Duration
}

// Config configures a Coordinator.
type Config struct {
	Owners      map[string]TxOwner
	Sorter      TxSorter
	UpdateChain UpdateChain
	Storage     *substorage.ShardRing
	TxTimeout   time.Duration
	MaxRetries  int
	RetryDelay  time.Duration

	// Informer publishes liveness events for each block-lifecycle
	// transition. Defaults to informer.NoOp() if left nil.
	Informer informer.Informer
}

// New builds a Coordinator from cfg, wiring the standard
// logging/timeout/retry pipeline around every transaction execution.
func New(cfg Config) *Coordinator {
	// Retry must wrap Timeout, not the other way around: each retry
	// attempt needs its own fresh per-call timeout, which only happens if
	// Retry's "next" is Timeout(handler) rather than Timeout's "next"
	// being Retry(handler) — the latter would let the first attempt's
	// deadline expire while a retry is in flight against it.
	pipeline := Chain(
		LoggingMiddleware(),
		RetryMiddleware(cfg.MaxRetries, cfg.RetryDelay),
		TimeoutMiddleware(cfg.TxTimeout),
	)
	inf := cfg.Informer
	if inf == nil {
		inf = informer.NoOp()
	}
	return &Coordinator{
		owners:      cfg.Owners,
		sorter:      cfg.Sorter,
		updateChain: cfg.UpdateChain,
		storage:     cfg.Storage,
		informer:    inf,
		txPipeline:  pipeline,
		txTimeout:   cfg.TxTimeout,
	}
}

// publish reports a block-lifecycle transition to the configured Informer.
// Publication failures are swallowed: liveness reporting is observability,
// never a correctness dependency for the block itself.
func (c *Coordinator) publish(ctx context.Context, sessionID, kind, detail string) {
	c.informer.Publish(ctx, informer.LivenessEvent{
		Kind:      kind,
		SessionID: sessionID,
		Detail:    detail,
		Time:      time.Now(),
	})
}

// RunBlock drives one full block lifecycle for sessionID: block-opened
// fan-out, sort, strictly-sequential execute-transaction, block-closed,
// update-consensus, and returns the accumulated result. The caller commits
// by leaving the session's sub-storage as-is (a subsequent Open(sessionID)
// observes it) or reverts by calling Coordinator.Revert(sessionID); a
// failed block always reverts itself to the pre-block checkpoint before
// returning its error, so the caller only needs to decide what to do with
// an otherwise-successful block.
func (c *Coordinator) RunBlock(ctx context.Context, sessionID string, header Header, txs []Transaction) (BlockResult, error) {
	store := c.storage.Open(sessionID)
	session := SessionKey(0)
	store.CreateCheckpoint()

	if err := c.openBlock(ctx, session, header); err != nil {
		store.RevertToCheckpoint()
		c.publish(ctx, sessionID, informer.KindBlockReverted, "block-opened rejected")
		return BlockResult{}, err
	}
	c.publish(ctx, sessionID, informer.KindBlockOpened, fmt.Sprintf("number=%d", header.Number))

	sorted, admissible, err := c.sortTransactions(session, txs)
	if err != nil {
		store.RevertToCheckpoint()
		c.publish(ctx, sessionID, informer.KindBlockReverted, "sort-txs rejected")
		return BlockResult{}, err
	}
	c.publish(ctx, sessionID, informer.KindBlockSorted, fmt.Sprintf("admissible=%d invalid=%d", len(admissible), len(sorted.Invalid)))

	var events []Event
	for _, idx := range sorted.Sorted {
		tx := admissible[idx]
		store.CreateCheckpoint()
		outcome, err := c.executeOne(ctx, session, tx)
		if err != nil {
			// A single transaction's failure only undoes that
			// transaction's own effects: revert to the checkpoint taken
			// just before it ran, then continue the block with the next
			// transaction.
			store.RevertToCheckpoint()
			continue
		}
		store.DiscardCheckpoint()
		events = append(events, outcome.Events...)
	}
	c.publish(ctx, sessionID, informer.KindBlockExecuted, fmt.Sprintf("events=%d", len(events)))

	closeEvents, err := c.blockClosed(session)
	if err != nil {
		store.RevertToCheckpoint()
		c.publish(ctx, sessionID, informer.KindBlockReverted, "block-closed rejected")
		return BlockResult{}, err
	}
	events = append(events, closeEvents...)
	c.publish(ctx, sessionID, informer.KindBlockClosed, "")

	var validatorSet *CompactValidatorSet
	var consensusParams *ConsensusParams
	if c.updateChain != nil {
		validatorSet, consensusParams, err = c.updateChain.UpdateChain(session)
		if err != nil {
			store.RevertToCheckpoint()
			c.publish(ctx, sessionID, informer.KindBlockReverted, "update-consensus rejected")
			return BlockResult{}, fmt.Errorf("coordinator: update-consensus: %w", err)
		}
	}

	store.DiscardCheckpoint()
	return BlockResult{
		Events:          events,
		Sorted:          sorted,
		ValidatorSet:    validatorSet,
		ConsensusParams: consensusParams,
	}, nil
}

// Revert discards sessionID's sub-storage entirely, leaving no trace of
// the session's effects. Used when an outer layer (e.g. consensus)
// rejects an otherwise-successfully-run block after RunBlock returned.
func (c *Coordinator) Revert(sessionID string) {
	c.storage.Retire(sessionID)
	c.publish(context.Background(), sessionID, informer.KindBlockReverted, "reverted after RunBlock by caller")
}

// Commit retires sessionID's bookkeeping once its sub-storage has been
// durably applied elsewhere; the session id itself is retired either way,
// per the session lifecycle's "after this, the session id is retired."
func (c *Coordinator) Commit(sessionID string) {
	c.storage.Retire(sessionID)
	c.publish(context.Background(), sessionID, informer.KindBlockCommitted, "")
}

func (c *Coordinator) openBlock(ctx context.Context, session SessionKey, header Header) error {
	g, _ := errgroup.WithContext(ctx)
	for _, owner := range c.owners {
		owner := owner
		g.Go(func() error {
			return owner.BlockOpened(session, header)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("coordinator: block-opened: %w", err)
	}
	return nil
}

// sortTransactions rejects unknown tx-type transactions before sorting
// (routing happens first, per the transaction-routing rule), then asks the
// configured TxSorter — if any — to partition and order what remains.
// Without a sorter, every admissible transaction executes in arrival
// order.
func (c *Coordinator) sortTransactions(session SessionKey, txs []Transaction) (SortedTxs, []Transaction, error) {
	admissible := make([]Transaction, 0, len(txs))
	var preRejected []int
	for i, tx := range txs {
		if _, ok := c.owners[tx.Type]; !ok {
			preRejected = append(preRejected, i)
			continue
		}
		admissible = append(admissible, tx)
	}

	if c.sorter == nil {
		sorted := make([]int, len(admissible))
		for i := range admissible {
			sorted[i] = i
		}
		return SortedTxs{Invalid: preRejected, Sorted: sorted}, admissible, nil
	}

	withMeta := make([]TransactionWithMetadata, len(admissible))
	for i, tx := range admissible {
		withMeta[i] = TransactionWithMetadata{Transaction: tx}
	}
	result, err := c.sorter.SortTxs(session, withMeta)
	if err != nil {
		return SortedTxs{}, nil, fmt.Errorf("coordinator: sort-txs: %w", err)
	}
	result.Invalid = append(preRejected, result.Invalid...)
	return result, admissible, nil
}

func (c *Coordinator) executeOne(ctx context.Context, session SessionKey, tx Transaction) (TransactionOutcome, error) {
	owner := c.owners[tx.Type]
	return c.txPipeline(func(ctx context.Context, session SessionKey, owner TxOwner, tx Transaction) (TransactionOutcome, error) {
		return owner.ExecuteTransaction(session, tx)
	})(ctx, session, owner, tx)
}

func (c *Coordinator) blockClosed(session SessionKey) ([]Event, error) {
	type closeResult struct {
		owner  string
		events []Event
	}
	results := make([]closeResult, 0, len(c.owners))
	for name, owner := range c.owners {
		es, err := owner.BlockClosed(session)
		if err != nil {
			return nil, fmt.Errorf("coordinator: block-closed (%s): %w", name, err)
		}
		results = append(results, closeResult{owner: name, events: es})
	}

	var events []Event
	for _, r := range results {
		events = append(events, r.events...)
	}
	return events, nil
}
