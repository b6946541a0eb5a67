// Per-transaction middleware chain, the onion-model composition adapted
// from middleware/middleware.go: there it wraps an RPC business handler,
// here it wraps one ExecuteTransaction call so the coordinator can add
// logging, timeout, and retry behavior around transaction execution
// without the TxOwner implementations needing to know about any of it.
package coordinator

import (
	"context"
	"errors"
	"log"
	"time"
)

// TxHandlerFunc executes one transaction against owner within session.
type TxHandlerFunc func(ctx context.Context, session SessionKey, owner TxOwner, tx Transaction) (TransactionOutcome, error)

// Middleware wraps a TxHandlerFunc to add cross-cutting behavior.
type Middleware func(next TxHandlerFunc) TxHandlerFunc

// Chain composes middlewares outermost-first: Chain(A, B)(h) runs
// A(B(h)) — A's pre-processing happens first, its post-processing last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next TxHandlerFunc) TxHandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// LoggingMiddleware logs the transaction type, duration, and any error for
// every execution.
func LoggingMiddleware() Middleware {
	return func(next TxHandlerFunc) TxHandlerFunc {
		return func(ctx context.Context, session SessionKey, owner TxOwner, tx Transaction) (TransactionOutcome, error) {
			start := time.Now()
			outcome, err := next(ctx, session, owner, tx)
			log.Printf("coordinator: tx type=%s session=%d duration=%s", tx.Type, session, time.Since(start))
			if err != nil {
				log.Printf("coordinator: tx type=%s session=%d error=%v", tx.Type, session, err)
			}
			return outcome, err
		}
	}
}

// TimeoutMiddleware bounds one transaction's execution time. Like the
// teacher's TimeOutMiddleware, the handler goroutine is not cancelled on
// timeout — it keeps running in the background — the timeout only
// controls how long the caller waits for it.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next TxHandlerFunc) TxHandlerFunc {
		return func(ctx context.Context, session SessionKey, owner TxOwner, tx Transaction) (TransactionOutcome, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				outcome TransactionOutcome
				err     error
			}
			done := make(chan result, 1)
			go func() {
				o, e := next(ctx, session, owner, tx)
				done <- result{o, e}
			}()

			select {
			case r := <-done:
				return r.outcome, r.err
			case <-ctx.Done():
				return TransactionOutcome{}, context.DeadlineExceeded
			}
		}
	}
}

// RetryMiddleware retries a transient failure (anything whose error wraps
// context.DeadlineExceeded) up to maxRetries times with exponential
// backoff. A non-transient error returns immediately — re-executing a
// transaction that failed for a real reason would be wrong, not merely
// wasteful.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next TxHandlerFunc) TxHandlerFunc {
		return func(ctx context.Context, session SessionKey, owner TxOwner, tx Transaction) (TransactionOutcome, error) {
			outcome, err := next(ctx, session, owner, tx)
			for i := 0; i < maxRetries && errors.Is(err, context.DeadlineExceeded); i++ {
				log.Printf("coordinator: retry %d for tx type=%s after timeout", i+1, tx.Type)
				time.Sleep(baseDelay * time.Duration(1<<i))
				outcome, err = next(ctx, session, owner, tx)
			}
			return outcome, err
		}
	}
}
