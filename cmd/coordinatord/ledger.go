package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mini-rpc/coordinator"
)

// ledgerTxOwner is a minimal in-memory TxOwner: it interprets a
// transaction body as "<account>:<amount>" and credits the account,
// standing in for the sandboxed module implementation a real deployment
// would link in for each descriptor entry. It satisfies
// coordinator.TxOwner directly rather than through an RTO round trip,
// since nothing outside this process ever needs to address it.
type ledgerTxOwner struct {
	name string

	mu       sync.Mutex
	balances map[string]int64
}

func newLedgerTxOwner(name string) *ledgerTxOwner {
	return &ledgerTxOwner{name: name, balances: make(map[string]int64)}
}

func (l *ledgerTxOwner) BlockOpened(session coordinator.SessionKey, header coordinator.Header) error {
	return nil
}

func (l *ledgerTxOwner) CheckTransaction(tx coordinator.Transaction) (coordinator.ErrorCode, error) {
	if _, _, err := parseCredit(tx.Body); err != nil {
		return coordinator.ErrorCodeMalformed, nil
	}
	return coordinator.ErrorCodeNone, nil
}

func (l *ledgerTxOwner) ExecuteTransaction(session coordinator.SessionKey, tx coordinator.Transaction) (coordinator.TransactionOutcome, error) {
	account, amount, err := parseCredit(tx.Body)
	if err != nil {
		return coordinator.TransactionOutcome{}, err
	}

	l.mu.Lock()
	l.balances[account] += amount
	l.mu.Unlock()

	return coordinator.TransactionOutcome{
		Events: []coordinator.Event{{Type: l.name + ".credited", Body: tx.Body}},
	}, nil
}

func (l *ledgerTxOwner) BlockClosed(session coordinator.SessionKey) ([]coordinator.Event, error) {
	l.mu.Lock()
	n := len(l.balances)
	l.mu.Unlock()
	return []coordinator.Event{{Type: l.name + ".closed", Body: []byte(fmt.Sprintf("accounts=%d", n))}}, nil
}

// parseCredit decodes a "<account>:<amount>" transaction body.
func parseCredit(body []byte) (string, int64, error) {
	account, amountStr, ok := strings.Cut(string(body), ":")
	if !ok || account == "" {
		return "", 0, fmt.Errorf("ledger: malformed transaction body %q, want \"account:amount\"", body)
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("ledger: malformed amount in transaction body %q: %w", body, err)
	}
	return account, amount, nil
}
