package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the commit did not confirm within its budget. The
	// transaction may still confirm later.
	ErrTimeout = errors.New("ledger: commit timed out")
	// ErrNotConfigured means the live binding could not be constructed.
	// It persists until the process restarts.
	ErrNotConfigured = errors.New("ledger: not configured")
)

// ServiceError carries an upstream ledger failure such as a rejected or
// reverted transaction.
type ServiceError struct {
	Message string
	// TxID is set when the transaction was sent but failed on chain.
	TxID string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("ledger: %s (tx %s)", e.Message, e.TxID)
	}
	return fmt.Sprintf("ledger: %s", e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
