package lineage

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing node, fork or resolvable root.
	ErrNotFound = errors.New("lineage: not found")
	// ErrUnauthorized reports an actor that may not perform the mutation.
	ErrUnauthorized = errors.New("lineage: unauthorized")
	// ErrTransactionFailed reports a store transaction that could not commit.
	// No partial state is left behind.
	ErrTransactionFailed = errors.New("lineage: transaction failed")
)

// classifyTxError maps an error returned from a mutation transaction onto the
// package's error taxonomy.
func classifyTxError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "failed"
	}
}
