package store

import (
	"context"
	"fmt"
	"net/http"

	"spendlog/internal/core"
)

// Ports for the remote store of record.
type (
	ExpenseLister interface {
		// List returns the full expense collection.
		List(ctx context.Context) ([]core.Expense, error)
	}

	ExpenseCreator interface {
		// Create stores a new expense and returns it with the assigned id.
		Create(ctx context.Context, e core.Expense) (core.Expense, error)
	}

	ExpenseUpdater interface {
		// Update applies a partial update and returns the full updated expense.
		Update(ctx context.Context, id core.ExpenseID, fields map[string]any) (core.Expense, error)
	}

	ExpenseDeleter interface {
		Delete(ctx context.Context, id core.ExpenseID) error
	}

	// ExpenseStore is the full CRUD contract the controller depends on.
	ExpenseStore interface {
		ExpenseLister
		ExpenseCreator
		ExpenseUpdater
		ExpenseDeleter
	}
)

// StatusError reports a non-success response from the store.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: store responded %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// NotFound reports whether the store had no record for the request.
func (e *StatusError) NotFound() bool { return e.StatusCode == http.StatusNotFound }
