package controller

import (
	"context"

	"spendlog/internal/core"
)

// Ports for the controller's collaborators. Only the store and the
// renderer are required.
type (
	// Renderer receives derived views. Implementations must not block.
	Renderer interface {
		// Refresh redraws table, summary totals, remaining budget and chart.
		Refresh(s Snapshot)
		// RenderTable redraws the table only.
		RenderTable(s Snapshot)
	}

	BudgetStore interface {
		LoadBudget(ctx context.Context) (core.Money, error)
		SaveBudget(ctx context.Context, budget core.Money) error
	}

	// Journal records the outcome of every store operation.
	Journal interface {
		Record(ctx context.Context, op string, id core.ExpenseID, err error) error
	}

	// Notifier announces successful mutations to other clients.
	Notifier interface {
		ExpenseChanged(ctx context.Context, op string, id core.ExpenseID) error
	}
)

// State is Fetching while any store call is in flight.
type State int

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Snapshot is an immutable copy of the controller state handed to views.
type Snapshot struct {
	// Version grows with every state change; views drop older snapshots.
	Version   uint64
	Expenses  []core.Expense
	Selected  []core.ExpenseID
	SortKey   core.SortKey
	Summary   core.Summary
	Loaded    bool
	LoadError string
}

// IsSelected reports whether id is checked for batch deletion.
func (s Snapshot) IsSelected(id core.ExpenseID) bool {
	for _, sel := range s.Selected {
		if sel == id {
			return true
		}
	}
	return false
}

// CanDeleteSelected enables the batch-delete control.
func (s Snapshot) CanDeleteSelected() bool { return len(s.Selected) > 0 }
