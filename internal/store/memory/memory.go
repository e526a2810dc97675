// Package memory is an in-process expense store used for local development
// and tests. It honours the same contract as the REST store.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"spendlog/internal/core"
	"spendlog/internal/store"
)

type Store struct {
	mu    sync.Mutex
	items []core.Expense
	newID func() core.ExpenseID
}

func New(seed ...core.Expense) *Store {
	s := &Store{newID: func() core.ExpenseID {
		return core.ExpenseID(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}}
	for _, e := range seed {
		if e.ID == "" {
			e.ID = s.newID()
		}
		s.items = append(s.items, e)
	}
	return s
}

// List returns a copy of all stored expenses in insertion order.
func (s *Store) List(_ context.Context) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items), nil
}

// Create assigns a fresh id and stores the expense.
func (s *Store) Create(_ context.Context, e core.Expense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.newID()
	s.items = append(s.items, e)
	return e, nil
}

// Update merges the given fields into the stored expense.
func (s *Store) Update(_ context.Context, id core.ExpenseID, fields map[string]any) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return core.Expense{}, &store.StatusError{Op: "update expense", StatusCode: http.StatusNotFound}
	}
	e := s.items[i]
	for k, v := range fields {
		switch core.Field(k) {
		case core.FieldCategory:
			c, ok := v.(core.Category)
			if !ok {
				c = core.Category(fmt.Sprint(v))
			}
			e.Category = c
		case core.FieldDescription:
			e.Description = fmt.Sprint(v)
		case core.FieldAmount:
			m, ok := v.(core.Money)
			if !ok {
				return core.Expense{}, &store.StatusError{Op: "update expense", StatusCode: http.StatusBadRequest}
			}
			e.Amount = m
		case core.FieldDate:
			d, ok := v.(core.Date)
			if !ok {
				return core.Expense{}, &store.StatusError{Op: "update expense", StatusCode: http.StatusBadRequest}
			}
			e.Date = d
		}
	}
	s.items[i] = e
	return e, nil
}

// Delete removes the expense; unknown ids answer 404 like the REST store.
func (s *Store) Delete(_ context.Context, id core.ExpenseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return &store.StatusError{Op: "delete expense", StatusCode: http.StatusNotFound}
	}
	s.items = slices.Delete(s.items, i, i+1)
	return nil
}

func (s *Store) index(id core.ExpenseID) int {
	return slices.IndexFunc(s.items, func(e core.Expense) bool { return e.ID == id })
}
