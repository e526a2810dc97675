// Package controller owns the in-memory expense list, the budget and the
// selection set, keeps them in sync with the remote store and republishes
// derived views after every change.
//
// Store calls are never made while the state lock is held, so overlapping
// operations are possible; the last response to arrive wins.
package controller

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/store"
	"spendlog/internal/validator"
)

const defaultDeleteConcurrency = 4

// Options carries the optional collaborators.
type Options struct {
	Budgets           BudgetStore
	Journal           Journal
	Notifier          Notifier
	Logger            *log.Logger
	DeleteConcurrency int
}

type Controller struct {
	store    store.ExpenseStore
	renderer Renderer
	budgets  BudgetStore
	journal  Journal
	notifier Notifier
	logger   *log.Logger
	fanout   int

	inFlight atomic.Int32

	mu       sync.Mutex
	version  uint64
	expenses []core.Expense
	budget   core.Money
	selected map[core.ExpenseID]struct{}
	sortKey  core.SortKey
	loaded   bool
	loadErr  error
}

func New(st store.ExpenseStore, r Renderer, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	fanout := opts.DeleteConcurrency
	if fanout < 1 {
		fanout = defaultDeleteConcurrency
	}
	return &Controller{
		store:    st,
		renderer: r,
		budgets:  opts.Budgets,
		journal:  opts.Journal,
		notifier: opts.Notifier,
		logger:   logger.WithComponent(log.ComponentController),
		fanout:   fanout,
		selected: make(map[core.ExpenseID]struct{}),
	}
}

// RestoreBudget loads the persisted budget, if a budget store is configured.
func (c *Controller) RestoreBudget(ctx context.Context) error {
	if c.budgets == nil {
		return nil
	}
	b, err := c.budgets.LoadBudget(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.budget = b
	snap := c.commitLocked()
	c.mu.Unlock()
	c.renderer.Refresh(snap)
	return nil
}

// Load replaces the expense list with the store's collection. On failure
// the previous list is kept.
func (c *Controller) Load(ctx context.Context) error {
	ctx, done := c.begin(ctx)
	defer done()

	list, err := c.store.List(ctx)
	if err != nil {
		c.mu.Lock()
		c.loadErr = err
		c.mu.Unlock()
		c.failed(ctx, log.OpLoad, "", err)
		return err
	}

	c.mu.Lock()
	c.expenses = list
	c.loaded = true
	c.loadErr = nil
	for id := range c.selected {
		if c.indexLocked(id) < 0 {
			delete(c.selected, id)
		}
	}
	core.SortExpenses(c.expenses, c.sortKey)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.Refresh(snap)
	c.logger.InfoContext(ctx, "Expenses loaded", log.FieldOperation, log.OpLoad, log.FieldCount, len(list))
	c.record(ctx, log.OpLoad, "", nil)
	return nil
}

// Add validates the draft, creates it in the store and appends the
// store-assigned expense.
func (c *Controller) Add(ctx context.Context, d core.Draft) (core.Expense, error) {
	if err := validator.Draft(d); err != nil {
		c.rejected(ctx, log.OpCreate, "", err)
		return core.Expense{}, err
	}
	draft, err := d.Expense()
	if err != nil {
		c.rejected(ctx, log.OpCreate, "", err)
		return core.Expense{}, err
	}

	ctx, done := c.begin(ctx)
	defer done()

	created, err := c.store.Create(ctx, draft)
	if err != nil {
		c.failed(ctx, log.OpCreate, "", err)
		return core.Expense{}, err
	}

	c.mu.Lock()
	c.expenses = append(c.expenses, created)
	core.SortExpenses(c.expenses, c.sortKey)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.Refresh(snap)
	c.logger.InfoContext(ctx, "Expense created",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithExpense(string(created.ID), string(created.Category), created.Amount.Cents).
			ToSlice()...)
	c.record(ctx, log.OpCreate, created.ID, nil)
	c.notify(ctx, log.OpCreate, created.ID)
	return created, nil
}

// Update sends one changed field and replaces the local entry with the
// server's object. An unchanged value or an id missing locally is a silent
// no-op; the returned bool reports whether local state changed.
func (c *Controller) Update(ctx context.Context, id core.ExpenseID, p core.Patch) (core.Expense, bool, error) {
	if err := validator.Patch(p); err != nil {
		c.rejected(ctx, log.OpUpdate, id, err)
		return core.Expense{}, false, err
	}
	body, err := p.Body()
	if err != nil {
		c.rejected(ctx, log.OpUpdate, id, err)
		return core.Expense{}, false, err
	}

	c.mu.Lock()
	if i := c.indexLocked(id); i >= 0 && c.expenses[i].Value(p.Field) == strings.TrimSpace(p.Value) {
		current := c.expenses[i]
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Edit left value unchanged", log.FieldExpenseID, id, "field", p.Field)
		return current, false, nil
	}
	c.mu.Unlock()

	ctx, done := c.begin(ctx)
	defer done()

	updated, err := c.store.Update(ctx, id, body)
	if err != nil {
		c.failed(ctx, log.OpUpdate, id, err)
		return core.Expense{}, false, err
	}
	if updated.ID == "" {
		updated.ID = id
	}

	c.mu.Lock()
	i := c.indexLocked(updated.ID)
	if i < 0 {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Updated expense not in local list, skipping",
			log.FieldOperation, log.OpUpdate, log.FieldExpenseID, updated.ID)
		c.record(ctx, log.OpUpdate, id, nil)
		return updated, false, nil
	}
	c.expenses[i] = updated
	core.SortExpenses(c.expenses, c.sortKey)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.Refresh(snap)
	c.logger.InfoContext(ctx, "Expense updated",
		log.FieldOperation, log.OpUpdate, log.FieldExpenseID, updated.ID, "field", p.Field)
	c.record(ctx, log.OpUpdate, id, nil)
	c.notify(ctx, log.OpUpdate, id)
	return updated, true, nil
}

// Remove deletes one expense. A store 404 counts as already deleted, so
// removing an unknown id leaves state untouched and returns nil.
func (c *Controller) Remove(ctx context.Context, id core.ExpenseID) error {
	ctx, done := c.begin(ctx)
	defer done()

	if err := c.store.Delete(ctx, id); err != nil {
		var serr *store.StatusError
		if !errors.As(err, &serr) || !serr.NotFound() {
			c.failed(ctx, log.OpDelete, id, err)
			return err
		}
		c.logger.DebugContext(ctx, "Expense already absent from store", log.FieldExpenseID, id)
	}

	c.mu.Lock()
	i := c.indexLocked(id)
	_, wasSelected := c.selected[id]
	if i < 0 && !wasSelected {
		c.mu.Unlock()
		c.record(ctx, log.OpDelete, id, nil)
		return nil
	}
	if i >= 0 {
		c.expenses = slices.Delete(c.expenses, i, i+1)
	}
	delete(c.selected, id)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.Refresh(snap)
	c.logger.InfoContext(ctx, "Expense deleted", log.FieldOperation, log.OpDelete, log.FieldExpenseID, id)
	c.record(ctx, log.OpDelete, id, nil)
	c.notify(ctx, log.OpDelete, id)
	return nil
}

// RemoveSelected issues one independent delete per selected id and clears
// the selection. There is no atomicity across the batch: each failure is
// logged on its own and the joined errors are returned.
func (c *Controller) RemoveSelected(ctx context.Context) (int, error) {
	c.mu.Lock()
	ids := make([]core.ExpenseID, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	clear(c.selected)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.RenderTable(snap)
	if len(ids) == 0 {
		return 0, nil
	}
	slices.Sort(ids)

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		errs    []error
		deleted atomic.Int32
	)
	g.SetLimit(c.fanout)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.Remove(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.InfoContext(ctx, "Batch delete finished",
		log.FieldOperation, log.OpDelete, log.FieldCount, len(ids), "deleted", deleted.Load(), "failed", len(errs))
	return int(deleted.Load()), errors.Join(errs...)
}

// SetBudget parses and applies the budget form value.
func (c *Controller) SetBudget(ctx context.Context, raw string) error {
	b, err := core.ParseBudget(raw)
	if err != nil {
		c.rejected(ctx, log.OpBudget, "", err)
		return err
	}
	return c.applyBudget(ctx, b)
}

// SetBudgetValue applies a numeric budget; NaN, infinities and negative
// values are rejected without any state change.
func (c *Controller) SetBudgetValue(ctx context.Context, v float64) error {
	b, err := core.BudgetFromFloat(v)
	if err != nil {
		c.rejected(ctx, log.OpBudget, "", err)
		return err
	}
	return c.applyBudget(ctx, b)
}

func (c *Controller) applyBudget(ctx context.Context, b core.Money) error {
	c.mu.Lock()
	c.budget = b
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.Refresh(snap)
	c.logger.InfoContext(ctx, "Budget set", log.FieldOperation, log.OpBudget, log.FieldBudgetCents, b.Cents)
	if c.budgets != nil {
		if err := c.budgets.SaveBudget(ctx, b); err != nil {
			c.logger.WarnContext(ctx, "Failed to persist budget", log.FieldError, err, log.FieldBudgetCents, b.Cents)
		}
	}
	return nil
}

// Sort reorders the list in place and re-renders the table only.
func (c *Controller) Sort(key core.SortKey) error {
	if !key.Valid() {
		return &core.ValidationError{Field: "sort", Reason: "unknown sort key " + string(key)}
	}
	c.mu.Lock()
	c.sortKey = key
	core.SortExpenses(c.expenses, key)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.RenderTable(snap)
	c.logger.Debug("Expenses sorted", log.FieldOperation, log.OpSort, log.FieldSortKey, key)
	return nil
}

// ToggleSelection adds or removes id from the selection set and reports
// whether the batch-delete control is enabled. Ids not in the list are
// ignored.
func (c *Controller) ToggleSelection(id core.ExpenseID, selected bool) bool {
	c.mu.Lock()
	if selected {
		if c.indexLocked(id) < 0 {
			enabled := len(c.selected) > 0
			c.mu.Unlock()
			return enabled
		}
		c.selected[id] = struct{}{}
	} else {
		delete(c.selected, id)
	}
	enabled := len(c.selected) > 0
	snap := c.commitLocked()
	c.mu.Unlock()

	c.renderer.RenderTable(snap)
	return enabled
}

// CanDeleteSelected reports whether the selection set is non-empty.
func (c *Controller) CanDeleteSelected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.selected) > 0
}

// TotalFor sums the in-memory amounts of category cat, or of every expense
// when cat is nil. It never calls the store.
func (c *Controller) TotalFor(cat *core.Category) core.Money {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.TotalFor(c.expenses, cat)
}

// Budget returns the current budget.
func (c *Controller) Budget() core.Money {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// State reports Fetching while any store call is in flight.
func (c *Controller) State() State {
	if c.inFlight.Load() > 0 {
		return Fetching
	}
	return Idle
}

// Ready reports whether the list has been loaded at least once.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Snapshot returns a copy of the current state with derived totals.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// begin marks a store call in flight. The call is detached from the
// caller's cancellation: once issued it runs to completion.
func (c *Controller) begin(ctx context.Context) (context.Context, func()) {
	c.inFlight.Add(1)
	return context.WithoutCancel(ctx), func() { c.inFlight.Add(-1) }
}

func (c *Controller) commitLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:  c.version,
		Expenses: slices.Clone(c.expenses),
		Selected: make([]core.ExpenseID, 0, len(c.selected)),
		SortKey:  c.sortKey,
		Summary:  core.Summarize(c.expenses, c.budget),
		Loaded:   c.loaded,
	}
	for id := range c.selected {
		s.Selected = append(s.Selected, id)
	}
	slices.Sort(s.Selected)
	if c.loadErr != nil {
		s.LoadError = c.loadErr.Error()
	}
	return s
}

func (c *Controller) indexLocked(id core.ExpenseID) int {
	return slices.IndexFunc(c.expenses, func(e core.Expense) bool { return e.ID == id })
}

func (c *Controller) failed(ctx context.Context, op string, id core.ExpenseID, err error) {
	fields := log.NewFields().WithOperation(op).WithError(err, log.ErrorTypeNetwork)
	if id != "" {
		fields[log.FieldExpenseID] = string(id)
	}
	c.logger.ErrorContext(ctx, "Store operation failed", fields.ToSlice()...)
	c.record(ctx, op, id, err)
}

func (c *Controller) rejected(ctx context.Context, op string, id core.ExpenseID, err error) {
	c.logger.WarnContext(ctx, "Input rejected",
		log.FieldOperation, op,
		log.FieldExpenseID, id,
		log.FieldError, err.Error(),
		log.FieldErrorType, log.ErrorTypeValidation)
}

func (c *Controller) record(ctx context.Context, op string, id core.ExpenseID, opErr error) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, op, id, opErr); err != nil {
		c.logger.WarnContext(ctx, "Failed to journal operation", log.FieldOperation, op, log.FieldError, err)
	}
}

func (c *Controller) notify(ctx context.Context, op string, id core.ExpenseID) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.ExpenseChanged(ctx, op, id); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish change notification",
			log.FieldOperation, log.OpPublish, log.FieldExpenseID, id, log.FieldError, err)
	}
}
