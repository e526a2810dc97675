package controller

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bxcodec/faker/v3"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/store/memory"
)

var errDown = errors.New("connection refused")

// flakyStore wraps the memory store with failure injection and call counting.
type flakyStore struct {
	*memory.Store
	calls      atomic.Int32
	failList   atomic.Bool
	failCreate atomic.Bool
	failUpdate atomic.Bool

	mu         sync.Mutex
	failDelete map[core.ExpenseID]bool
	block      chan struct{}
}

func newFlakyStore(seed ...core.Expense) *flakyStore {
	return &flakyStore{Store: memory.New(seed...), failDelete: map[core.ExpenseID]bool{}}
}

func (s *flakyStore) List(ctx context.Context) ([]core.Expense, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.failList.Load() {
		return nil, &core.NetworkError{Op: "list expenses", Err: errDown}
	}
	return s.Store.List(ctx)
}

func (s *flakyStore) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	s.calls.Add(1)
	if s.failCreate.Load() {
		return core.Expense{}, &core.NetworkError{Op: "create expense", Err: errDown}
	}
	return s.Store.Create(ctx, e)
}

func (s *flakyStore) Update(ctx context.Context, id core.ExpenseID, fields map[string]any) (core.Expense, error) {
	s.calls.Add(1)
	if s.failUpdate.Load() {
		return core.Expense{}, &core.NetworkError{Op: "update expense", Err: errDown}
	}
	return s.Store.Update(ctx, id, fields)
}

func (s *flakyStore) Delete(ctx context.Context, id core.ExpenseID) error {
	s.calls.Add(1)
	s.mu.Lock()
	fail := s.failDelete[id]
	s.mu.Unlock()
	if fail {
		return &core.NetworkError{Op: "delete expense", Err: errDown}
	}
	return s.Store.Delete(ctx, id)
}

type recordingRenderer struct {
	mu        sync.Mutex
	refreshes int
	tables    int
	last      Snapshot
}

func (r *recordingRenderer) Refresh(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	if s.Version >= r.last.Version {
		r.last = s
	}
}

func (r *recordingRenderer) RenderTable(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables++
	if s.Version >= r.last.Version {
		r.last = s
	}
}

func (r *recordingRenderer) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes, r.tables
}

type memJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *memJournal) Record(_ context.Context, op string, id core.ExpenseID, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "fail"
	}
	j.entries = append(j.entries, op+":"+string(id)+":"+status)
	return nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) ExpenseChanged(_ context.Context, op string, id core.ExpenseID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, op+":"+string(id))
	return nil
}

type memBudgets struct{ saved core.Money }

func (b *memBudgets) LoadBudget(context.Context) (core.Money, error)   { return b.saved, nil }
func (b *memBudgets) SaveBudget(_ context.Context, m core.Money) error { b.saved = m; return nil }

func scenarioSeed() []core.Expense {
	return []core.Expense{
		{ID: "g1", Category: core.Groceries, Description: "market", Amount: core.Money{Cents: 4000}, Date: core.NewDate(2025, 3, 3)},
		{ID: "t1", Category: core.Transport, Description: "bus pass", Amount: core.Money{Cents: 1550}, Date: core.NewDate(2025, 3, 1)},
		{ID: "g2", Category: core.Groceries, Description: "bakery", Amount: core.Money{Cents: 999}, Date: core.NewDate(2025, 3, 2)},
	}
}

func setup(t *testing.T, seed ...core.Expense) (*Controller, *flakyStore, *recordingRenderer) {
	t.Helper()
	st := newFlakyStore(seed...)
	r := &recordingRenderer{}
	c := New(st, r, Options{Logger: log.Discard()})
	return c, st, r
}

func loaded(t *testing.T, seed ...core.Expense) (*Controller, *flakyStore, *recordingRenderer) {
	t.Helper()
	c, st, r := setup(t, seed...)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c, st, r
}

func TestLoadReplacesListAndRefreshes(t *testing.T) {
	c, _, r := loaded(t, scenarioSeed()...)
	snap := c.Snapshot()
	if len(snap.Expenses) != 3 || !snap.Loaded || !c.Ready() {
		t.Fatalf("unexpected snapshot after load: %+v", snap)
	}
	if refreshes, _ := r.counts(); refreshes != 1 {
		t.Fatalf("expected one full refresh, got %d", refreshes)
	}
	if r.last.Summary.Total.Cents != 6549 {
		t.Fatalf("view not refreshed with totals: %+v", r.last.Summary)
	}
}

func TestLoadFailureKeepsPreviousList(t *testing.T) {
	c, st, r := loaded(t, scenarioSeed()...)
	st.failList.Store(true)

	err := c.Load(context.Background())
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if got := len(c.Snapshot().Expenses); got != 3 {
		t.Fatalf("previous list must be kept, got %d expenses", got)
	}
	if refreshes, _ := r.counts(); refreshes != 1 {
		t.Fatalf("failed load must not refresh views, got %d refreshes", refreshes)
	}
	if c.Snapshot().LoadError == "" {
		t.Fatalf("expected load error in snapshot")
	}
}

func TestAddAppendsStoreAssignedExpense(t *testing.T) {
	c, _, r := loaded(t, scenarioSeed()...)
	before := len(c.Snapshot().Expenses)

	created, err := c.Add(context.Background(), core.Draft{Category: "Entertainment", Description: "cinema", Amount: "12.5", Date: "2025-03-04"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected store-assigned id")
	}

	snap := c.Snapshot()
	if len(snap.Expenses) != before+1 {
		t.Fatalf("expected %d expenses, got %d", before+1, len(snap.Expenses))
	}
	var found bool
	for _, e := range snap.Expenses {
		if e.ID == created.ID {
			found = e.Category == core.Entertainment && e.Description == "cinema" && e.Amount.Cents == 1250 && e.Date.String() == "2025-03-04"
		}
	}
	if !found {
		t.Fatalf("added expense missing or mismatched: %+v", snap.Expenses)
	}
	if refreshes, _ := r.counts(); refreshes != 2 {
		t.Fatalf("expected refresh after add, got %d", refreshes)
	}
}

func TestAddRejectsInvalidInputBeforeNetwork(t *testing.T) {
	c, st, _ := loaded(t)
	calls := st.calls.Load()

	drafts := []core.Draft{
		{Category: "Rent", Amount: "1", Date: "2025-01-01"},
		{Category: "Other", Amount: "abc", Date: "2025-01-01"},
		{Category: "Other", Amount: "1", Date: "not a date"},
	}
	for _, d := range drafts {
		if _, err := c.Add(context.Background(), d); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("%+v: expected validation failure, got %v", d, err)
		}
	}
	if st.calls.Load() != calls {
		t.Fatalf("invalid input must not reach the store")
	}
	if len(c.Snapshot().Expenses) != 0 {
		t.Fatalf("state must not change")
	}
}

func TestAddNetworkFailureKeepsState(t *testing.T) {
	j := &memJournal{}
	st := newFlakyStore()
	c := New(st, &recordingRenderer{}, Options{Logger: log.Discard(), Journal: j})
	st.failCreate.Store(true)

	_, err := c.Add(context.Background(), core.Draft{Category: "Other", Amount: "1", Date: "2025-01-01"})
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if len(c.Snapshot().Expenses) != 0 {
		t.Fatalf("state must not change on failure")
	}
	if len(j.entries) != 1 || j.entries[0] != "create::fail" {
		t.Fatalf("unexpected journal: %v", j.entries)
	}
}

func TestUpdateTrustsServerObject(t *testing.T) {
	n := &memNotifier{}
	st := newFlakyStore(scenarioSeed()...)
	r := &recordingRenderer{}
	c := New(st, r, Options{Logger: log.Discard(), Notifier: n})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	updated, changed, err := c.Update(context.Background(), "t1", core.Patch{Field: core.FieldAmount, Value: "20"})
	if err != nil || !changed {
		t.Fatalf("update: changed=%v err=%v", changed, err)
	}
	if updated.Amount.Cents != 2000 || updated.Description != "bus pass" {
		t.Fatalf("unexpected server object: %+v", updated)
	}
	g := core.Transport
	if c.TotalFor(&g).Cents != 2000 {
		t.Fatalf("local entry not replaced")
	}
	if len(n.events) != 1 || n.events[0] != "update:t1" {
		t.Fatalf("unexpected notifications: %v", n.events)
	}
}

func TestUpdateUnknownLocalIDIsSilentNoOp(t *testing.T) {
	c, st, r := loaded(t, scenarioSeed()...)
	// Exists in the store but was never fetched by this client.
	remote, _ := st.Store.Create(context.Background(), core.Expense{Category: core.Other, Amount: core.Money{Cents: 5}})
	before, _ := r.counts()

	_, changed, err := c.Update(context.Background(), remote.ID, core.Patch{Field: core.FieldDescription, Value: "x"})
	if err != nil || changed {
		t.Fatalf("expected silent no-op, changed=%v err=%v", changed, err)
	}
	if after, _ := r.counts(); after != before {
		t.Fatalf("no-op must not refresh views")
	}
	if len(c.Snapshot().Expenses) != 3 {
		t.Fatalf("state must not change")
	}
}

func TestUpdateUnchangedValueSkipsStore(t *testing.T) {
	c, st, _ := loaded(t, scenarioSeed()...)
	calls := st.calls.Load()
	_, changed, err := c.Update(context.Background(), "g1", core.Patch{Field: core.FieldDescription, Value: " market "})
	if err != nil || changed {
		t.Fatalf("expected unchanged, changed=%v err=%v", changed, err)
	}
	if st.calls.Load() != calls {
		t.Fatalf("unchanged edit must not reach the store")
	}
}

func TestUpdateValidationAndNetworkFailures(t *testing.T) {
	c, st, _ := loaded(t, scenarioSeed()...)
	if _, _, err := c.Update(context.Background(), "g1", core.Patch{Field: core.FieldAmount, Value: "-4"}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	st.failUpdate.Store(true)
	if _, _, err := c.Update(context.Background(), "g1", core.Patch{Field: core.FieldAmount, Value: "4"}); !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
	g := core.Groceries
	if c.TotalFor(&g).Cents != 4999 {
		t.Fatalf("state must not change on failure")
	}
}

func TestRemove(t *testing.T) {
	c, _, _ := loaded(t, scenarioSeed()...)
	if err := c.Remove(context.Background(), "g2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, e := range c.Snapshot().Expenses {
		if e.ID == "g2" {
			t.Fatalf("removed id still present")
		}
	}
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	c, _, r := loaded(t, scenarioSeed()...)
	before := c.Snapshot()
	refreshes, _ := r.counts()

	if err := c.Remove(context.Background(), "missing"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	after := c.Snapshot()
	if len(after.Expenses) != len(before.Expenses) || after.Version != before.Version {
		t.Fatalf("state must not change")
	}
	if got, _ := r.counts(); got != refreshes {
		t.Fatalf("no-op must not refresh views")
	}
}

func TestRemoveSelectedPartialFailure(t *testing.T) {
	j := &memJournal{}
	st := newFlakyStore(scenarioSeed()...)
	c := New(st, &recordingRenderer{}, Options{Logger: log.Discard(), Journal: j, DeleteConcurrency: 2})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, id := range []core.ExpenseID{"g1", "t1", "g2"} {
		c.ToggleSelection(id, true)
	}
	st.failDelete["t1"] = true

	deleted, err := c.RemoveSelected(context.Background())
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("expected joined network failure, got %v", err)
	}
	snap := c.Snapshot()
	if len(snap.Expenses) != 1 || snap.Expenses[0].ID != "t1" {
		t.Fatalf("expected only t1 to remain, got %+v", snap.Expenses)
	}
	if snap.CanDeleteSelected() || c.CanDeleteSelected() {
		t.Fatalf("selection must be cleared after batch delete")
	}
}

func TestRemoveSelectedEmpty(t *testing.T) {
	c, st, _ := loaded(t, scenarioSeed()...)
	calls := st.calls.Load()
	if n, err := c.RemoveSelected(context.Background()); n != 0 || err != nil {
		t.Fatalf("unexpected result n=%d err=%v", n, err)
	}
	if st.calls.Load() != calls {
		t.Fatalf("empty batch must not call the store")
	}
}

func TestSetBudget(t *testing.T) {
	b := &memBudgets{}
	st := newFlakyStore(core.Expense{ID: "x", Category: core.Utilities, Amount: core.Money{Cents: 10025}})
	r := &recordingRenderer{}
	c := New(st, r, Options{Logger: log.Discard(), Budgets: b})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, v := range []float64{-5, math.NaN()} {
		if err := c.SetBudgetValue(context.Background(), v); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("SetBudgetValue(%v) expected validation failure, got %v", v, err)
		}
	}
	if err := c.SetBudget(context.Background(), "lots"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if c.Budget().Cents != 0 {
		t.Fatalf("budget must be unchanged, got %v", c.Budget())
	}

	if err := c.SetBudgetValue(context.Background(), 250.5); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	if got := c.Snapshot().Summary.Remaining; got.Cents != 15025 {
		t.Fatalf("remaining = %v, want $150.25", got)
	}
	if r.last.Summary.Remaining.Cents != 15025 {
		t.Fatalf("view not refreshed with remaining budget")
	}
	if b.saved.Cents != 25050 {
		t.Fatalf("budget not persisted: %v", b.saved)
	}
}

func TestRestoreBudget(t *testing.T) {
	b := &memBudgets{saved: core.Money{Cents: 10000}}
	c := New(newFlakyStore(scenarioSeed()...), &recordingRenderer{}, Options{Logger: log.Discard(), Budgets: b})
	if err := c.RestoreBudget(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Snapshot().Summary.Remaining; got.Cents != 3451 {
		t.Fatalf("remaining = %v, want $34.51", got)
	}
}

func TestSortRendersTableOnly(t *testing.T) {
	c, st, r := loaded(t, scenarioSeed()...)
	calls := st.calls.Load()
	refreshes, tables := r.counts()

	if err := c.Sort(core.SortAmountHigh); err != nil {
		t.Fatalf("sort: %v", err)
	}
	high := c.Snapshot().Expenses
	if err := c.Sort(core.SortAmountLow); err != nil {
		t.Fatalf("sort: %v", err)
	}
	low := c.Snapshot().Expenses
	for i := range high {
		if high[i].ID != low[len(low)-1-i].ID {
			t.Fatalf("amountL is not the reverse of amountH")
		}
	}

	gotRefreshes, gotTables := r.counts()
	if gotRefreshes != refreshes || gotTables != tables+2 {
		t.Fatalf("sort must re-render the table only: refreshes %d->%d tables %d->%d", refreshes, gotRefreshes, tables, gotTables)
	}
	if st.calls.Load() != calls {
		t.Fatalf("sort must not call the store")
	}
	if err := c.Sort("price"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation failure for unknown key, got %v", err)
	}
}

func TestActiveSortAppliesToAddedExpenses(t *testing.T) {
	c, _, _ := loaded(t, scenarioSeed()...)
	_ = c.Sort(core.SortAmountHigh)
	if _, err := c.Add(context.Background(), core.Draft{Category: "Other", Amount: "100", Date: "2025-03-05"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if first := c.Snapshot().Expenses[0]; first.Amount.Cents != 10000 {
		t.Fatalf("expected largest amount first, got %+v", first)
	}
}

func TestTotalsScenarioWithoutStoreCalls(t *testing.T) {
	c, st, _ := loaded(t, scenarioSeed()...)
	calls := st.calls.Load()
	if err := c.SetBudgetValue(context.Background(), 100); err != nil {
		t.Fatalf("budget: %v", err)
	}

	g := core.Groceries
	if got := c.TotalFor(&g); got.Cents != 4999 {
		t.Fatalf("groceries = %v, want $49.99", got)
	}
	if got := c.TotalFor(nil); got.Cents != 6549 {
		t.Fatalf("grand total = %v, want $65.49", got)
	}
	if got := c.Snapshot().Summary.Remaining; got.Cents != 3451 {
		t.Fatalf("remaining = %v, want $34.51", got)
	}
	if st.calls.Load() != calls {
		t.Fatalf("totals must be derived without store calls")
	}
}

type fakeRow struct {
	Description string `faker:"sentence"`
	Cents       int64  `faker:"boundary_start=0, boundary_end=500000"`
	Category    int    `faker:"boundary_start=0, boundary_end=6"`
}

func TestGrandTotalEqualsSumOfCategoryTotals(t *testing.T) {
	cats := core.Categories()
	for round := 0; round < 20; round++ {
		var seed []core.Expense
		for i := 0; i < round*3; i++ {
			var row fakeRow
			if err := faker.FakeData(&row); err != nil {
				t.Fatalf("faker: %v", err)
			}
			if row.Cents < 0 {
				row.Cents = -row.Cents
			}
			idx := row.Category % len(cats)
			if idx < 0 {
				idx = -idx
			}
			seed = append(seed, core.Expense{
				Category:    cats[idx],
				Description: row.Description,
				Amount:      core.Money{Cents: row.Cents},
				Date:        core.NewDate(2025, 1, 1+i%28),
			})
		}
		c, _, _ := loaded(t, seed...)

		var sum core.Money
		for _, cat := range cats {
			sum = sum.Add(c.TotalFor(&cat))
		}
		if total := c.TotalFor(nil); total != sum {
			t.Fatalf("round %d: TotalFor(nil)=%v, category sum=%v", round, total, sum)
		}
	}
}

func TestToggleSelection(t *testing.T) {
	c, _, r := loaded(t, scenarioSeed()...)
	if c.CanDeleteSelected() {
		t.Fatalf("selection should start empty")
	}
	if !c.ToggleSelection("g1", true) {
		t.Fatalf("batch delete should be enabled")
	}
	if c.ToggleSelection("ghost", true) != true {
		t.Fatalf("unknown id must not change enablement")
	}
	if !r.last.IsSelected("g1") || r.last.IsSelected("ghost") {
		t.Fatalf("unexpected rendered selection: %v", r.last.Selected)
	}
	if c.ToggleSelection("g1", false) {
		t.Fatalf("batch delete should be disabled")
	}
}

func TestStateIsFetchingWhileCallInFlight(t *testing.T) {
	c, st, _ := setup(t, scenarioSeed()...)
	st.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != Fetching {
		if time.Now().After(deadline) {
			t.Fatalf("controller never entered Fetching")
		}
		time.Sleep(time.Millisecond)
	}
	close(st.block)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle after completion, got %v", c.State())
	}
}

func TestStoreCallsSurviveCallerCancellation(t *testing.T) {
	c, _, _ := loaded(t, scenarioSeed()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Remove(ctx, "g1"); err != nil {
		t.Fatalf("issued call must not be aborted by caller cancellation: %v", err)
	}
}
