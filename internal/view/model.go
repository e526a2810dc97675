// Package view turns controller snapshots into the model rendered by the
// page templates and tells open pages when to re-fetch their partials.
package view

import (
	"time"

	"spendlog/internal/controller"
	"spendlog/internal/core"
)

// TodayLayout matches the en-US short date shown in the page header.
const TodayLayout = "1/2/2006"

// Row is one table line.
type Row struct {
	ID          core.ExpenseID
	Category    string
	Description string
	Amount      string
	Date        string
	Selected    bool
}

// CategoryLine is one per-category summary figure.
type CategoryLine struct {
	Category core.Category
	Amount   string
	Color    string
}

// SortOption is one entry of the sort control.
type SortOption struct {
	Key    core.SortKey
	Label  string
	Active bool
}

// Model is everything the page and its partials need.
type Model struct {
	Version    uint64
	Today      string
	Rows       []Row
	Lines      []CategoryLine
	Total      string
	Budget     string
	BudgetRaw  string
	Remaining  string
	OverBudget bool
	Slices     []Slice
	Sorts      []SortOption
	Categories []core.Category
	CanDelete  bool
	Loaded     bool
	LoadError  string
}

var sortLabels = []SortOption{
	{Key: core.SortDateNewest, Label: "Date (newest)"},
	{Key: core.SortDateOldest, Label: "Date (oldest)"},
	{Key: core.SortAmountLow, Label: "Amount (low to high)"},
	{Key: core.SortAmountHigh, Label: "Amount (high to low)"},
	{Key: core.SortCategoryAZ, Label: "Category"},
}

// Build derives the view model from one snapshot. Totals come from the
// snapshot summary, which is computed once per state change.
func Build(s controller.Snapshot, now time.Time) Model {
	m := Model{
		Version:    s.Version,
		Today:      now.Format(TodayLayout),
		Rows:       make([]Row, 0, len(s.Expenses)),
		Total:      s.Summary.Total.String(),
		Budget:     s.Summary.Budget.String(),
		BudgetRaw:  s.Summary.Budget.Decimal(),
		Remaining:  s.Summary.Remaining.String(),
		OverBudget: s.Summary.Remaining.Cents < 0,
		Slices:     PieSlices(s.Summary),
		Categories: core.Categories(),
		CanDelete:  s.CanDeleteSelected(),
		Loaded:     s.Loaded,
		LoadError:  s.LoadError,
	}
	for _, e := range s.Expenses {
		m.Rows = append(m.Rows, Row{
			ID:          e.ID,
			Category:    string(e.Category),
			Description: e.Description,
			Amount:      e.Amount.Decimal(),
			Date:        e.Date.String(),
			Selected:    s.IsSelected(e.ID),
		})
	}
	for _, ca := range s.Summary.ByCategory {
		m.Lines = append(m.Lines, CategoryLine{
			Category: ca.Category,
			Amount:   ca.Amount.String(),
			Color:    ColorFor(ca.Category),
		})
	}
	for _, o := range sortLabels {
		o.Active = o.Key == s.SortKey
		m.Sorts = append(m.Sorts, o)
	}
	return m
}
