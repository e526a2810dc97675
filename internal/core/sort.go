package core

import (
	"cmp"
	"slices"
)

// SortKey selects the table order.
type SortKey string

const (
	SortDateNewest  SortKey = "dateN"
	SortDateOldest  SortKey = "dateO"
	SortAmountLow   SortKey = "amountL"
	SortAmountHigh  SortKey = "amountH"
	SortCategoryAZ  SortKey = "category"
	SortUnspecified SortKey = ""
)

func (k SortKey) Valid() bool {
	switch k {
	case SortDateNewest, SortDateOldest, SortAmountLow, SortAmountHigh, SortCategoryAZ:
		return true
	}
	return false
}

// SortExpenses reorders expenses in place. The sort is stable, so ties keep
// their previous relative order.
func SortExpenses(expenses []Expense, key SortKey) {
	var fn func(a, b Expense) int
	switch key {
	case SortDateNewest:
		fn = func(a, b Expense) int { return b.Date.Compare(a.Date.Time) }
	case SortDateOldest:
		fn = func(a, b Expense) int { return a.Date.Compare(b.Date.Time) }
	case SortAmountLow:
		fn = func(a, b Expense) int { return cmp.Compare(a.Amount.Cents, b.Amount.Cents) }
	case SortAmountHigh:
		fn = func(a, b Expense) int { return cmp.Compare(b.Amount.Cents, a.Amount.Cents) }
	case SortCategoryAZ:
		fn = func(a, b Expense) int { return cmp.Compare(a.Category, b.Category) }
	default:
		return
	}
	slices.SortStableFunc(expenses, fn)
}
