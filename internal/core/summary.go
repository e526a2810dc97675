package core

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	Category Category
	Amount   Money
}

// Summary holds every figure derived from one expense snapshot.
type Summary struct {
	Total      Money
	ByCategory []CategoryAmount
	Budget     Money
	Remaining  Money // Budget - Total, may be negative
}

// bucket is the summary category of c. Stored records may carry category
// text outside the fixed set; those count as Other so the per-category
// totals always add up to the grand total.
func bucket(c Category) Category {
	if c.Valid() {
		return c
	}
	return Other
}

// TotalFor sums amounts of the expenses in category c, or of all expenses
// when c is nil.
func TotalFor(expenses []Expense, c *Category) Money {
	var total Money
	for _, e := range expenses {
		if c == nil || bucket(e.Category) == *c {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// Summarize derives the grand total, the per-category totals in fixed
// category order and the remaining budget in a single pass.
func Summarize(expenses []Expense, budget Money) Summary {
	sums := make(map[Category]Money, len(categories))
	var total Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
		sums[bucket(e.Category)] = sums[bucket(e.Category)].Add(e.Amount)
	}
	s := Summary{
		Total:      total,
		ByCategory: make([]CategoryAmount, 0, len(categories)),
		Budget:     budget,
		Remaining:  budget.Sub(total),
	}
	for _, c := range categories {
		s.ByCategory = append(s.ByCategory, CategoryAmount{Category: c, Amount: sums[c]})
	}
	return s
}
