package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Groceries     Category = "Groceries"
	Transport     Category = "Transport"
	PersonalCare  Category = "Personal Care"
	Entertainment Category = "Entertainment"
	Utilities     Category = "Utilities"
	Other         Category = "Other"
)

// DateLayout is the wire and form format of expense dates.
const DateLayout = "2006-01-02"

type (
	Category string

	// ExpenseID is the opaque identifier assigned by the store.
	ExpenseID string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Expense struct {
		ID          ExpenseID `json:"id,omitempty"`
		Category    Category  `json:"category"`
		Description string    `json:"description"`
		Amount      Money     `json:"amount"`
		Date        Date      `json:"date"`
	}
)

var categories = []Category{Groceries, Transport, PersonalCare, Entertainment, Utilities, Other}

// Categories returns the fixed category set in display order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", s)}
	}
	return c, nil
}

// UnmarshalJSON accepts both string and numeric ids.
func (id *ExpenseID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExpenseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expense id: %w", err)
	}
	*id = ExpenseID(n.String())
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON is lenient: records written by older clients may carry
// malformed dates, which decode to the zero Date instead of failing the list.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*d = Date{}
		return nil
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		*d = Date{Time: t}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*d = NewDate(t.Year(), int(t.Month()), t.Day())
		return nil
	}
	*d = Date{}
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal()), nil
}

// UnmarshalJSON accepts numbers and numeric strings ("12.50"). Records
// written by older clients may hold negative, exponent or garbage amounts:
// numbers are kept rounded to cents, anything else decodes to zero, so one
// bad record never fails the whole list.
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			raw = ""
		}
	}
	*m = moneyFromStored(raw)
	return nil
}

func moneyFromStored(raw string) Money {
	raw = strings.TrimSpace(raw)
	if cents, err := ParseDecimalToCents(raw); err == nil {
		return Money{Cents: cents}
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > float64(math.MaxInt64)/100 {
		return Money{}
	}
	return Money{Cents: int64(math.Round(v * 100))}
}

// Decimal renders the amount as a plain decimal with two fraction digits.
func (m Money) Decimal() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}

// String formats the amount for display, e.g. "$12.50" or "-$3.00".
func (m Money) String() string {
	d := m.Decimal()
	if strings.HasPrefix(d, "-") {
		return "-$" + d[1:]
	}
	return "$" + d
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
