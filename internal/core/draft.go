package core

import "strings"

// Field names an editable expense column.
type Field string

const (
	FieldCategory    Field = "category"
	FieldDescription Field = "description"
	FieldAmount      Field = "amount"
	FieldDate        Field = "date"
)

// Draft is an expense as typed into the add form, before the store
// assigns an id.
type Draft struct {
	Category    string `validate:"required,category"`
	Description string `validate:"max=200"`
	Amount      string `validate:"required,amount"`
	Date        string `validate:"required,isodate"`
}

// Patch carries exactly one changed field of an inline edit.
type Patch struct {
	Field Field  `validate:"required,oneof=category description amount date"`
	Value string `validate:"max=200"`
}

// Expense converts a validated draft. Conversion errors are reported as
// validation failures.
func (d Draft) Expense() (Expense, error) {
	c, err := ParseCategory(d.Category)
	if err != nil {
		return Expense{}, err
	}
	amount, err := ParseAmount(d.Amount)
	if err != nil {
		return Expense{}, err
	}
	date, err := ParseDate(d.Date)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		Category:    c,
		Description: strings.TrimSpace(d.Description),
		Amount:      amount,
		Date:        date,
	}, nil
}

// Body returns the JSON document for a partial update, typed per field.
func (p Patch) Body() (map[string]any, error) {
	switch p.Field {
	case FieldCategory:
		c, err := ParseCategory(p.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{string(p.Field): c}, nil
	case FieldDescription:
		return map[string]any{string(p.Field): strings.TrimSpace(p.Value)}, nil
	case FieldAmount:
		m, err := ParseAmount(p.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{string(p.Field): m}, nil
	case FieldDate:
		d, err := ParseDate(p.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{string(p.Field): d}, nil
	default:
		return nil, &ValidationError{Field: "field", Reason: "unknown field " + string(p.Field)}
	}
}

// Value returns the display value of field f.
func (e Expense) Value(f Field) string {
	switch f {
	case FieldCategory:
		return string(e.Category)
	case FieldDescription:
		return e.Description
	case FieldAmount:
		return e.Amount.Decimal()
	case FieldDate:
		return e.Date.String()
	}
	return ""
}
