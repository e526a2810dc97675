package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(" " + string(c) + " ")
		if err != nil || got != c {
			t.Fatalf("ParseCategory(%q) = %q, %v", c, got, err)
		}
	}
	if _, err := ParseCategory("Rent"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation failure for unknown category, got %v", err)
	}
	if len(Categories()) != 6 {
		t.Fatalf("expected six fixed categories")
	}
}

func TestExpenseUnmarshalLenient(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		id    ExpenseID
		cents int64
		date  string
	}{
		{"string id and amount", `{"id":"a1","category":"Groceries","description":"milk","amount":"4.50","date":"2025-03-01"}`, "a1", 450, "2025-03-01"},
		{"numeric id and amount", `{"id":7,"category":"Transport","description":"bus","amount":2.5,"date":"2025-03-02"}`, "7", 250, "2025-03-02"},
		{"empty amount and bad date", `{"id":"x","category":"Other","description":"","amount":"","date":"yesterday"}`, "x", 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e Expense
			if err := json.Unmarshal([]byte(tc.in), &e); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if e.ID != tc.id || e.Amount.Cents != tc.cents || e.Date.String() != tc.date {
				t.Fatalf("unexpected expense: %+v", e)
			}
		})
	}

}

func TestStoredAmountsDecodeLeniently(t *testing.T) {
	cases := []struct {
		amount string
		cents  int64
	}{
		{`"-5"`, -500},
		{`-2.25`, -225},
		{`1e2`, 10000},
		{`"1e2"`, 10000},
		{`"abc"`, 0},
		{`"1.٣"`, 0},
		{`null`, 0},
		{`true`, 0},
	}
	for _, tc := range cases {
		var e Expense
		in := `{"id":"1","category":"Other","amount":` + tc.amount + `,"date":"2025-01-01"}`
		if err := json.Unmarshal([]byte(in), &e); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.amount, err)
		}
		if e.Amount.Cents != tc.cents {
			t.Fatalf("%s: cents = %d, want %d", tc.amount, e.Amount.Cents, tc.cents)
		}
	}

	var list []Expense
	body := `[{"id":"1","category":"Groceries","amount":"40","date":"2025-01-01"},{"id":"2","category":"Other","amount":"-5","date":"2025-01-02"}]`
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("one bad record failed the list: %v", err)
	}
	if len(list) != 2 || list[0].Amount.Cents != 4000 || list[1].Amount.Cents != -500 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestExpenseMarshal(t *testing.T) {
	e := Expense{Category: PersonalCare, Description: "soap", Amount: Money{Cents: 399}, Date: NewDate(2025, 1, 9)}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"category":"Personal Care","description":"soap","amount":3.99,"date":"2025-01-09"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestDraftExpense(t *testing.T) {
	good := Draft{Category: "Utilities", Description: " power ", Amount: "60,10", Date: "2025-02-28"}
	e, err := good.Expense()
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if e.Category != Utilities || e.Description != "power" || e.Amount.Cents != 6010 || e.Date.String() != "2025-02-28" {
		t.Fatalf("unexpected expense: %+v", e)
	}

	bads := []Draft{
		{Category: "Rent", Amount: "1", Date: "2025-01-01"},
		{Category: "Other", Amount: "x", Date: "2025-01-01"},
		{Category: "Other", Amount: "1", Date: "01/01/2025"},
	}
	for i, d := range bads {
		if _, err := d.Expense(); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation failure, got %v", i, err)
		}
	}
}

func TestPatchBody(t *testing.T) {
	body, err := Patch{Field: FieldAmount, Value: "7.5"}.Body()
	if err != nil {
		t.Fatalf("amount patch: %v", err)
	}
	b, _ := json.Marshal(body)
	if string(b) != `{"amount":7.50}` {
		t.Fatalf("unexpected body %s", b)
	}
	if _, err := (Patch{Field: FieldDate, Value: "tomorrow"}).Body(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation failure for bad date, got %v", err)
	}
	if _, err := (Patch{Field: "id", Value: "1"}).Body(); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}
