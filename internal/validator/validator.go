// Package validator checks user input before it reaches the store.
package validator

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"spendlog/internal/core"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// category: one of the fixed expense categories
	_ = validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return core.Category(strings.TrimSpace(fl.Field().String())).Valid()
	})

	// amount: non-negative decimal, dot or comma separator
	_ = validate.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := core.ParseDecimalToCents(fl.Field().String())
		return err == nil
	})

	// isodate: "2025-01-31"
	_ = validate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(core.DateLayout, strings.TrimSpace(fl.Field().String()))
		return err == nil
	})
}

// Draft validates the add form.
func Draft(d core.Draft) error {
	return translate(validate.Struct(d))
}

// Patch validates an inline edit, including the rule of the edited field.
func Patch(p core.Patch) error {
	if err := translate(validate.Struct(p)); err != nil {
		return err
	}
	var rule string
	switch p.Field {
	case core.FieldCategory:
		rule = "required,category"
	case core.FieldAmount:
		rule = "required,amount"
	case core.FieldDate:
		rule = "required,isodate"
	default:
		return nil
	}
	if err := validate.Var(p.Value, rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &core.ValidationError{Field: string(p.Field), Reason: reason(verrs[0].Tag(), verrs[0].Param())}
		}
		return &core.ValidationError{Field: string(p.Field), Reason: err.Error()}
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &core.ValidationError{Field: "input", Reason: err.Error()}
	}
	fe := verrs[0]
	return &core.ValidationError{Field: strings.ToLower(fe.Field()), Reason: reason(fe.Tag(), fe.Param())}
}

func reason(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "category":
		return "must be one of the fixed categories"
	case "amount":
		return "must be a non-negative number"
	case "isodate":
		return "must be a date in YYYY-MM-DD format"
	case "max":
		return "must be at most " + param + " characters"
	case "oneof":
		return "must be one of: " + param
	}
	return "failed " + tag
}
