package validate

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/cirqle-payments/internal/phone"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string {
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Add appends non-nil field errors.
func (e Errs) Add(fs ...*ErrField) Errs {
	for _, f := range fs {
		if f != nil {
			e = append(e, *f)
		}
	}
	return e
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

func Positive(field string, v decimal.Decimal) *ErrField {
	if !v.IsPositive() {
		return &ErrField{Field: field, Msg: "must be greater than 0"}
	}
	return nil
}

func Phone(field, value string) *ErrField {
	if strings.TrimSpace(value) != "" && !phone.Valid(value) {
		return &ErrField{Field: field, Msg: "expected 07XXXXXXXX, 01XXXXXXXX or 254XXXXXXXXX"}
	}
	return nil
}
