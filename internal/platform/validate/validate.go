// Package validate plugs go-playground/validator into echo's Bind/Validate
// flow and adds validators for decimal amounts.
package validate

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/pkg/money"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterValidation("money", validateMoney)
	v.RegisterValidation("positive_amount", validatePositiveAmount)
	v.RegisterValidation("decimal", validateDecimal)
	return &Validator{v: v}
}

// Validate returns a 400 listing each failing field.
func (cv *Validator) Validate(i interface{}) error {
	if err := cv.v.Struct(i); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return echo.NewHTTPError(http.StatusBadRequest, strings.Join(msgs, "; "))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Struct validates without the HTTP wrapping.
func (cv *Validator) Struct(i interface{}) error {
	return cv.v.Struct(i)
}

func parse(fl validator.FieldLevel) (decimal.Decimal, bool) {
	s := fl.Field().String()
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// decimal: any parseable decimal string.
func validateDecimal(fl validator.FieldLevel) bool {
	_, ok := parse(fl)
	return ok
}

// money: a decimal string with at most two places.
func validateMoney(fl validator.FieldLevel) bool {
	d, ok := parse(fl)
	return ok && money.IsCents(d)
}

// positive_amount: money greater than zero.
func validatePositiveAmount(fl validator.FieldLevel) bool {
	d, ok := parse(fl)
	return ok && money.IsCents(d) && d.IsPositive()
}
