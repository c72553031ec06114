package validate

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

type paymentBody struct {
	PatientID string `validate:"required,uuid"`
	Amount    string `validate:"required,positive_amount"`
	Method    string `validate:"required,oneof=cash debit credit cheque insurance"`
	Fee       string `validate:"omitempty,money"`
	Qty       string `validate:"omitempty,decimal"`
}

func TestValidator(t *testing.T) {
	v := New()
	valid := paymentBody{
		PatientID: "5f1c1a2e-4a34-4c1b-9a4a-0d8d6a2b1c11",
		Amount:    "44.46",
		Method:    "debit",
	}

	tests := []struct {
		name    string
		mutate  func(b *paymentBody)
		wantErr bool
	}{
		{"valid", func(b *paymentBody) {}, false},
		{"zero amount", func(b *paymentBody) { b.Amount = "0" }, true},
		{"negative amount", func(b *paymentBody) { b.Amount = "-5.00" }, true},
		{"fractional cents", func(b *paymentBody) { b.Amount = "1.005" }, true},
		{"not a number", func(b *paymentBody) { b.Amount = "ten" }, true},
		{"bad method", func(b *paymentBody) { b.Method = "barter" }, true},
		{"bad patient", func(b *paymentBody) { b.PatientID = "p1" }, true},
		{"fee with cents", func(b *paymentBody) { b.Fee = "12.00" }, false},
		{"fee too precise", func(b *paymentBody) { b.Fee = "12.001" }, true},
		{"qty decimal", func(b *paymentBody) { b.Qty = "2.5" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.mutate(&b)
			err := v.Validate(&b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				he, ok := err.(*echo.HTTPError)
				if !ok || he.Code != http.StatusBadRequest {
					t.Errorf("expected 400 HTTPError, got %v", err)
				}
			}
		})
	}
}
