package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/auth"
	"github.com/rxledger/rxledger/pkg/money"
	"github.com/rxledger/rxledger/pkg/pagination"
	"github.com/rxledger/rxledger/pkg/period"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier, auth.RoleAuditor))
	read.GET("/invoices", h.ListInvoices)
	read.GET("/invoices/:id", h.GetInvoice)
	read.GET("/invoices/:id/adjustments", h.ListAdjustments)
	read.GET("/patients/:id/account-statement", h.AccountStatement)
	read.GET("/prescriptions/:id/invoice", h.InvoiceForPrescription)
	read.GET("/payments/:id", h.GetPayment)

	cash := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	cash.POST("/payments", h.RecordPayment)
	cash.POST("/payments/:id/allocations", h.AllocatePayment)

	billing := api.Group("", auth.RequireRole(auth.RoleBilling))
	billing.POST("/payments/:id/reverse", h.ReversePayment)
	billing.POST("/invoices/mark-overdue", h.MarkOverdue)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(req)
}

// -- Invoices --

func (h *Handler) ListInvoices(c echo.Context) error {
	var f InvoiceFilter
	if s := c.QueryParam("patient_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	switch s := InvoiceStatus(c.QueryParam("status")); s {
	case "", InvoicePending, InvoicePartial, InvoicePaid, InvoiceOverdue:
		f.Status = s
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	var err error
	if f.From, err = period.ParseOptionalDate(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if f.To, err = period.ParseOptionalDate(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	pg := pagination.FromContext(c)
	items, total, err := h.ledger.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) InvoiceForPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.InvoiceForPrescription(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListAdjustments(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	adjs, err := h.ledger.ListAdjustments(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if adjs == nil {
		adjs = []*Adjustment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": adjs})
}

func (h *Handler) AccountStatement(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	stmt, err := h.ledger.AccountStatement(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stmt)
}

type markOverdueRequest struct {
	AsOf string `json:"as_of"`
}

func (h *Handler) MarkOverdue(c echo.Context) error {
	var req markOverdueRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	asOf := time.Now()
	if req.AsOf != "" {
		var err error
		if asOf, err = period.ParseDate(req.AsOf); err != nil {
			return apperr.ToHTTP(apperr.InvalidInput("invalid as_of: %v", err))
		}
	}
	marked, err := h.ledger.MarkOverdue(c.Request().Context(), asOf)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if marked == nil {
		marked = []*Invoice{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"marked": len(marked), "data": marked})
}

// -- Payments --

type recordPaymentRequest struct {
	PatientID   string `json:"patient_id" validate:"required,uuid"`
	Amount      string `json:"amount" validate:"required,positive_amount"`
	Method      string `json:"method" validate:"required"`
	PaymentDate string `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Reference   string `json:"reference" validate:"omitempty,max=100"`
	InvoiceID   string `json:"invoice_id" validate:"omitempty,uuid"`
}

type recordPaymentResponse struct {
	Payment    *Payment    `json:"payment"`
	Allocation *Allocation `json:"allocation,omitempty"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var req recordPaymentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	in := RecordPaymentRequest{
		PatientID: uuid.MustParse(req.PatientID),
		Amount:    money.MustParse(req.Amount),
		Method:    req.Method,
	}
	if req.Reference != "" {
		in.Reference = &req.Reference
	}
	if req.InvoiceID != "" {
		id := uuid.MustParse(req.InvoiceID)
		in.InvoiceID = &id
	}
	var err error
	if in.PaymentDate, err = period.ParseOptionalDate(req.PaymentDate); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, alloc, err := h.ledger.RecordPayment(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, recordPaymentResponse{Payment: p, Allocation: alloc})
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.ledger.GetPayment(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

type allocateRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required,uuid"`
	Amount    string `json:"amount" validate:"required,positive_amount"`
}

// AllocatePayment answers 201 for a new allocation and 200 when the same
// allocation already existed.
func (h *Handler) AllocatePayment(c echo.Context) error {
	paymentID, err := pathID(c)
	if err != nil {
		return err
	}
	var req allocateRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	alloc, created, err := h.ledger.AllocatePayment(c.Request().Context(), paymentID,
		uuid.MustParse(req.InvoiceID), money.MustParse(req.Amount))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, alloc)
}

type reversePaymentRequest struct {
	Reference string `json:"reference" validate:"omitempty,max=100"`
}

func (h *Handler) ReversePayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reversePaymentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	var ref *string
	if req.Reference != "" {
		ref = &req.Reference
	}
	rev, allocs, err := h.ledger.ReversePayment(c.Request().Context(), id, ref)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if allocs == nil {
		allocs = []*Allocation{}
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"payment": rev, "allocations": allocs})
}
