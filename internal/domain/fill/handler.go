package fill

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/domain/prescription"
	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/auth"
	"github.com/rxledger/rxledger/pkg/money"
	"github.com/rxledger/rxledger/pkg/period"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	counter := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	counter.POST("/fills", h.ProcessFill)
	counter.POST("/prescriptions", h.PricePrescription)
	counter.POST("/prescriptions/:id/reprice", h.RepricePrescription)
	counter.POST("/prescriptions/:id/adjudicate", h.AdjudicatePrescription)

	billing := api.Group("", auth.RequireRole(auth.RoleBilling))
	billing.POST("/claims/:id/reverse", h.ReverseClaim)
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

type prescriptionRequest struct {
	PatientID    string `json:"patient_id" validate:"required,uuid"`
	DrugPackID   string `json:"drug_pack_id" validate:"required,uuid"`
	DispensedQty string `json:"dispensed_qty" validate:"required,decimal"`
	DaysSupply   int    `json:"days_supply" validate:"min=0"`
	FillDate     string `json:"fill_date" validate:"omitempty,datetime=2006-01-02"`
}

func (r prescriptionRequest) toCreate() (prescription.CreateRequest, error) {
	fillDate, err := period.ParseOptionalDate(r.FillDate)
	if err != nil {
		return prescription.CreateRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return prescription.CreateRequest{
		PatientID:    uuid.MustParse(r.PatientID),
		DrugPackID:   uuid.MustParse(r.DrugPackID),
		DispensedQty: decimal.RequireFromString(r.DispensedQty),
		DaysSupply:   r.DaysSupply,
		FillDate:     fillDate,
	}, nil
}

func (h *Handler) PricePrescription(c echo.Context) error {
	var req prescriptionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	in, err := req.toCreate()
	if err != nil {
		return err
	}
	rx, err := h.svc.PricePrescription(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

type repriceRequest struct {
	DrugPackID   string `json:"drug_pack_id" validate:"omitempty,uuid"`
	DispensedQty string `json:"dispensed_qty" validate:"omitempty,decimal"`
	DaysSupply   *int   `json:"days_supply" validate:"omitempty,min=0"`
}

func (h *Handler) RepricePrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req repriceRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	in := prescription.RepriceRequest{DaysSupply: req.DaysSupply}
	if req.DrugPackID != "" {
		pack := uuid.MustParse(req.DrugPackID)
		in.DrugPackID = &pack
	}
	if req.DispensedQty != "" {
		in.DispensedQty = decimal.NewNullDecimal(decimal.RequireFromString(req.DispensedQty))
	}
	rx, err := h.svc.RepricePrescription(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) AdjudicatePrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.AdjudicatePrescription(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

type fillRequest struct {
	prescriptionRequest
	Payment *struct {
		Amount    string `json:"amount" validate:"required,positive_amount"`
		Method    string `json:"method" validate:"required"`
		Reference string `json:"reference" validate:"omitempty,max=100"`
	} `json:"payment"`
}

func (h *Handler) ProcessFill(c echo.Context) error {
	var req fillRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	in, err := req.toCreate()
	if err != nil {
		return err
	}
	fill := Request{CreateRequest: in}
	if p := req.Payment; p != nil {
		fill.Payment = &PaymentRequest{Amount: money.MustParse(p.Amount), Method: p.Method}
		if p.Reference != "" {
			fill.Payment.Reference = &p.Reference
		}
	}
	res, err := h.svc.ProcessFill(c.Request().Context(), fill)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

type reverseClaimRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

func (h *Handler) ReverseClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reverseClaimRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	res, err := h.svc.ReverseClaim(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}
