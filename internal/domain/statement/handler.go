package statement

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/auth"
	"github.com/rxledger/rxledger/pkg/pagination"
	"github.com/rxledger/rxledger/pkg/period"
)

type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/statements", auth.RequireRole(auth.RoleBilling, auth.RoleAuditor))
	read.GET("/monthly/:patient", h.ListMonthly)
	read.GET("/monthly/:patient/:year/:month", h.GetMonthly)
	read.GET("/financial", h.ListFinancial)
	read.GET("/financial/:year/:month", h.GetFinancial)

	write := api.Group("/statements", auth.RequireRole(auth.RoleBilling))
	write.POST("/monthly", h.GenerateMonthly)
	write.POST("/monthly/batch", h.GenerateMonthlyBatch)
	write.POST("/financial", h.GenerateFinancial)
}

// periodRequest names a period either as a calendar month or as explicit
// dates. Explicit dates win when both are given.
type periodRequest struct {
	Year        int    `json:"year" validate:"omitempty,min=2000,max=2100"`
	Month       int    `json:"month" validate:"omitempty,min=1,max=12"`
	PeriodStart string `json:"period_start" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"omitempty,datetime=2006-01-02"`
}

func (r periodRequest) bounds() (time.Time, time.Time, error) {
	if r.PeriodStart != "" || r.PeriodEnd != "" {
		start, err := period.ParseDate(r.PeriodStart)
		if err != nil {
			return start, start, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		end, err := period.ParseDate(r.PeriodEnd)
		if err != nil {
			return start, end, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return start, end, nil
	}
	if r.Year == 0 || r.Month == 0 {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "year and month, or period_start and period_end, are required")
	}
	start, end := period.Month(r.Year, time.Month(r.Month))
	return start, end, nil
}

func bindPeriod(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(req)
}

func monthParams(c echo.Context) (time.Time, time.Time, error) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 2000 || year > 2100 {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid year")
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid month")
	}
	start, end := period.Month(year, time.Month(month))
	return start, end, nil
}

type monthlyRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	periodRequest
}

func (h *Handler) GenerateMonthly(c echo.Context) error {
	var req monthlyRequest
	if err := bindPeriod(c, &req); err != nil {
		return err
	}
	start, end, err := req.bounds()
	if err != nil {
		return err
	}
	stmt, err := h.agg.GenerateMonthlyStatement(c.Request().Context(), uuid.MustParse(req.PatientID), start, end)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, stmt)
}

func (h *Handler) GenerateMonthlyBatch(c echo.Context) error {
	var req periodRequest
	if err := bindPeriod(c, &req); err != nil {
		return err
	}
	start, end, err := req.bounds()
	if err != nil {
		return err
	}
	stmts, err := h.agg.GenerateMonthlyStatements(c.Request().Context(), start, end)
	resp := map[string]interface{}{"generated": len(stmts), "data": stmts}
	if err != nil {
		resp["error"] = err.Error()
		return c.JSON(http.StatusMultiStatus, resp)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GenerateFinancial(c echo.Context) error {
	var req periodRequest
	if err := bindPeriod(c, &req); err != nil {
		return err
	}
	start, end, err := req.bounds()
	if err != nil {
		return err
	}
	stmt, err := h.agg.GenerateFinancialStatement(c.Request().Context(), start, end)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, stmt)
}

func (h *Handler) ListMonthly(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	list, err := h.agg.ListMonthly(c.Request().Context(), patientID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if list == nil {
		list = []*Monthly{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": list})
}

func (h *Handler) GetMonthly(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	start, end, err := monthParams(c)
	if err != nil {
		return err
	}
	stmt, err := h.agg.GetMonthly(c.Request().Context(), patientID, start, end)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stmt)
}

func (h *Handler) GetFinancial(c echo.Context) error {
	start, end, err := monthParams(c)
	if err != nil {
		return err
	}
	stmt, err := h.agg.GetFinancial(c.Request().Context(), start, end)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stmt)
}

// ListFinancial pages through generated financial statements, optionally
// restricted to those overlapping ?from= and ?to=.
func (h *Handler) ListFinancial(c echo.Context) error {
	var bounds [2]time.Time
	for i, name := range []string{"from", "to"} {
		d, err := period.ParseOptionalDate(c.QueryParam(name))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": "+err.Error())
		}
		if d != nil {
			bounds[i] = *d
		}
	}
	from, to := bounds[0], bounds[1]
	p := pagination.FromContext(c)
	list, total, err := h.agg.ListFinancial(c.Request().Context(), from, to, p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if list == nil {
		list = []*Financial{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, p.Limit, p.Offset))
}
