package enrollment

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/auth"
	"github.com/rxledger/rxledger/pkg/period"
)

type Handler struct {
	resolver *Resolver
	now      func() time.Time
}

func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier, auth.RoleAuditor))
	read.GET("/patients/:id/enrollments", h.Resolve)
}

type coverageResponse struct {
	PatientID  uuid.UUID   `json:"patient_id"`
	AsOf       string      `json:"as_of"`
	SelfPay    bool        `json:"self_pay"`
	Candidates []Candidate `json:"candidates"`
}

// Resolve lists the plans a claim filled on ?as_of= would be sent to.
func (h *Handler) Resolve(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	asOf := period.Date(h.now())
	if s := c.QueryParam("as_of"); s != "" {
		if asOf, err = period.ParseDate(s); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	resp := coverageResponse{PatientID: patientID, AsOf: asOf.Format(period.Layout), Candidates: []Candidate{}}
	candidates, err := h.resolver.Resolve(c.Request().Context(), patientID, asOf)
	switch {
	case apperr.KindOf(err) == apperr.KindNoEligiblePlan:
		resp.SelfPay = true
	case err != nil:
		return apperr.ToHTTP(err)
	default:
		resp.Candidates = candidates
	}
	return c.JSON(http.StatusOK, resp)
}
