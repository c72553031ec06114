package masterdata

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/rxledger/rxledger/internal/platform/apperr"
	"github.com/rxledger/rxledger/internal/platform/auth"
	"github.com/rxledger/rxledger/pkg/pagination"
	"github.com/rxledger/rxledger/pkg/period"
)

// Handler exposes the minimal master-data intake the engine needs to run.
// Maintenance beyond create/read belongs to upstream systems.
type Handler struct {
	dir *Directory
}

func NewHandler(dir *Directory) *Handler {
	return &Handler{dir: dir}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier, auth.RoleAuditor))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/drugs/:id", h.GetDrug)
	read.GET("/drugs/:id/packs", h.ListPacks)
	read.GET("/packs/:id", h.GetPack)
	read.GET("/plans/:id", h.GetPlan)
	read.GET("/plans/:id/subplans", h.ListSubPlans)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/patients", h.CreatePatient)
	write.POST("/drugs", h.CreateDrug)
	write.POST("/drugs/:id/packs", h.CreatePack)
	write.POST("/plans", h.CreatePlan)
	write.POST("/plans/:id/subplans", h.CreateSubPlan)
	write.POST("/patients/:id/enrollments", h.CreateEnrollment)
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

func optionalDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -- Patients --

type createPatientRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Province  string `json:"province" validate:"required,max=8"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	birth, err := period.ParseOptionalDate(req.BirthDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Patient{FirstName: req.FirstName, LastName: req.LastName, BirthDate: birth, Province: req.Province}
	if err := h.dir.CreatePatient(c.Request().Context(), p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.dir.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.dir.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Drugs --

type createDrugRequest struct {
	DIN         string `json:"din" validate:"omitempty,max=20"`
	BrandName   string `json:"brand_name" validate:"required,max=200"`
	GenericName string `json:"generic_name" validate:"omitempty,max=200"`
	Schedule    string `json:"schedule" validate:"required,oneof=Rx OTC"`
}

func (h *Handler) CreateDrug(c echo.Context) error {
	var req createDrugRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	d := &Drug{
		DIN:         optionalString(req.DIN),
		BrandName:   req.BrandName,
		GenericName: optionalString(req.GenericName),
		Schedule:    Schedule(req.Schedule),
	}
	if err := h.dir.CreateDrug(c.Request().Context(), d); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.dir.GetDrug(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

type createPackRequest struct {
	Strength    string `json:"strength" validate:"omitempty,max=50"`
	PackSize    string `json:"pack_size" validate:"omitempty,decimal"`
	AcqCost     string `json:"acq_cost" validate:"omitempty,decimal"`
	SellingCost string `json:"selling_cost" validate:"omitempty,decimal"`
}

func (h *Handler) CreatePack(c echo.Context) error {
	drugID, err := pathID(c)
	if err != nil {
		return err
	}
	var req createPackRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p := &DrugPack{
		DrugID:      drugID,
		Strength:    optionalString(req.Strength),
		PackSize:    optionalDecimal(req.PackSize).Decimal,
		AcqCost:     optionalDecimal(req.AcqCost),
		SellingCost: optionalDecimal(req.SellingCost),
	}
	if err := h.dir.CreatePack(c.Request().Context(), p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPack(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.dir.GetPack(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPacks(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	packs, err := h.dir.ListPacks(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, packs)
}

// -- Plans --

type createPlanRequest struct {
	Code         string `json:"code" validate:"required,max=20"`
	Description  string `json:"description" validate:"omitempty,max=200"`
	Province     string `json:"province" validate:"omitempty,max=8"`
	IsProvincial bool   `json:"is_provincial"`
}

func (h *Handler) CreatePlan(c echo.Context) error {
	var req createPlanRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p := &BenefitPlan{
		Code:         req.Code,
		Description:  optionalString(req.Description),
		Province:     optionalString(req.Province),
		IsProvincial: req.IsProvincial,
	}
	if err := h.dir.CreatePlan(c.Request().Context(), p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPlan(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.dir.GetPlan(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

type createSubPlanRequest struct {
	Code         string `json:"code" validate:"required,max=20"`
	Description  string `json:"description" validate:"omitempty,max=200"`
	DefSubPlan   bool   `json:"def_sub_plan"`
	CarrierIDReq bool   `json:"carrier_id_req"`
	GroupReq     bool   `json:"group_req"`
	ClientReq    bool   `json:"client_req"`
	CPHAReq      bool   `json:"cpha_req"`
	RelReq       bool   `json:"rel_req"`
	ExpiryReq    bool   `json:"expiry_req"`
	BirthReq     bool   `json:"birth_req"`
	CoversOTC    bool   `json:"covers_otc"`
	CoverageRate string `json:"coverage_rate" validate:"omitempty,decimal"`
}

func (h *Handler) CreateSubPlan(c echo.Context) error {
	planID, err := pathID(c)
	if err != nil {
		return err
	}
	var req createSubPlanRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	sp := &SubPlan{
		PlanID:       planID,
		Code:         req.Code,
		Description:  optionalString(req.Description),
		DefSubPlan:   req.DefSubPlan,
		CarrierIDReq: req.CarrierIDReq,
		GroupReq:     req.GroupReq,
		ClientReq:    req.ClientReq,
		CPHAReq:      req.CPHAReq,
		RelReq:       req.RelReq,
		ExpiryReq:    req.ExpiryReq,
		BirthReq:     req.BirthReq,
		CoversOTC:    req.CoversOTC,
		CoverageRate: optionalDecimal(req.CoverageRate),
	}
	if err := h.dir.CreateSubPlan(c.Request().Context(), sp); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, sp)
}

func (h *Handler) ListSubPlans(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	subs, err := h.dir.ListSubPlans(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, subs)
}

// -- Enrollments --

type createEnrollmentRequest struct {
	PlanID              string `json:"plan_id" validate:"required,uuid"`
	SubPlanID           string `json:"sub_plan_id" validate:"omitempty,uuid"`
	Sequence            int    `json:"sequence" validate:"required,min=1"`
	CarrierID           string `json:"carrier_id" validate:"omitempty,max=40"`
	GroupID             string `json:"group_id" validate:"omitempty,max=40"`
	ClientID            string `json:"client_id" validate:"omitempty,max=40"`
	CPHACode            string `json:"cpha_code" validate:"omitempty,max=20"`
	Relationship        string `json:"relationship" validate:"omitempty,max=20"`
	CardholderBirthDate string `json:"cardholder_birth_date" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate          string `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) CreateEnrollment(c echo.Context) error {
	patientID, err := pathID(c)
	if err != nil {
		return err
	}
	var req createEnrollmentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	e := &Enrollment{
		PatientID:    patientID,
		PlanID:       uuid.MustParse(req.PlanID),
		Sequence:     req.Sequence,
		CarrierID:    optionalString(req.CarrierID),
		GroupID:      optionalString(req.GroupID),
		ClientID:     optionalString(req.ClientID),
		CPHACode:     optionalString(req.CPHACode),
		Relationship: optionalString(req.Relationship),
	}
	if req.SubPlanID != "" {
		sp := uuid.MustParse(req.SubPlanID)
		e.SubPlanID = &sp
	}
	if e.CardholderBirthDate, err = period.ParseOptionalDate(req.CardholderBirthDate); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if e.ExpiryDate, err = period.ParseOptionalDate(req.ExpiryDate); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.CreateEnrollment(c.Request().Context(), e); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}
