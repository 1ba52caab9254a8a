package appraisalhandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"appraisal/internal/domain/appraisal"
	"appraisal/internal/domain/scoring"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/middleware"
	"appraisal/internal/transport/http/shared"
)

type createPeriodRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	StartsOn string `json:"startsOn" validate:"required"`
	EndsOn   string `json:"endsOn" validate:"required"`
}

type kpiRequest struct {
	Code    string          `json:"code" validate:"omitempty,max=64"`
	Name    string          `json:"name" validate:"required,max=200"`
	Unit    string          `json:"unit" validate:"max=32"`
	Formula scoring.Formula `json:"formula"`
}

type assignmentRequest struct {
	KPIDefinitionID string           `json:"kpiDefinitionId" validate:"required"`
	EmployeeID      string           `json:"employeeId" validate:"required_without=DepartmentID"`
	DepartmentID    string           `json:"departmentId"`
	Target          decimal.Decimal  `json:"target"`
	Challenge       *decimal.Decimal `json:"challenge"`
	Weight          decimal.Decimal  `json:"weight"`
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var payload createPeriodRequest
	if !shared.DecodeJSON(w, r, &payload, reqID) {
		return
	}
	v := shared.NewValidator()
	startsOn, _ := v.Date("startsOn", payload.StartsOn)
	endsOn, _ := v.Date("endsOn", payload.EndsOn)
	v.DateOrder("startsOn", startsOn, "endsOn", endsOn)
	if v.Reject(w, reqID) {
		return
	}

	period, err := h.Service.CreatePeriod(r.Context(), payload.Name, startsOn, endsOn)
	if err != nil {
		writeError(w, r, "period create", err)
		return
	}
	h.record(r, user, "appraisal.period.create", "period", period.ID, nil, period)
	api.Created(w, period, reqID)
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.Service.GetPeriod(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, r, "period get", err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

type periodMove func(ctx context.Context, id, actor string) (appraisal.Period, error)

func (h *Handler) handleMovePeriod(action string, move periodMove) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		periodID := chi.URLParam(r, "periodID")
		period, err := move(r.Context(), periodID, user.UserID)
		if err != nil {
			writeError(w, r, "period "+action, err)
			return
		}
		h.record(r, user, "appraisal.period."+action, "period", period.ID, nil, map[string]any{"state": period.State})
		api.Success(w, period, middleware.GetRequestID(r.Context()))
	}
}

func (h *Handler) handleAttachAssignment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var payload assignmentRequest
	if !shared.DecodeJSON(w, r, &payload, reqID) {
		return
	}
	assignment, summary, err := h.Service.AttachAssignment(r.Context(), appraisal.Assignment{
		PeriodID:        chi.URLParam(r, "periodID"),
		KPIDefinitionID: payload.KPIDefinitionID,
		Scope:           appraisal.Scope{EmployeeID: payload.EmployeeID, DepartmentID: payload.DepartmentID},
		Target:          payload.Target,
		Challenge:       payload.Challenge,
		Weight:          payload.Weight,
	})
	if err != nil {
		writeError(w, r, "assignment attach", err)
		return
	}
	h.record(r, user, "appraisal.assignment.create", "assignment", assignment.ID, nil, assignment)
	api.Created(w, map[string]any{"assignment": assignment, "weights": summary}, reqID)
}

func (h *Handler) handleWeightSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.WeightSummary(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, r, "weight summary", err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateKPI(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var payload kpiRequest
	if !shared.DecodeJSON(w, r, &payload, reqID) {
		return
	}
	if payload.Code == "" {
		v := shared.NewValidator()
		v.Add("code", "is required")
		v.Reject(w, reqID)
		return
	}
	def, err := h.Service.CreateKPIDefinition(r.Context(), appraisal.KPIDefinition{
		Code:    payload.Code,
		Name:    payload.Name,
		Unit:    payload.Unit,
		Formula: payload.Formula,
	})
	if err != nil {
		writeError(w, r, "kpi create", err)
		return
	}
	h.record(r, user, "appraisal.kpi.create", "kpi_definition", def.ID, nil, def)
	api.Created(w, def, reqID)
}

func (h *Handler) handleUpdateKPI(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var payload kpiRequest
	if !shared.DecodeJSON(w, r, &payload, reqID) {
		return
	}
	def, err := h.Service.UpdateKPIDefinition(r.Context(), appraisal.KPIDefinition{
		ID:      chi.URLParam(r, "kpiID"),
		Name:    payload.Name,
		Unit:    payload.Unit,
		Formula: payload.Formula,
	})
	if err != nil {
		writeError(w, r, "kpi update", err)
		return
	}
	h.record(r, user, "appraisal.kpi.update", "kpi_definition", def.ID, nil, def)
	api.Success(w, def, reqID)
}
