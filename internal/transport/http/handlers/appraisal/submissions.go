package appraisalhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"appraisal/internal/domain/appraisal"
	"appraisal/internal/domain/auth"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/middleware"
	"appraisal/internal/transport/http/shared"
)

type createSubmissionRequest struct {
	PeriodID     string `json:"periodId" validate:"required"`
	EmployeeID   string `json:"employeeId" validate:"required_without=DepartmentID"`
	DepartmentID string `json:"departmentId"`
	DataSource   string `json:"dataSource" validate:"omitempty,oneof=manual import system"`
}

type entryRequest struct {
	AssignmentID string           `json:"assignmentId" validate:"required"`
	EmployeeID   string           `json:"employeeId"`
	Actual       *decimal.Decimal `json:"actual"`
	Remark       string           `json:"remark" validate:"max=2000"`
}

type entriesRequest struct {
	Revision *int64         `json:"revision"`
	Entries  []entryRequest `json:"entries" validate:"required,min=1,max=500,dive"`
}

type transitionRequest struct {
	Revision *int64 `json:"revision"`
	Reason   string `json:"reason" validate:"max=2000"`
}

func (h *Handler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var payload createSubmissionRequest
	if !shared.DecodeJSON(w, r, &payload, reqID) {
		return
	}
	scope := appraisal.Scope{EmployeeID: payload.EmployeeID, DepartmentID: payload.DepartmentID}
	out, err := h.Service.CreateSubmission(r.Context(), payload.PeriodID, scope, payload.DataSource, user.UserID)
	if err != nil {
		writeError(w, r, "submission create", err)
		return
	}
	h.record(r, user, "appraisal.submission.create", "submission", out.Submission.ID, nil, out.Submission)
	setRevision(w, out.Submission)
	api.Created(w, out, reqID)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Service.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeError(w, r, "submission get", err)
		return
	}
	setRevision(w, sub)
	api.Success(w, sub, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ListDataEntries(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeError(w, r, "entry list", err)
		return
	}
	api.Success(w, entries, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleBulkEnterData(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())

	var payload entriesRequest
	if !shared.DecodeJSON(w, r, &payload, reqID) {
		return
	}
	expected, err := expectedRevision(r, payload.Revision)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_revision", err.Error(), reqID)
		return
	}
	inputs := make([]appraisal.EntryInput, 0, len(payload.Entries))
	for _, entry := range payload.Entries {
		inputs = append(inputs, appraisal.EntryInput{
			AssignmentID: entry.AssignmentID,
			EmployeeID:   entry.EmployeeID,
			Actual:       entry.Actual,
			Remark:       entry.Remark,
		})
	}

	out, err := h.Service.BulkEnterData(r.Context(), chi.URLParam(r, "submissionID"), inputs, user.UserID, expected)
	if err != nil {
		writeError(w, r, "entry update", err)
		return
	}
	h.record(r, user, "appraisal.submission.entries", "submission", out.Submission.ID, nil, payload.Entries)
	setRevision(w, out.Submission)
	api.Success(w, out, reqID)
}

type transitionFunc func(ctx context.Context, id string, user auth.UserContext, payload transitionRequest, expected int64) (appraisal.Outcome, error)

func (h *Handler) transition(action string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		reqID := middleware.GetRequestID(r.Context())

		var payload transitionRequest
		if !shared.DecodeJSON(w, r, &payload, reqID) {
			return
		}
		expected, err := expectedRevision(r, payload.Revision)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_revision", err.Error(), reqID)
			return
		}

		// a missing submission is reported by fn itself
		before, err := h.Service.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"))
		if err != nil && !errors.Is(err, appraisal.ErrNotFound) {
			writeError(w, r, "submission "+action, err)
			return
		}
		out, err := fn(r.Context(), chi.URLParam(r, "submissionID"), user, payload, expected)
		if err != nil {
			writeError(w, r, "submission "+action, err)
			return
		}
		h.record(r, user, "appraisal.submission."+action, "submission", out.Submission.ID, statusOf(before), statusOf(out.Submission))
		setRevision(w, out.Submission)
		if action == "resubmit" {
			api.Created(w, out, reqID)
			return
		}
		api.Success(w, out, reqID)
	}
}

func statusOf(sub appraisal.Submission) any {
	if sub.ID == "" {
		return nil
	}
	return map[string]any{
		"id":            sub.ID,
		"status":        sub.Status,
		"approvalStage": sub.Stage,
		"version":       sub.Version,
		"revision":      sub.Revision,
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition("submit", func(ctx context.Context, id string, user auth.UserContext, _ transitionRequest, expected int64) (appraisal.Outcome, error) {
		return h.Service.Submit(ctx, id, user.UserID, expected)
	})(w, r)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition("approve", func(ctx context.Context, id string, user auth.UserContext, _ transitionRequest, expected int64) (appraisal.Outcome, error) {
		return h.Service.Approve(ctx, id, user.UserID, expected)
	})(w, r)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.transition("reject", func(ctx context.Context, id string, user auth.UserContext, payload transitionRequest, expected int64) (appraisal.Outcome, error) {
		return h.Service.Reject(ctx, id, user.UserID, payload.Reason, expected)
	})(w, r)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	h.transition("return", func(ctx context.Context, id string, user auth.UserContext, _ transitionRequest, expected int64) (appraisal.Outcome, error) {
		return h.Service.ReturnSubmission(ctx, id, user.UserID, expected)
	})(w, r)
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	h.transition("resubmit", func(ctx context.Context, id string, user auth.UserContext, _ transitionRequest, expected int64) (appraisal.Outcome, error) {
		return h.Service.Resubmit(ctx, id, user.UserID, expected)
	})(w, r)
}

func (h *Handler) handleScores(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Scores(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeError(w, r, "score get", err)
		return
	}
	api.Success(w, result, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.History(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeError(w, r, "history get", err)
		return
	}
	api.Success(w, history, middleware.GetRequestID(r.Context()))
}
