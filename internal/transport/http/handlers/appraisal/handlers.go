package appraisalhandler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"appraisal/internal/domain/appraisal"
	"appraisal/internal/domain/audit"
	"appraisal/internal/domain/auth"
	"appraisal/internal/requestctx"
	"appraisal/internal/transport/http/api"
	"appraisal/internal/transport/http/middleware"
	"appraisal/internal/transport/http/shared"
)

type Handler struct {
	Service *appraisal.Service
	Perms   middleware.PermissionStore
	Audit   *audit.Service
}

func NewHandler(service *appraisal.Service, perms middleware.PermissionStore, auditSvc *audit.Service) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: auditSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/periods", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPeriodsManage, h.Perms)).Post("/", h.handleCreatePeriod)
		r.With(middleware.RequirePermission(auth.PermPeriodsRead, h.Perms)).Get("/{periodID}", h.handleGetPeriod)
		r.With(middleware.RequirePermission(auth.PermKPIManage, h.Perms)).Post("/{periodID}/assignments", h.handleAttachAssignment)
		r.With(middleware.RequirePermission(auth.PermPeriodsRead, h.Perms)).Get("/{periodID}/weights", h.handleWeightSummary)
		r.With(middleware.RequirePermission(auth.PermPeriodsManage, h.Perms)).Post("/{periodID}/activate", h.handleMovePeriod("activate", h.Service.ActivatePeriod))
		r.With(middleware.RequirePermission(auth.PermPeriodsManage, h.Perms)).Post("/{periodID}/lock", h.handleMovePeriod("lock", h.Service.LockPeriod))
		r.With(middleware.RequirePermission(auth.PermPeriodsManage, h.Perms)).Post("/{periodID}/archive", h.handleMovePeriod("archive", h.Service.ArchivePeriod))
	})
	r.Route("/kpis", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermKPIManage, h.Perms)).Post("/", h.handleCreateKPI)
		r.With(middleware.RequirePermission(auth.PermKPIManage, h.Perms)).Put("/{kpiID}", h.handleUpdateKPI)
	})
	r.Route("/submissions", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermSubmissionsWrite, h.Perms)).Post("/", h.handleCreateSubmission)
		r.With(middleware.RequirePermission(auth.PermSubmissionsRead, h.Perms)).Get("/{submissionID}", h.handleGetSubmission)
		r.With(middleware.RequirePermission(auth.PermSubmissionsRead, h.Perms)).Get("/{submissionID}/entries", h.handleListEntries)
		r.With(middleware.RequirePermission(auth.PermSubmissionsWrite, h.Perms)).Put("/{submissionID}/entries", h.handleBulkEnterData)
		r.With(middleware.RequirePermission(auth.PermSubmissionsWrite, h.Perms)).Post("/{submissionID}/submit", h.handleSubmit)
		r.With(middleware.RequirePermission(auth.PermSubmissionsReview, h.Perms)).Post("/{submissionID}/approve", h.handleApprove)
		r.With(middleware.RequirePermission(auth.PermSubmissionsReview, h.Perms)).Post("/{submissionID}/reject", h.handleReject)
		r.With(middleware.RequirePermission(auth.PermSubmissionsReview, h.Perms)).Post("/{submissionID}/return", h.handleReturn)
		r.With(middleware.RequirePermission(auth.PermSubmissionsWrite, h.Perms)).Post("/{submissionID}/resubmit", h.handleResubmit)
		r.With(middleware.RequirePermission(auth.PermSubmissionsRead, h.Perms)).Get("/{submissionID}/scores", h.handleScores)
		r.With(middleware.RequirePermission(auth.PermSubmissionsRead, h.Perms)).Get("/{submissionID}/history", h.handleHistory)
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{appraisal.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{appraisal.ErrNotFound, http.StatusNotFound, "not_found"},
	{appraisal.ErrPeriodNotMutable, http.StatusConflict, "period_not_mutable"},
	{appraisal.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{appraisal.ErrCannotReturnFromFirstStage, http.StatusConflict, "cannot_return_from_first_stage"},
	{appraisal.ErrDefinitionInUse, http.StatusConflict, "definition_in_use"},
	{appraisal.ErrWeightSumInvalid, http.StatusUnprocessableEntity, "weight_sum_invalid"},
	{appraisal.ErrInvalidFormulaConfig, http.StatusUnprocessableEntity, "invalid_formula_config"},
	{appraisal.ErrEmptySubmission, http.StatusUnprocessableEntity, "empty_submission"},
	{appraisal.ErrUnknownAssignment, http.StatusUnprocessableEntity, "unknown_assignment"},
	{appraisal.ErrInvalidPipeline, http.StatusUnprocessableEntity, "invalid_pipeline"},
	{appraisal.ErrWrongApprover, http.StatusForbidden, "wrong_approver"},
	{appraisal.ErrMissingReason, http.StatusBadRequest, "missing_reason"},
	{appraisal.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	reqID := middleware.GetRequestID(r.Context())
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			api.Fail(w, m.status, m.code, err.Error(), reqID)
			return
		}
	}
	requestctx.Logger(r.Context()).Error(op+" failed", zap.Error(err))
	api.Fail(w, http.StatusInternalServerError, "internal_error", op+" failed", reqID)
}

func (h *Handler) record(r *http.Request, user auth.UserContext, action, entityType, entityID string, before, after any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.Record(r.Context(), user.UserID, action, entityType, entityID, middleware.GetRequestID(r.Context()), shared.ClientIP(r), before, after); err != nil {
		requestctx.Logger(r.Context()).Warn("audit "+action+" failed", zap.Error(err))
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (auth.UserContext, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
	}
	return user, ok
}

// expectedRevision picks the caller's revision from the body, then If-Match.
// Zero means the caller did not ask for a precondition.
func expectedRevision(r *http.Request, fromBody *int64) (int64, error) {
	if fromBody != nil {
		if *fromBody < 1 {
			return 0, errors.New("revision must be positive")
		}
		return *fromBody, nil
	}
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	rev, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rev < 1 {
		return 0, errors.New("If-Match must carry a submission revision")
	}
	return rev, nil
}

func setRevision(w http.ResponseWriter, sub appraisal.Submission) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(sub.Revision, 10)))
}
