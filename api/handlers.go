/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave.Service via REST API. Handles HTTP request/response and JSON
  serialization, and delegates every decision to the service.

ENDPOINTS:
  Requests:
    GET    /api/requests                            List (employee_id, status)
    POST   /api/requests                            Create
    GET    /api/requests/{id}                       Get
    DELETE /api/requests/{id}                       Delete while pending
    POST   /api/requests/{id}/decision              Approve or reject
    POST   /api/requests/{id}/withdraw              Withdraw while pending
    PUT    /api/requests/{id}/dates                 Move dates while pending
    POST   /api/requests/{id}/cancellation          Ask to cancel approved leave
    POST   /api/requests/{id}/cancellation/decision Approve or reject cancellation
    POST   /api/requests/bulk-decision              Decide many requests

  Employees:
    GET    /api/employees/{id}                      Directory record
    PUT    /api/employees/{id}                      Create or replace record
    GET    /api/employees/{id}/balances/{year}      Balance for a year
    POST   /api/employees/{id}/balances/{year}/adjustments Manual correction

  Policies:
    GET    /api/policies                            Version history
    GET    /api/policies/active                     Active version
    PUT    /api/policies                            Append a new version

  Admin:
    POST   /api/carry-over/{year}                   Carry year into year+1
    GET    /api/audit                               Query audit trail

REQUEST FLOW:
  1. Read the actor from X-Actor-ID
  2. Parse path, query and body
  3. Call leave.Service
  4. Serialize the result or map the error kind to a status

ERROR HANDLING:
  Errors are returned as ErrorResponse with the taxonomy kind:
  - 400: InvalidRange, InvalidPolicy, InvalidInput
  - 401: missing actor
  - 403: NotAuthorized
  - 404: RequestNotFound, EmployeeNotFound, PolicyNotFound, BalanceNotFound
  - 409: OverlappingRequest, InvalidStateTransition, DuplicateCarryOver,
         ConcurrentModification
  - 422: InsufficientBalance, ConcurrentPendingLimitExceeded,
         NoticePeriodViolation, ConsecutiveDaysExceeded
  - 503: RetryExhausted
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service       *leave.Service
	PolicyFactory *factory.PolicyFactory

	// Ping reports storage health for /healthz. Optional.
	Ping func() error

	logger *zap.Logger
}

func NewHandler(svc *leave.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:       svc,
		PolicyFactory: factory.NewPolicyFactory(),
		logger:        logger.Named("api"),
	}
}

var errMissingActor = errors.New("missing " + ActorHeader + " header")

func actorFrom(r *http.Request) (leave.EmployeeID, error) {
	id := strings.TrimSpace(r.Header.Get(ActorHeader))
	if id == "" {
		return "", errMissingActor
	}
	return leave.EmployeeID(id), nil
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a leave request.
// POST /api/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body CreateRequestBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.EmployeeID == "" {
		body.EmployeeID = string(actor)
	}
	if leave.EmployeeID(body.EmployeeID) != actor {
		h.fail(w, r, fmt.Errorf("%w: %s may not file leave for %s", leave.ErrNotAuthorized, actor, body.EmployeeID))
		return
	}

	req, err := h.Service.CreateRequest(r.Context(), leave.CreateRequestInput{
		EmployeeID: actor,
		Type:       leave.LeaveType(body.LeaveType),
		StartDate:  body.StartDate,
		EndDate:    body.EndDate,
		Reason:     body.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetRequest returns one request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequest(r.Context(), requestID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListRequests lists requests, optionally filtered by employee and status.
// GET /api/requests?employee_id=emp-1&status=pending,approved
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.RequestFilter{EmployeeID: leave.EmployeeID(q.Get("employee_id"))}
	for _, s := range splitList(q["status"]) {
		filter.Statuses = append(filter.Statuses, leave.Status(s))
	}

	reqs, err := h.Service.ListRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []leave.LeaveRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// Decide approves or rejects a pending request.
// POST /api/requests/{id}/decision
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body DecisionBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	decision, err := leave.ParseDecision(body.Decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := h.Service.Decide(r.Context(), requestID(r), actor, decision, body.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Withdraw pulls back a pending request.
// POST /api/requests/{id}/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.Service.Withdraw(r.Context(), requestID(r), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteRequest removes a pending request.
// DELETE /api/requests/{id}
func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Service.DeleteRequest(r.Context(), requestID(r), actor); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateDates moves a pending request to new dates.
// PUT /api/requests/{id}/dates
func (h *Handler) UpdateDates(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body DatesBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.Service.UpdateRequestDates(r.Context(), requestID(r), actor, body.StartDate, body.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// RequestCancellation asks to cancel approved leave.
// POST /api/requests/{id}/cancellation
func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body CancellationBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.Service.RequestCancellation(r.Context(), requestID(r), actor, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DecideCancellation approves or rejects a pending cancellation.
// POST /api/requests/{id}/cancellation/decision
func (h *Handler) DecideCancellation(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body DecisionBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	decision, err := leave.ParseDecision(body.Decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.Service.DecideCancellation(r.Context(), requestID(r), actor, decision)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// BulkDecide applies one decision to many requests. Per-item failures are
// reported in the body; the response is 200 whenever the batch ran.
// POST /api/requests/bulk-decision
func (h *Handler) BulkDecide(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body BulkDecisionBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]leave.RequestID, len(body.IDs))
	for i, id := range body.IDs {
		ids[i] = leave.RequestID(id)
	}

	result, err := h.Service.BulkDecide(r.Context(), ids, leave.Decision(body.Decision), actor, body.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// GetEmployee returns a directory record.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Service.GetEmployee(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

// SaveEmployee creates or replaces a directory record.
// PUT /api/employees/{id}
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body EmployeeBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	emp, err := h.Service.SaveEmployee(r.Context(), leave.Employee{
		ID:              leave.EmployeeID(chi.URLParam(r, "id")),
		HireDate:        body.HireDate,
		TerminationDate: body.TerminationDate,
		Department:      body.Department,
		ManagerID:       leave.EmployeeID(body.ManagerID),
		Role:            leave.Role(body.Role),
	}, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

// GetBalance returns an employee's balance for a year.
// GET /api/employees/{id}/balances/{year}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := yearParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Service.GetBalance(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// AdjustBalance applies a signed manual correction.
// POST /api/employees/{id}/balances/{year}/adjustments
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	year, err := yearParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body AdjustmentBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.Service.AdjustBalance(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")), year, body.Delta, body.Reason, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ActivePolicy returns the active policy version.
// GET /api/policies/active
func (h *Handler) ActivePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Policies().Active(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPolicies returns every policy version, oldest first.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.Policies().History(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []leave.LeavePolicy{}
	}
	writeJSON(w, http.StatusOK, history)
}

// UpdatePolicy appends a new policy version from a factory JSON document.
// Omitted fields take their default values.
// PUT /api/policies
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var pj factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		h.fail(w, r, fmt.Errorf("%w: failed to parse policy JSON: %v", leave.ErrInvalidPolicy, err))
		return
	}
	rules, exceptions, err := h.PolicyFactory.FromJSON(pj)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.Service.UpdatePolicy(r.Context(), rules, exceptions, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunCarryOver carries unused days of {year} into the following year.
// POST /api/carry-over/{year}
func (h *Handler) RunCarryOver(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	year, err := yearParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.Service.RunCarryOver(r.Context(), year, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// QueryAudit returns audit entries matching the query parameters.
// GET /api/audit?subject_id=&actor_id=&action=&batch_id=&from=&to=&limit=
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.AuditFilter{
		SubjectID: q.Get("subject_id"),
		ActorID:   leave.EmployeeID(q.Get("actor_id")),
		BatchID:   q.Get("batch_id"),
	}
	for _, a := range splitList(q["action"]) {
		filter.Actions = append(filter.Actions, leave.AuditAction(a))
	}
	var err error
	if filter.From, err = timeParam(q.Get("from")); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = timeParam(q.Get("to")); err != nil {
		h.fail(w, r, err)
		return
	}
	if s := q.Get("limit"); s != "" {
		if filter.Limit, err = strconv.Atoi(s); err != nil || filter.Limit < 0 {
			h.fail(w, r, fmt.Errorf("%w: limit must be a non-negative integer", leave.ErrInvalidInput))
			return
		}
	}

	entries, err := h.Service.QueryAudit(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []leave.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Health reports liveness and, when configured, storage reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable", "", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, errMissingActor) {
		return http.StatusUnauthorized
	}
	switch leave.Kind(err) {
	case "InvalidRange", "InvalidPolicy", "InvalidInput":
		return http.StatusBadRequest
	case "NotAuthorized":
		return http.StatusForbidden
	case "RequestNotFound", "EmployeeNotFound", "PolicyNotFound", "BalanceNotFound":
		return http.StatusNotFound
	case "OverlappingRequest", "InvalidStateTransition", "DuplicateCarryOver", "ConcurrentModification":
		return http.StatusConflict
	case "InsufficientBalance", "ConcurrentPendingLimitExceeded", "NoticePeriodViolation", "ConsecutiveDaysExceeded":
		return http.StatusUnprocessableEntity
	case "RetryExhausted":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Internal errors are logged and their
// details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusUnauthorized {
		writeError(w, status, err.Error(), "", nil)
		return
	}
	kind := leave.Kind(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal error", kind, nil)
		return
	}
	writeError(w, status, err.Error(), kind, nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, kind string, err error) {
	resp := ErrorResponse{Error: message, Kind: kind}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeBody treats an empty body as the zero value; the service rejects
// whatever required field is then missing.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %v", leave.ErrInvalidInput, err)
	}
	return nil
}

func requestID(r *http.Request) leave.RequestID {
	return leave.RequestID(chi.URLParam(r, "id"))
}

func yearParam(r *http.Request) (int, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 {
		return 0, fmt.Errorf("%w: invalid year %q", leave.ErrInvalidInput, chi.URLParam(r, "year"))
	}
	return year, nil
}

func timeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp %q", leave.ErrInvalidInput, s)
	}
	return &t, nil
}

// splitList flattens repeated and comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
