/*
handlers.go - HTTP API handlers for the hours bank

PURPOSE:
  Exposes attendance.Service via REST. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the domain.

ENDPOINTS:
  Users:
    GET    /api/users                          List users
    POST   /api/users                          Create or update a user
    GET    /api/users/{id}                     Get user
    GET    /api/users/{id}/schedule            Weekly schedule
    PUT    /api/users/{id}/schedule            Replace weekly schedule

  Hours:
    GET    /api/users/{id}/hours               Live hours (?date=&at=)
    GET    /api/users/{id}/records             Daily records (?from=&to=)
    GET    /api/users/{id}/records/{date}      Record, computed lazily
    PUT    /api/users/{id}/records/{date}      Admin correction
    POST   /api/users/{id}/records/{date}/finalize

  Balances:
    GET    /api/users/{id}/balance             Reconciled total (?as_of=)
    GET    /api/users/{id}/balances            Per-category views (?year=)
    GET    /api/users/{id}/ledger              Entries (?category=&type=&reference_type=&from=&to=)
    POST   /api/users/{id}/ledger              Append an entry
    POST   /api/users/{id}/credits             Manual credit
    POST   /api/users/{id}/overtime            Add or use overtime
    GET    /api/users/{id}/export              .xlsx of ledger and records (?year=)

  Leave and recoveries:
    GET    /api/users/{id}/leave               List leave requests
    POST   /api/users/{id}/leave               Submit
    GET    /api/leave/{id}                     Get
    POST   /api/leave/{id}/approve|reject|cancel
    POST   /api/users/{id}/recoveries          Submit recovery
    POST   /api/recoveries/{id}/decision       Approve or reject

  Admin:
    POST   /api/admin/finalize                 Finalize a date for everyone
    POST   /api/admin/recoveries/sweep         Book due recoveries
    POST   /api/admin/accrual                  Monthly accrual
    POST   /api/admin/carryover                Year-end carryover
    POST   /api/admin/snapshots/verify         Verify (and repair) snapshots
    POST   /api/admin/snapshots/rebuild        Rebuild one snapshot
    GET    /api/admin/jobs                     Scheduler job runs

ERROR HANDLING:
  See errors.go. Two results are partial successes and come back with a
  body: an ambiguous adjustment (409 with the computed view) and a
  drifting snapshot (200 with needs_reconciliation).

SECURITY NOTE:
  No authentication. Actor identity on leave decisions comes from the body.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
	"github.com/warp/hoursbank/report"
	"github.com/warp/hoursbank/store/sqlite"
)

const moduleName = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// UserAdmin manages the user directory.
type UserAdmin interface {
	PutUser(ctx context.Context, u attendance.User) error
	GetUser(ctx context.Context, id generic.UserID) (attendance.User, error)
	ListUsers(ctx context.Context) ([]attendance.User, error)
}

// JobRunStore records scheduler runs so a run key executes once.
type JobRunStore interface {
	BeginJobRun(ctx context.Context, id, job, runKey string) (bool, error)
	FinishJobRun(ctx context.Context, job, runKey string, processed, skipped, failed int, runErr error) error
	ListJobRuns(ctx context.Context, limit int) ([]sqlite.JobRun, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *attendance.Service
	Users   UserAdmin
	Jobs    JobRunStore
	Logger  logrus.FieldLogger

	validate *validator.Validate
}

func NewHandler(svc *attendance.Service, users UserAdmin, jobs JobRunStore, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Service:  svc,
		Users:    users,
		Jobs:     jobs,
		Logger:   logger,
		validate: newValidator(),
	}
}

func (h *Handler) logError(funcName, context string, err error) {
	h.Logger.WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}).Error(err.Error())
}

// decode reads a JSON body into dst and validates it. An empty body
// decodes as {}.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %v", generic.ErrInvalidInput, err)
	}
	return h.validate.Struct(dst)
}

func userParam(r *http.Request) generic.UserID {
	return generic.UserID(chi.URLParam(r, "id"))
}

// dateQuery parses an optional YYYY-MM-DD query value.
func dateQuery(r *http.Request, key string, fallback generic.TimePoint) (generic.TimePoint, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return parseDate(key, v)
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", generic.ErrInvalidInput, key, err)
	}
	return n, nil
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		h.handleError(w, r, "ListUsers", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "CreateUser", err)
		return
	}
	user := attendance.User{
		ID:           generic.UserID(req.ID),
		Name:         req.Name,
		Email:        req.Email,
		ContractType: req.ContractType,
		Active:       req.Active == nil || *req.Active,
	}
	if user.ContractType == "" {
		user.ContractType = "full_time"
	}
	if err := h.Users.PutUser(r.Context(), user); err != nil {
		h.handleError(w, r, "CreateUser", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Users.GetUser(r.Context(), userParam(r))
	if err != nil {
		h.handleError(w, r, "GetUser", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.Service.GetSchedule(r.Context(), userParam(r))
	if err != nil {
		h.handleError(w, r, "GetSchedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(schedule))
}

func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	var req PutScheduleRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "PutSchedule", err)
		return
	}
	userID := userParam(r)
	if _, err := h.Users.GetUser(r.Context(), userID); err != nil {
		h.handleError(w, r, "PutSchedule", err)
		return
	}
	schedule, err := req.toSchedule(userID)
	if err != nil {
		h.handleError(w, r, "PutSchedule", err)
		return
	}
	if err := h.Service.PutSchedule(r.Context(), schedule); err != nil {
		h.handleError(w, r, "PutSchedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(schedule))
}

// =============================================================================
// HOURS HANDLERS
// =============================================================================

// GetHours returns the live figures for a date as of an instant.
// GET /api/users/{id}/hours?date=2025-03-04&at=2025-03-04T10:20:00Z
func (h *Handler) GetHours(w http.ResponseWriter, r *http.Request) {
	at := h.Service.Now()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.handleError(w, r, "GetHours", fmt.Errorf("%w: at: %v", generic.ErrInvalidInput, err))
			return
		}
		at = parsed
	}
	date, err := dateQuery(r, "date", generic.DateOf(at, h.Service.Location()))
	if err != nil {
		h.handleError(w, r, "GetHours", err)
		return
	}

	view, err := h.Service.ComputeRealTimeHours(r.Context(), userParam(r), date, at)
	var ambiguous *generic.AmbiguousAdjustmentError
	if errors.As(err, &ambiguous) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  CodeAmbiguous,
			Details: map[string]any{
				"chosen":     ambiguous.ChosenID,
				"candidates": ambiguous.Candidates,
				"hours":      toHoursDTO(view),
			},
		})
		return
	}
	if err != nil {
		h.handleError(w, r, "GetHours", err)
		return
	}
	writeJSON(w, http.StatusOK, toHoursDTO(view))
}

// ListRecords defaults to the current month up to today.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	today := h.Service.Today()
	from, err := dateQuery(r, "from", generic.StartOfMonth(today.Year(), today.Month()))
	if err != nil {
		h.handleError(w, r, "ListRecords", err)
		return
	}
	to, err := dateQuery(r, "to", today)
	if err != nil {
		h.handleError(w, r, "ListRecords", err)
		return
	}
	period := generic.Period{Start: from, End: to}
	if !period.Valid() {
		h.handleError(w, r, "ListRecords", fmt.Errorf("%w: from is after to", generic.ErrInvalidInput))
		return
	}
	records, err := h.Service.ListRecords(r.Context(), userParam(r), period)
	if err != nil {
		h.handleError(w, r, "ListRecords", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate("date", chi.URLParam(r, "date"))
	if err != nil {
		h.handleError(w, r, "GetRecord", err)
		return
	}
	rec, err := h.Service.DailyRecord(r.Context(), userParam(r), date)
	if err != nil {
		h.handleError(w, r, "GetRecord", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

func (h *Handler) CorrectRecord(w http.ResponseWriter, r *http.Request) {
	var req CorrectRecordRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "CorrectRecord", err)
		return
	}
	date, err := parseDate("date", chi.URLParam(r, "date"))
	if err != nil {
		h.handleError(w, r, "CorrectRecord", err)
		return
	}
	expected, err := parseHours("expected_hours", req.ExpectedHours)
	if err != nil {
		h.handleError(w, r, "CorrectRecord", err)
		return
	}
	actual, err := parseHours("actual_hours", req.ActualHours)
	if err != nil {
		h.handleError(w, r, "CorrectRecord", err)
		return
	}
	rec, err := h.Service.CorrectRecord(r.Context(), attendance.DailyAttendanceRecord{
		UserID:        userParam(r),
		Date:          date,
		ExpectedHours: expected,
		ActualHours:   actual,
		Law104:        req.Law104,
		Notes:         req.Notes,
	})
	if err != nil {
		h.handleError(w, r, "CorrectRecord", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

func (h *Handler) FinalizeRecord(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate("date", chi.URLParam(r, "date"))
	if err != nil {
		h.handleError(w, r, "FinalizeRecord", err)
		return
	}
	res, err := h.Service.FinalizeDay(r.Context(), userParam(r), date)
	if err != nil {
		h.handleError(w, r, "FinalizeRecord", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":  toRecordDTO(res.Record),
		"skipped": res.Skipped,
	})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetTotalBalance returns the reconciled total. An ambiguous day does not
// fail the request; the breakdown is returned with the ambiguity attached.
func (h *Handler) GetTotalBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateQuery(r, "as_of", h.Service.Today())
	if err != nil {
		h.handleError(w, r, "GetTotalBalance", err)
		return
	}
	b, err := h.Service.ReconcileTotalBalance(r.Context(), userParam(r), asOf)
	var ambiguous *generic.AmbiguousAdjustmentError
	if err != nil && !errors.As(err, &ambiguous) {
		h.handleError(w, r, "GetTotalBalance", err)
		return
	}
	dto := toTotalBalanceDTO(b)
	if ambiguous != nil {
		dto.Ambiguous = &ErrorResponse{
			Error:   ambiguous.Error(),
			Code:    CodeAmbiguous,
			Details: map[string]any{"chosen": ambiguous.ChosenID, "candidates": ambiguous.Candidates},
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	year, err := intQuery(r, "year", h.Service.Today().Year())
	if err != nil {
		h.handleError(w, r, "ListBalances", err)
		return
	}
	views, err := h.Service.ListBalances(r.Context(), userParam(r), year)
	if err != nil {
		h.handleError(w, r, "ListBalances", err)
		return
	}
	dtos := make([]BalanceDTO, len(views))
	for i, v := range views {
		dtos[i] = toBalanceDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns one scope. A drifting snapshot is a 200 with
// needs_reconciliation set.
// GET /api/users/{id}/balances/{category}?year=2025
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := intQuery(r, "year", h.Service.Today().Year())
	if err != nil {
		h.handleError(w, r, "GetBalance", err)
		return
	}
	scope := generic.Scope{UserID: userParam(r), Category: generic.Category(chi.URLParam(r, "category")), Year: year}
	view, err := h.Service.GetCurrentBalance(r.Context(), scope)
	if err != nil && !errors.Is(err, generic.ErrLedgerConsistency) {
		h.handleError(w, r, "GetBalance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(view))
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.EntryFilter{
		Category:      generic.Category(q.Get("category")),
		Type:          generic.EntryType(q.Get("type")),
		ReferenceType: q.Get("reference_type"),
	}
	for key, dst := range map[string]**generic.TimePoint{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(key); v != "" {
			tp, err := parseDate(key, v)
			if err != nil {
				h.handleError(w, r, "ListEntries", err)
				return
			}
			*dst = &tp
		}
	}
	entries, err := h.Service.Entries(r.Context(), userParam(r), filter)
	if err != nil {
		h.handleError(w, r, "ListEntries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req AppendEntryRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "AppendEntry", err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.handleError(w, r, "AppendEntry", err)
		return
	}
	hours, err := parseHours("hours", req.Hours)
	if err != nil {
		h.handleError(w, r, "AppendEntry", err)
		return
	}
	entry, err := h.Service.AppendLedgerEntry(r.Context(), generic.AppendInput{
		UserID:         userParam(r),
		Category:       generic.Category(req.Category),
		Date:           date,
		Type:           generic.EntryType(req.Type),
		Hours:          hours,
		Reference:      generic.Reference{Type: req.ReferenceType, ID: req.ReferenceID},
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	h.writeAppend(w, r, "AppendEntry", entry, err)
}

func (h *Handler) AddManualCredit(w http.ResponseWriter, r *http.Request) {
	var req ManualCreditRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "AddManualCredit", err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.handleError(w, r, "AddManualCredit", err)
		return
	}
	hours, err := parseHours("hours", req.Hours)
	if err != nil {
		h.handleError(w, r, "AddManualCredit", err)
		return
	}
	entry, err := h.Service.AddManualCredit(r.Context(), userParam(r), date, hours, req.Description)
	h.writeAppend(w, r, "AddManualCredit", entry, err)
}

func (h *Handler) Overtime(w http.ResponseWriter, r *http.Request) {
	var req OvertimeRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "Overtime", err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.handleError(w, r, "Overtime", err)
		return
	}
	hours, err := parseHours("hours", req.Hours)
	if err != nil {
		h.handleError(w, r, "Overtime", err)
		return
	}
	ref := generic.Reference{ID: req.ReferenceID}
	var entry generic.LedgerEntry
	if req.Action == "use" {
		entry, err = h.Service.UseOvertime(r.Context(), userParam(r), date, hours, ref, req.Description)
	} else {
		entry, err = h.Service.AddOvertime(r.Context(), userParam(r), date, hours, ref, req.Description)
	}
	h.writeAppend(w, r, "Overtime", entry, err)
}

// writeAppend answers an append. A stale snapshot means the entry was
// written: 201 with needs_reconciliation.
func (h *Handler) writeAppend(w http.ResponseWriter, r *http.Request, funcName string, entry generic.LedgerEntry, err error) {
	if err != nil && !errors.Is(err, generic.ErrSnapshotStale) {
		h.handleError(w, r, funcName, err)
		return
	}
	writeJSON(w, http.StatusCreated, AppendResultDTO{Entry: toEntryDTO(entry), NeedsReconciliation: err != nil})
}

// ExportYear streams the user's ledger and records for a year as .xlsx.
func (h *Handler) ExportYear(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	year, err := intQuery(r, "year", h.Service.Today().Year())
	if err != nil {
		h.handleError(w, r, "ExportYear", err)
		return
	}
	if _, err := h.Users.GetUser(r.Context(), userID); err != nil {
		h.handleError(w, r, "ExportYear", err)
		return
	}
	wb, err := report.ExportYear(r.Context(), h.Service, userID, year)
	if err != nil {
		h.handleError(w, r, "ExportYear", err)
		return
	}
	defer wb.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=hours-%s-%d.xlsx", userID, year))
	if err := wb.Write(w); err != nil {
		h.logError("ExportYear", "failed to write workbook", err)
	}
}

// =============================================================================
// LEAVE & RECOVERY HANDLERS
// =============================================================================

func (h *Handler) ListLeave(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Service.ListLeave(r.Context(), userParam(r))
	if err != nil {
		h.handleError(w, r, "ListLeave", err)
		return
	}
	dtos := make([]LeaveDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toLeaveDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	var body SubmitLeaveRequest
	if err := h.decode(r, &body); err != nil {
		h.handleError(w, r, "SubmitLeave", err)
		return
	}
	req, err := body.toLeave(userParam(r))
	if err != nil {
		h.handleError(w, r, "SubmitLeave", err)
		return
	}
	created, err := h.Service.SubmitLeave(r.Context(), req)
	if err != nil {
		h.handleError(w, r, "SubmitLeave", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveDTO(created))
}

func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetLeave(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, "GetLeave", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTO(req))
}

func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	h.decideLeave(w, r, "ApproveLeave", h.Service.ApproveLeave)
}

func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	h.decideLeave(w, r, "RejectLeave", h.Service.RejectLeave)
}

func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	h.decideLeave(w, r, "CancelLeave", h.Service.CancelLeave)
}

type leaveTransition func(ctx context.Context, id string, actor attendance.Actor) (attendance.LeaveRequest, error)

func (h *Handler) decideLeave(w http.ResponseWriter, r *http.Request, funcName string, move leaveTransition) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, funcName, err)
		return
	}
	updated, err := move(r.Context(), chi.URLParam(r, "id"), attendance.Actor{ID: req.ActorID, Admin: req.Admin})
	if err != nil {
		h.handleError(w, r, funcName, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTO(updated))
}

func (h *Handler) SubmitRecovery(w http.ResponseWriter, r *http.Request) {
	var req SubmitRecoveryRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "SubmitRecovery", err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.handleError(w, r, "SubmitRecovery", err)
		return
	}
	start, err := generic.ParseClock(req.StartTime)
	if err != nil {
		h.handleError(w, r, "SubmitRecovery", fmt.Errorf("%w: start_time: %v", generic.ErrInvalidInput, err))
		return
	}
	end, err := generic.ParseClock(req.EndTime)
	if err != nil {
		h.handleError(w, r, "SubmitRecovery", fmt.Errorf("%w: end_time: %v", generic.ErrInvalidInput, err))
		return
	}
	rec := attendance.RecoveryRequest{UserID: userParam(r), Date: date, StartTime: start, EndTime: end}
	if req.Hours != "" {
		if rec.Hours, err = parseHours("hours", req.Hours); err != nil {
			h.handleError(w, r, "SubmitRecovery", err)
			return
		}
	}
	created, err := h.Service.SubmitRecovery(r.Context(), rec)
	if err != nil {
		h.handleError(w, r, "SubmitRecovery", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecoveryDTO(created))
}

func (h *Handler) DecideRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryDecisionRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "DecideRecovery", err)
		return
	}
	rec, err := h.Service.DecideRecovery(r.Context(), chi.URLParam(r, "id"), req.Approve)
	if err != nil {
		h.handleError(w, r, "DecideRecovery", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecoveryDTO(rec))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// FinalizeAll defaults to yesterday.
func (h *Handler) FinalizeAll(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "FinalizeAll", err)
		return
	}
	date := h.Service.Yesterday()
	if req.Date != "" {
		var err error
		if date, err = parseDate("date", req.Date); err != nil {
			h.handleError(w, r, "FinalizeAll", err)
			return
		}
	}
	sum, err := h.Service.FinalizeAll(r.Context(), date)
	if errors.Is(err, generic.ErrBatchIncomplete) {
		h.logError("FinalizeAll", r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeIncomplete, Details: toBatchDTO(sum)})
		return
	}
	if err != nil {
		h.handleError(w, r, "FinalizeAll", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(sum))
}

func (h *Handler) SweepRecoveries(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.SweepRecoveries(r.Context())
	if err != nil {
		h.handleError(w, r, "SweepRecoveries", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(sum))
}

func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "RunAccrual", err)
		return
	}
	sum, err := h.Service.RunMonthlyAccrual(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		h.handleError(w, r, "RunAccrual", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(sum))
}

func (h *Handler) RunCarryover(w http.ResponseWriter, r *http.Request) {
	var req CarryoverRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "RunCarryover", err)
		return
	}
	sum, err := h.Service.RunCarryover(r.Context(), req.Year)
	if err != nil {
		h.handleError(w, r, "RunCarryover", err)
		return
	}
	dto := toBatchDTO(sum.BatchSummary)
	dto.CarriedOver, dto.Expired = &sum.CarriedOver, &sum.Expired
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) VerifySnapshots(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "VerifySnapshots", err)
		return
	}
	rep, err := h.Service.VerifyAll(r.Context(), req.Repair)
	if err != nil {
		h.handleError(w, r, "VerifySnapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyDTO(rep))
}

func (h *Handler) RebuildSnapshot(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if err := h.decode(r, &req); err != nil {
		h.handleError(w, r, "RebuildSnapshot", err)
		return
	}
	snap, err := h.Service.RebuildSnapshot(r.Context(), generic.Scope{
		UserID:   generic.UserID(req.UserID),
		Category: generic.Category(req.Category),
		Year:     req.Year,
	})
	if err != nil {
		h.handleError(w, r, "RebuildSnapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	if h.Jobs == nil {
		writeJSON(w, http.StatusOK, []JobRunDTO{})
		return
	}
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		h.handleError(w, r, "ListJobRuns", err)
		return
	}
	runs, err := h.Jobs.ListJobRuns(r.Context(), limit)
	if err != nil {
		h.handleError(w, r, "ListJobRuns", err)
		return
	}
	dtos := make([]JobRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = JobRunDTO{
			Job:         run.Job,
			RunKey:      run.RunKey,
			Status:      string(run.Status),
			Processed:   run.Processed,
			Skipped:     run.Skipped,
			Failed:      run.Failed,
			Error:       run.Error,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
			CompletedAt: timeString(run.CompletedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}
