package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// USERS (attendance.UserDirectory interface)
// =============================================================================

// PutUser creates or updates a user.
func (s *Store) PutUser(ctx context.Context, u attendance.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract := u.ContractType
	if contract == "" {
		contract = "full_time"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, contract_type, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			contract_type = excluded.contract_type,
			active = excluded.active`,
		u.ID, u.Name, nullString(u.Email), contract, u.Active, formatNow(),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id generic.UserID) (attendance.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.queryUsers(ctx, `SELECT id, name, email, contract_type, active FROM users WHERE id = ?`, id)
	if err != nil {
		return attendance.User{}, err
	}
	if len(users) == 0 {
		return attendance.User{}, fmt.Errorf("user %s: %w", id, generic.ErrNotFound)
	}
	return users[0], nil
}

func (s *Store) ListActiveUsers(ctx context.Context) ([]attendance.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUsers(ctx, `SELECT id, name, email, contract_type, active FROM users
		WHERE active = TRUE ORDER BY id`)
}

// ListUsers returns every user, active or not.
func (s *Store) ListUsers(ctx context.Context) ([]attendance.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUsers(ctx, `SELECT id, name, email, contract_type, active FROM users ORDER BY id`)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]attendance.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []attendance.User
	for rows.Next() {
		var u attendance.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.ContractType, &u.Active); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// SCHEDULES (attendance.ScheduleStore interface)
// =============================================================================

// PutSchedule replaces all seven days of the user's schedule.
func (s *Store) PutSchedule(ctx context.Context, schedule attendance.WeeklySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatNow()
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		d := schedule.Day(wd)
		var breakMinutes sql.NullInt64
		if d.BreakMinutes != nil {
			breakMinutes = sql.NullInt64{Int64: int64(*d.BreakMinutes), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO work_schedules (user_id, weekday, is_working_day, start_time, end_time,
				break_duration, break_start_time, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, weekday) DO UPDATE SET
				is_working_day = excluded.is_working_day,
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				break_duration = excluded.break_duration,
				break_start_time = excluded.break_start_time,
				updated_at = excluded.updated_at`,
			schedule.UserID, int(wd), d.IsWorkingDay, nullClock(d.Start), nullClock(d.End),
			breakMinutes, nullClock(d.BreakStart), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save schedule for weekday %d: %w", wd, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetSchedule(ctx context.Context, userID generic.UserID) (attendance.WeeklySchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT weekday, is_working_day, start_time, end_time, break_duration, break_start_time
		FROM work_schedules WHERE user_id = ? ORDER BY weekday`, userID)
	if err != nil {
		return attendance.WeeklySchedule{}, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	schedule := attendance.WeeklySchedule{UserID: userID}
	found := false
	for rows.Next() {
		var wd int
		var working bool
		var start, end, breakStart sql.NullString
		var breakMinutes sql.NullInt64
		if err := rows.Scan(&wd, &working, &start, &end, &breakMinutes, &breakStart); err != nil {
			return attendance.WeeklySchedule{}, fmt.Errorf("failed to scan schedule: %w", err)
		}
		d := attendance.DaySchedule{Weekday: time.Weekday(wd), IsWorkingDay: working}
		if d.Start, err = parseNullClock(start); err != nil {
			return attendance.WeeklySchedule{}, err
		}
		if d.End, err = parseNullClock(end); err != nil {
			return attendance.WeeklySchedule{}, err
		}
		if d.BreakStart, err = parseNullClock(breakStart); err != nil {
			return attendance.WeeklySchedule{}, err
		}
		if breakMinutes.Valid {
			m := int(breakMinutes.Int64)
			d.BreakMinutes = &m
		}
		schedule.Days[wd] = d
		found = true
	}
	if err := rows.Err(); err != nil {
		return attendance.WeeklySchedule{}, err
	}
	if !found {
		return attendance.WeeklySchedule{}, fmt.Errorf("schedule for %s: %w", userID, generic.ErrNotFound)
	}
	return schedule, nil
}

// =============================================================================
// DAILY RECORDS (attendance.RecordStore interface)
// =============================================================================

const recordColumns = `user_id, date, expected_hours, actual_hours, balance_hours, credit_hours,
	manual_credit_hours, credit_refs, notes, origin, law104, permission_applied, finalized, updated_at`

func (s *Store) UpsertRecord(ctx context.Context, r attendance.DailyAttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO daily_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			expected_hours = excluded.expected_hours,
			actual_hours = excluded.actual_hours,
			balance_hours = excluded.balance_hours,
			credit_hours = excluded.credit_hours,
			manual_credit_hours = excluded.manual_credit_hours,
			credit_refs = excluded.credit_refs,
			notes = excluded.notes,
			origin = excluded.origin,
			law104 = excluded.law104,
			permission_applied = excluded.permission_applied,
			finalized = excluded.finalized,
			updated_at = excluded.updated_at`,
		r.UserID, r.Date.String(), r.ExpectedHours.String(), r.ActualHours.String(),
		r.BalanceHours.String(), r.CreditHours.String(), r.ManualCreditHours.String(),
		strings.Join(r.CreditRefs, ","), nullString(r.Notes), r.Origin,
		r.Law104, r.PermissionApplied, r.Finalized, updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, userID generic.UserID, date generic.TimePoint) (*attendance.DailyAttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM daily_records
		WHERE user_id = ? AND date = ?`, userID, date.String())
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

func (s *Store) ListRecords(ctx context.Context, userID generic.UserID, period generic.Period) ([]attendance.DailyAttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM daily_records
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, userID, period.Start.String(), period.End.String())
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]attendance.DailyAttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily records: %w", err)
	}
	defer rows.Close()

	var records []attendance.DailyAttendanceRecord
	for rows.Next() {
		var r attendance.DailyAttendanceRecord
		var date, expected, actual, balance, credit, manual, refs, updatedAt string
		var notes sql.NullString
		if err := rows.Scan(&r.UserID, &date, &expected, &actual, &balance, &credit,
			&manual, &refs, &notes, &r.Origin, &r.Law104, &r.PermissionApplied, &r.Finalized, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily record: %w", err)
		}
		if r.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		r.ExpectedHours = generic.MustParseDecimal(expected)
		r.ActualHours = generic.MustParseDecimal(actual)
		r.BalanceHours = generic.MustParseDecimal(balance)
		r.CreditHours = generic.MustParseDecimal(credit)
		r.ManualCreditHours = generic.MustParseDecimal(manual)
		if refs != "" {
			r.CreditRefs = strings.Split(refs, ",")
		}
		r.Notes = notes.String
		r.UpdatedAt = parseTime(updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// LEAVE REQUESTS (attendance.LeaveStore interface)
// =============================================================================

const leaveColumns = `id, user_id, kind, start_date, end_date, entry_time, exit_time, hours, full_day,
	status, approved_by, approved_at, decided_by, reason, created_at, updated_at`

func (s *Store) CreateLeave(ctx context.Context, req attendance.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO leave_requests (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, leaveArgs(req)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("leave request %s already exists: %w", req.ID, generic.ErrInvalidInput)
		}
		return fmt.Errorf("failed to create leave request: %w", err)
	}
	return nil
}

func (s *Store) UpdateLeave(ctx context.Context, req attendance.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := leaveArgs(req)
	res, err := s.db.ExecContext(ctx, `UPDATE leave_requests SET
		user_id = ?, kind = ?, start_date = ?, end_date = ?, entry_time = ?, exit_time = ?,
		hours = ?, full_day = ?, status = ?, approved_by = ?, approved_at = ?, decided_by = ?,
		reason = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, append(args[1:], req.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("leave request %s: %w", req.ID, generic.ErrNotFound)
	}
	return nil
}

func leaveArgs(req attendance.LeaveRequest) []any {
	var hours sql.NullString
	if req.Hours != nil {
		hours = sql.NullString{String: req.Hours.String(), Valid: true}
	}
	var approvedBy, decidedBy sql.NullString
	if req.ApprovedBy != nil {
		approvedBy = nullString(*req.ApprovedBy)
	}
	if req.DecidedBy != nil {
		decidedBy = nullString(*req.DecidedBy)
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := req.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	return []any{
		req.ID, req.UserID, req.Kind, req.StartDate.String(), req.EndDate.String(),
		nullClock(req.EntryTime), nullClock(req.ExitTime), hours, req.FullDay, req.Status,
		approvedBy, nullTime(req.ApprovedAt), decidedBy, nullString(req.Reason),
		createdAt.UTC().Format(time.RFC3339), updatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Store) GetLeave(ctx context.Context, id string) (attendance.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reqs, err := s.queryLeave(ctx, `SELECT `+leaveColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil {
		return attendance.LeaveRequest{}, err
	}
	if len(reqs) == 0 {
		return attendance.LeaveRequest{}, fmt.Errorf("leave request %s: %w", id, generic.ErrNotFound)
	}
	return reqs[0], nil
}

func (s *Store) ListLeave(ctx context.Context, userID generic.UserID) ([]attendance.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLeave(ctx, `SELECT `+leaveColumns+` FROM leave_requests
		WHERE user_id = ? ORDER BY start_date ASC, created_at ASC`, userID)
}

func (s *Store) ListApprovedLeave(ctx context.Context, userID generic.UserID, period generic.Period) ([]attendance.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLeave(ctx, `SELECT `+leaveColumns+` FROM leave_requests
		WHERE user_id = ? AND status = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC, id ASC`,
		userID, attendance.LeaveApproved, period.End.String(), period.Start.String())
}

func (s *Store) queryLeave(ctx context.Context, query string, args ...any) ([]attendance.LeaveRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var reqs []attendance.LeaveRequest
	for rows.Next() {
		var r attendance.LeaveRequest
		var start, end, createdAt, updatedAt string
		var entry, exit, hours, approvedBy, approvedAt, decidedBy, reason sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &start, &end, &entry, &exit, &hours,
			&r.FullDay, &r.Status, &approvedBy, &approvedAt, &decidedBy, &reason,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leave request: %w", err)
		}
		if r.StartDate, err = generic.ParseDate(start); err != nil {
			return nil, err
		}
		if r.EndDate, err = generic.ParseDate(end); err != nil {
			return nil, err
		}
		if r.EntryTime, err = parseNullClock(entry); err != nil {
			return nil, err
		}
		if r.ExitTime, err = parseNullClock(exit); err != nil {
			return nil, err
		}
		if hours.Valid {
			h, err := decimal.NewFromString(hours.String)
			if err != nil {
				return nil, fmt.Errorf("invalid hours on leave request %s: %w", r.ID, err)
			}
			r.Hours = &h
		}
		if approvedBy.Valid {
			r.ApprovedBy = &approvedBy.String
		}
		if decidedBy.Valid {
			r.DecidedBy = &decidedBy.String
		}
		r.ApprovedAt = parseNullTime(approvedAt)
		r.Reason = reason.String
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// =============================================================================
// RECOVERIES (attendance.RecoveryStore interface)
// =============================================================================

const recoveryColumns = `id, user_id, date, start_time, end_time, hours, status, balance_added,
	completed_at, created_at`

func (s *Store) CreateRecovery(ctx context.Context, rec attendance.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO recovery_requests (`+recoveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Date.String(), rec.StartTime.String(), rec.EndTime.String(),
		rec.Hours.String(), rec.Status, rec.BalanceAdded, nullTime(rec.CompletedAt),
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create recovery: %w", err)
	}
	return nil
}

func (s *Store) UpdateRecovery(ctx context.Context, rec attendance.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE recovery_requests SET
		date = ?, start_time = ?, end_time = ?, hours = ?, status = ?, balance_added = ?, completed_at = ?
		WHERE id = ?`,
		rec.Date.String(), rec.StartTime.String(), rec.EndTime.String(), rec.Hours.String(),
		rec.Status, rec.BalanceAdded, nullTime(rec.CompletedAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update recovery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recovery %s: %w", rec.ID, generic.ErrNotFound)
	}
	return nil
}

func (s *Store) GetRecovery(ctx context.Context, id string) (attendance.RecoveryRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.queryRecoveries(ctx, `SELECT `+recoveryColumns+` FROM recovery_requests WHERE id = ?`, id)
	if err != nil {
		return attendance.RecoveryRequest{}, err
	}
	if len(recs) == 0 {
		return attendance.RecoveryRequest{}, fmt.Errorf("recovery %s: %w", id, generic.ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) ListUnbookedRecoveries(ctx context.Context) ([]attendance.RecoveryRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecoveries(ctx, `SELECT `+recoveryColumns+` FROM recovery_requests
		WHERE balance_added = FALSE AND status IN (?, ?)
		ORDER BY date ASC, id ASC`, attendance.RecoveryApproved, attendance.RecoveryCompleted)
}

func (s *Store) queryRecoveries(ctx context.Context, query string, args ...any) ([]attendance.RecoveryRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recoveries: %w", err)
	}
	defer rows.Close()

	var recs []attendance.RecoveryRequest
	for rows.Next() {
		var r attendance.RecoveryRequest
		var date, hours, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &date, &r.StartTime, &r.EndTime, &hours,
			&r.Status, &r.BalanceAdded, &completedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan recovery: %w", err)
		}
		if r.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		r.Hours = generic.MustParseDecimal(hours)
		r.CompletedAt = parseNullTime(completedAt)
		r.CreatedAt = parseTime(createdAt)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// =============================================================================
// JOB RUNS - Scheduler bookkeeping
// =============================================================================

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRun is one execution of a batch job for a run key (a date, a month,
// a year).
type JobRun struct {
	ID          string
	Job         string
	RunKey      string
	Status      JobStatus
	Processed   int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// BeginJobRun claims (job, runKey). It returns false when the run already
// completed or is in progress; a failed run is claimed again.
func (s *Store) BeginJobRun(ctx context.Context, id, job, runKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM job_runs WHERE job = ? AND run_key = ?`, job, runKey,
	).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO job_runs (id, job, run_key, status, started_at)
			VALUES (?, ?, ?, ?, ?)`, id, job, runKey, JobRunning, formatNow())
		if err != nil {
			if isUniqueConstraintError(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to record job run: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to check job run: %w", err)
	case JobStatus(status) != JobFailed:
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `UPDATE job_runs SET status = ?, error = NULL, started_at = ?,
		completed_at = NULL WHERE job = ? AND run_key = ?`, JobRunning, formatNow(), job, runKey)
	if err != nil {
		return false, fmt.Errorf("failed to restart job run: %w", err)
	}
	return true, nil
}

// FinishJobRun records the outcome of a claimed run.
func (s *Store) FinishJobRun(ctx context.Context, job, runKey string, processed, skipped, failed int, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := JobCompleted
	var errText sql.NullString
	if runErr != nil {
		status = JobFailed
		errText = nullString(runErr.Error())
	}
	_, err := s.db.ExecContext(ctx, `UPDATE job_runs SET status = ?, processed = ?, skipped = ?,
		failed = ?, error = ?, completed_at = ? WHERE job = ? AND run_key = ?`,
		status, processed, skipped, failed, errText, formatNow(), job, runKey)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// ListJobRuns returns the most recent runs, newest first.
func (s *Store) ListJobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, job, run_key, status, processed, skipped, failed,
		error, started_at, completed_at FROM job_runs ORDER BY started_at DESC, job ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query job runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var r JobRun
		var errText, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.Job, &r.RunKey, &r.Status, &r.Processed, &r.Skipped,
			&r.Failed, &errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
