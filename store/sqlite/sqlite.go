/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

PURPOSE:
  Persists policy versions, leave requests, per-year balances, the audit
  trail and the employee directory. The same schema ports to PostgreSQL
  with minor dialect changes.

KEY TABLES:
  leave_policies:  Append-only policy versions; exactly one is_active row
  leave_requests:  Request rows with an optimistic version column
  leave_balances:  One row per (employee_id, year) with a version column
  audit_entries:   Append-only audit trail, ordered by seq
  employees:       Directory records (hire date, manager, role)

CONCURRENCY:
  Writes to requests and balances are compare-and-swap on the version
  column: UPDATE ... WHERE version = ?. Zero affected rows means a stale
  write and is reported as leave.ErrConcurrentModification. A
  sync.RWMutex serializes writers inside one process; SQLite's own locking
  covers multiple processes.

NUMBERS:
  Day amounts are stored as TEXT decimal strings so 0.5 weights survive
  round-trips exactly.

WAL MODE:
  Opened with WAL so readers never block the writer.

USAGE:
  st, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := leave.NewService(st, leave.Config{})
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements leave.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ leave.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Policy versions (append-only)
	CREATE TABLE IF NOT EXISTS leave_policies (
		version_id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		effective_from TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		rules_json TEXT NOT NULL,
		exceptions_json TEXT,
		created_by TEXT NOT NULL
	);

	-- At most one active version
	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_single_active
		ON leave_policies(is_active) WHERE is_active = 1;

	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		day_count TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		approver_id TEXT,
		approval_comment TEXT,
		cancellation_status TEXT NOT NULL DEFAULT 'none',
		cancellation_reason TEXT,
		cancellation_by TEXT,
		policy_version_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		decided_at TEXT,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	-- Overlap and pending-count checks scan one employee's occupying requests
	CREATE INDEX IF NOT EXISTS idx_requests_employee_status
		ON leave_requests(employee_id, status, start_date);

	-- Balances, one row per employee-year
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		entitlement TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		carried_over_in TEXT NOT NULL,
		adjustments_json TEXT,
		carry_over_applied BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_year
		ON leave_balances(year);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		batch_id TEXT,
		before_json TEXT,
		after_json TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_subject
		ON audit_entries(subject_id);
	CREATE INDEX IF NOT EXISTS idx_audit_batch
		ON audit_entries(batch_id) WHERE batch_id IS NOT NULL;

	-- Employee directory
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		hire_date TEXT NOT NULL,
		termination_date TEXT,
		department TEXT,
		manager_id TEXT,
		role TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// POLICY STORE (leave.PolicyRepository)
// =============================================================================

// AppendPolicy stores p as the single active version.
func (s *Store) AppendPolicy(ctx context.Context, p leave.LeavePolicy) error {
	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	exceptionsJSON, err := json.Marshal(p.Exceptions)
	if err != nil {
		return fmt.Errorf("failed to encode exceptions: %w", err)
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE leave_policies SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
			return fmt.Errorf("failed to deactivate policies: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO leave_policies
			(version_id, seq, effective_from, is_active, rules_json, exceptions_json, created_by)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM leave_policies), ?, TRUE, ?, ?, ?)
		`,
			p.VersionID,
			p.EffectiveFrom.UTC().Format(timeLayout),
			string(rulesJSON),
			string(exceptionsJSON),
			p.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert policy: %w", err)
		}
		return nil
	})
}

const policyColumns = `version_id, effective_from, is_active, rules_json, exceptions_json, created_by`

func (s *Store) ActivePolicy(ctx context.Context) (leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM leave_policies WHERE is_active = TRUE`)
	return scanPolicy(row)
}

func (s *Store) PolicyVersion(ctx context.Context, id leave.PolicyVersionID) (leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM leave_policies WHERE version_id = ?`, id)
	return scanPolicy(row)
}

// ListPolicies returns every version, oldest first.
func (s *Store) ListPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM leave_policies ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []leave.LeavePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (leave.LeavePolicy, error) {
	var (
		p              leave.LeavePolicy
		effectiveFrom  string
		rulesJSON      string
		exceptionsJSON sql.NullString
	)
	err := row.Scan(&p.VersionID, &effectiveFrom, &p.IsActive, &rulesJSON, &exceptionsJSON, &p.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeavePolicy{}, leave.ErrPolicyNotFound
	}
	if err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("failed to scan policy: %w", err)
	}

	if p.EffectiveFrom, err = time.Parse(timeLayout, effectiveFrom); err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("bad effective_from for %s: %w", p.VersionID, err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &p.Rules); err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("bad rules for %s: %w", p.VersionID, err)
	}
	if exceptionsJSON.Valid && exceptionsJSON.String != "" && exceptionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(exceptionsJSON.String), &p.Exceptions); err != nil {
			return leave.LeavePolicy{}, fmt.Errorf("bad exceptions for %s: %w", p.VersionID, err)
		}
	}
	return p, nil
}

// =============================================================================
// REQUEST STORE (leave.RequestRepository)
// =============================================================================

const requestColumns = `id, employee_id, leave_type, start_date, end_date, day_count, reason,
	status, approver_id, approval_comment, cancellation_status, cancellation_reason,
	cancellation_by, policy_version_id, created_at, decided_at, updated_at, version`

func (s *Store) CreateRequest(ctx context.Context, r leave.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, requestArgs(r)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return r, err
}

// UpdateRequest replaces the row only if its stored version is expectedVersion.
func (s *Store) UpdateRequest(ctx context.Context, r leave.LeaveRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_requests SET
			leave_type = ?, start_date = ?, end_date = ?, day_count = ?, reason = ?,
			status = ?, approver_id = ?, approval_comment = ?, cancellation_status = ?,
			cancellation_reason = ?, cancellation_by = ?, policy_version_id = ?,
			decided_at = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`,
		r.Type,
		r.StartDate.String(),
		r.EndDate.String(),
		r.DayCount.String(),
		r.Reason,
		r.Status,
		nullString(string(r.ApproverID)),
		nullString(r.ApprovalComment),
		r.CancellationStatus,
		nullString(r.CancellationReason),
		nullString(string(r.CancellationBy)),
		r.PolicyVersionID,
		nullTime(r.DecidedAt),
		r.UpdatedAt.UTC().Format(timeLayout),
		r.Version,
		r.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return s.checkSwap(ctx, res, `SELECT COUNT(*) FROM leave_requests WHERE id = ?`, leave.ErrRequestNotFound, r.ID)
}

func (s *Store) DeleteRequest(ctx context.Context, id leave.RequestID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM leave_requests WHERE id = ? AND version = ?`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	return s.checkSwap(ctx, res, `SELECT COUNT(*) FROM leave_requests WHERE id = ?`, leave.ErrRequestNotFound, id)
}

// ListRequests returns matching requests ordered by start date.
func (s *Store) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func requestArgs(r leave.LeaveRequest) []any {
	return []any{
		r.ID,
		r.EmployeeID,
		r.Type,
		r.StartDate.String(),
		r.EndDate.String(),
		r.DayCount.String(),
		r.Reason,
		r.Status,
		nullString(string(r.ApproverID)),
		nullString(r.ApprovalComment),
		r.CancellationStatus,
		nullString(r.CancellationReason),
		nullString(string(r.CancellationBy)),
		r.PolicyVersionID,
		r.CreatedAt.UTC().Format(timeLayout),
		nullTime(r.DecidedAt),
		r.UpdatedAt.UTC().Format(timeLayout),
		r.Version,
	}
}

func scanRequest(row scanner) (leave.LeaveRequest, error) {
	var (
		r                  leave.LeaveRequest
		startDate, endDate string
		dayCount           string
		reason             sql.NullString
		approverID         sql.NullString
		approvalComment    sql.NullString
		cancellationReason sql.NullString
		cancellationBy     sql.NullString
		createdAt          string
		decidedAt          sql.NullString
		updatedAt          string
	)
	err := row.Scan(
		&r.ID, &r.EmployeeID, &r.Type, &startDate, &endDate, &dayCount, &reason,
		&r.Status, &approverID, &approvalComment, &r.CancellationStatus, &cancellationReason,
		&cancellationBy, &r.PolicyVersionID, &createdAt, &decidedAt, &updatedAt, &r.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan request: %w", err)
	}

	if r.StartDate, err = leave.ParseDate(startDate); err != nil {
		return r, err
	}
	if r.EndDate, err = leave.ParseDate(endDate); err != nil {
		return r, err
	}
	if r.DayCount, err = decimal.NewFromString(dayCount); err != nil {
		return r, fmt.Errorf("bad day_count for %s: %w", r.ID, err)
	}
	r.Reason = reason.String
	r.ApproverID = leave.EmployeeID(approverID.String)
	r.ApprovalComment = approvalComment.String
	r.CancellationReason = cancellationReason.String
	r.CancellationBy = leave.EmployeeID(cancellationBy.String)
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	r.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if decidedAt.Valid {
		t, err := time.Parse(timeLayout, decidedAt.String)
		if err == nil {
			r.DecidedAt = &t
		}
	}
	return r, nil
}

// =============================================================================
// BALANCE STORE (leave.BalanceRepository)
// =============================================================================

const balanceColumns = `employee_id, year, entitlement, used, pending, carried_over_in,
	adjustments_json, carry_over_applied, version, updated_at`

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM leave_balances WHERE employee_id = ? AND year = ?`,
		key.EmployeeID, key.Year)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveBalance{}, leave.ErrBalanceNotFound
	}
	return b, err
}

// SaveBalance inserts when expectedVersion is 0 and otherwise updates only if
// the stored version matches.
func (s *Store) SaveBalance(ctx context.Context, b leave.LeaveBalance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	adjustmentsJSON, err := json.Marshal(b.Adjustments)
	if err != nil {
		return fmt.Errorf("failed to encode adjustments: %w", err)
	}

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO leave_balances (`+balanceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			b.EmployeeID,
			b.Year,
			b.Entitlement.String(),
			b.Used.String(),
			b.Pending.String(),
			b.CarriedOverIn.String(),
			string(adjustmentsJSON),
			b.CarryOverApplied,
			b.Version,
			b.UpdatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return leave.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_balances SET
			entitlement = ?, used = ?, pending = ?, carried_over_in = ?,
			adjustments_json = ?, carry_over_applied = ?, version = ?, updated_at = ?
		WHERE employee_id = ? AND year = ? AND version = ?
	`,
		b.Entitlement.String(),
		b.Used.String(),
		b.Pending.String(),
		b.CarriedOverIn.String(),
		string(adjustmentsJSON),
		b.CarryOverApplied,
		b.Version,
		b.UpdatedAt.UTC().Format(timeLayout),
		b.EmployeeID,
		b.Year,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leave.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ListBalancesForYear(ctx context.Context, year int) ([]leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM leave_balances WHERE year = ? ORDER BY employee_id`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []leave.LeaveBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func scanBalance(row scanner) (leave.LeaveBalance, error) {
	var (
		b                                       leave.LeaveBalance
		entitlement, used, pending, carriedOver string
		adjustmentsJSON                         sql.NullString
		updatedAt                               string
	)
	err := row.Scan(
		&b.EmployeeID, &b.Year, &entitlement, &used, &pending, &carriedOver,
		&adjustmentsJSON, &b.CarryOverApplied, &b.Version, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan balance: %w", err)
	}

	for _, f := range []struct {
		dst *leave.Days
		src string
	}{
		{&b.Entitlement, entitlement},
		{&b.Used, used},
		{&b.Pending, pending},
		{&b.CarriedOverIn, carriedOver},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return b, fmt.Errorf("bad amount for %s: %w", b.Key(), err)
		}
		*f.dst = v
	}

	if adjustmentsJSON.Valid && adjustmentsJSON.String != "" && adjustmentsJSON.String != "null" {
		if err := json.Unmarshal([]byte(adjustmentsJSON.String), &b.Adjustments); err != nil {
			return b, fmt.Errorf("bad adjustments for %s: %w", b.Key(), err)
		}
	}
	b.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return b, nil
}

// =============================================================================
// AUDIT STORE (leave.AuditRepository)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e leave.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendAudit(ctx, s.db, e)
}

func appendAudit(ctx context.Context, db execer, e leave.AuditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, actor_id, action, subject_id, batch_id, before_json, after_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.ActorID,
		e.Action,
		e.SubjectID,
		nullString(e.BatchID),
		nullString(string(e.Before)),
		nullString(string(e.After)),
		e.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries in append order.
func (s *Store) QueryAudit(ctx context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(f.Actions))+")")
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	if f.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if f.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}

	query := `SELECT id, actor_id, action, subject_id, batch_id, before_json, after_json, timestamp FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var entries []leave.AuditEntry
	for rows.Next() {
		var (
			e             leave.AuditEntry
			batchID       sql.NullString
			before, after sql.NullString
			timestamp     string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.SubjectID, &batchID, &before, &after, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.BatchID = batchID.String
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		e.Timestamp, _ = time.Parse(timeLayout, timestamp)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// EMPLOYEE STORE (leave.EmployeeDirectory)
// =============================================================================

// SaveEmployee upserts an employee.
func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var termination sql.NullString
	if e.TerminationDate != nil {
		termination = sql.NullString{String: e.TerminationDate.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, hire_date, termination_date, department, manager_id, role, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hire_date = excluded.hire_date,
			termination_date = excluded.termination_date,
			department = excluded.department,
			manager_id = excluded.manager_id,
			role = excluded.role,
			updated_at = excluded.updated_at
	`,
		e.ID,
		e.HireDate.String(),
		termination,
		nullString(e.Department),
		nullString(string(e.ManagerID)),
		e.Role,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := scanEmployee(s.db.QueryRowContext(ctx, `
		SELECT id, hire_date, termination_date, department, manager_id, role
		FROM employees WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Employee{}, leave.ErrEmployeeNotFound
	}
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

// ListEmployees returns every employee ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hire_date, termination_date, department, manager_id, role
		FROM employees ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func scanEmployee(row scanner) (leave.Employee, error) {
	var (
		e                     leave.Employee
		hireDate              string
		termination           sql.NullString
		department, managerID sql.NullString
	)
	if err := row.Scan(&e.ID, &hireDate, &termination, &department, &managerID, &e.Role); err != nil {
		return leave.Employee{}, err
	}

	var err error
	if e.HireDate, err = leave.ParseDate(hireDate); err != nil {
		return leave.Employee{}, err
	}
	if termination.Valid {
		t, err := leave.ParseDate(termination.String)
		if err != nil {
			return leave.Employee{}, err
		}
		e.TerminationDate = &t
	}
	e.Department = department.String
	e.ManagerID = leave.EmployeeID(managerID.String)
	return e, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction, holding the write lock.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// checkSwap turns a zero-row compare-and-swap into ErrConcurrentModification,
// or into notFound when the row does not exist at all. Caller holds s.mu.
func (s *Store) checkSwap(ctx context.Context, res sql.Result, existsQuery string, notFound error, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, existsQuery, args...).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return leave.ErrConcurrentModification
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
