/*
workflow.go - Request lifecycle operations

PURPOSE:
  Service is the entry point the API shell calls. It composes the pure
  components (BusinessDayCounter, ConflictGuard, EntitlementCalculator) with
  the stateful ones (PolicyStore, BalanceLedger, AuditTrail) and moves each
  request through its state machine.

STATE MACHINE:
  pending ──approve──▶ approved ──request_cancellation──▶ cancellation_requested
     │                    ▲                                    │        │
     ├──reject──▶ rejected └──────────reject_cancellation──────┘        │
     └──withdraw─▶ withdrawn              approve_cancellation──▶ cancelled

LEDGER EFFECTS:
  create                 reserve
  approve                commit
  reject / withdraw      release
  delete (pending)       release
  edit dates (pending)   re-reserve
  approve cancellation   refund

ORDERING:
  Each operation holds the employee lock for its whole duration, calls the
  ledger (which takes the balance lock) and then writes the request with a
  version check. If the request write fails the ledger change is undone so
  no partial state survives.
*/
package leave

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActor is recorded for changes not made by a person, such as the
// initial policy seeded at startup.
const SystemActor EmployeeID = "system"

const defaultBulkParallelism = 4

type Service struct {
	store    Store
	policies *PolicyStore
	ledger   *BalanceLedger
	audit    *AuditTrail
	guard    ConflictGuard
	counter  BusinessDayCounter
	authz    Authorizer
	locker   Locker
	clock    Clock

	bulkParallelism int

	logger      *zap.Logger
	bulkLogger  *zap.Logger
	carryLogger *zap.Logger
}

type Config struct {
	Locker           Locker
	Clock            Clock
	Logger           *zap.Logger
	Publisher        Publisher
	Authorizer       Authorizer
	LedgerMaxRetries int
	BulkParallelism  int
}

func NewService(store Store, cfg Config) *Service {
	if cfg.Locker == nil {
		cfg.Locker = NewKeyedMutex()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = DirectoryAuthorizer{Directory: store}
	}
	if cfg.BulkParallelism <= 0 {
		cfg.BulkParallelism = defaultBulkParallelism
	}

	policies := NewPolicyStore(store, cfg.Clock)
	audit := NewAuditTrail(store, cfg.Publisher, cfg.Clock, cfg.Logger)
	ledger := NewBalanceLedger(store, store, policies, audit, LedgerConfig{
		Locker:     cfg.Locker,
		Clock:      cfg.Clock,
		MaxRetries: cfg.LedgerMaxRetries,
		Logger:     cfg.Logger,
	})

	return &Service{
		store:           store,
		policies:        policies,
		ledger:          ledger,
		audit:           audit,
		guard:           NewConflictGuard(cfg.Clock),
		authz:           cfg.Authorizer,
		locker:          cfg.Locker,
		clock:           cfg.Clock,
		bulkParallelism: cfg.BulkParallelism,
		logger:          cfg.Logger.Named("leave.workflow"),
		bulkLogger:      cfg.Logger.Named("leave.bulk"),
		carryLogger:     cfg.Logger.Named("leave.carryover"),
	}
}

func (s *Service) Policies() *PolicyStore { return s.policies }

// =============================================================================
// CREATE
// =============================================================================

type CreateRequestInput struct {
	EmployeeID EmployeeID
	Type       LeaveType
	StartDate  Date
	EndDate    Date
	Reason     string
}

// CreateRequest counts the days, validates conflicts and reserves the balance,
// in that order. Any failure leaves no trace.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (LeaveRequest, error) {
	log := s.logger.With(zap.String("employee_id", string(in.EmployeeID)))
	log.Debug("create leave request",
		zap.Stringer("start", in.StartDate),
		zap.Stringer("end", in.EndDate),
		zap.String("type", string(in.Type)),
	)

	if _, err := ParseLeaveType(string(in.Type)); err != nil {
		return LeaveRequest{}, err
	}
	emp, err := s.store.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return LeaveRequest{}, err
	}
	policy, err := s.policies.Active(ctx)
	if err != nil {
		return LeaveRequest{}, err
	}
	days, err := s.chargeableDays(emp, in.StartDate, in.EndDate, policy)
	if err != nil {
		log.Warn("invalid leave range", zap.Error(err))
		return LeaveRequest{}, err
	}

	unlock, err := s.lockEmployee(ctx, in.EmployeeID)
	if err != nil {
		return LeaveRequest{}, err
	}
	defer unlock()

	existing, err := s.occupying(ctx, in.EmployeeID)
	if err != nil {
		return LeaveRequest{}, err
	}
	candidate := Candidate{EmployeeID: in.EmployeeID, Type: in.Type, Start: in.StartDate, End: in.EndDate}
	if err := s.guard.Validate(candidate, existing, policy); err != nil {
		log.Warn("leave request rejected by conflict guard", zap.Error(err))
		return LeaveRequest{}, err
	}

	now := s.clock()
	req := LeaveRequest{
		ID:                 RequestID(uuid.NewString()),
		EmployeeID:         in.EmployeeID,
		Type:               in.Type,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		DayCount:           days,
		Reason:             in.Reason,
		Status:             StatusPending,
		CancellationStatus: CancellationNone,
		PolicyVersionID:    policy.VersionID,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}

	if _, err := s.ledger.Reserve(ctx, req.BalanceKey(), days); err != nil {
		log.Warn("balance reservation failed", zap.Error(err))
		return LeaveRequest{}, err
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		log.Error("failed to create leave request", zap.Error(err))
		s.compensate(ctx, log, "release", func(ctx context.Context) error {
			_, err := s.ledger.shift(ctx, req.BalanceKey(), "undo_reserve", days.Neg(), DInt(0))
			return err
		})
		return LeaveRequest{}, err
	}

	s.audit.Record(ctx, AuditRecord{
		Actor:   in.EmployeeID,
		Action:  AuditRequestCreated,
		Subject: string(req.ID),
		After:   req,
	})
	log.Info("leave request created",
		zap.String("request_id", string(req.ID)),
		zap.String("day_count", days.String()),
	)
	return req, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Decide approves or rejects a pending request.
func (s *Service) Decide(ctx context.Context, id RequestID, approverID EmployeeID, decision Decision, comment string) (LeaveRequest, error) {
	return s.decide(ctx, id, approverID, decision, comment, "")
}

func (s *Service) decide(ctx context.Context, id RequestID, approverID EmployeeID, decision Decision, comment, batchID string) (LeaveRequest, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return LeaveRequest{}, err
	}
	log := s.logger.With(zap.String("request_id", string(id)), zap.String("approver_id", string(approverID)))
	log.Debug("decide leave request", zap.String("decision", string(decision)))

	return s.withRequest(ctx, id, func(req LeaveRequest) (LeaveRequest, error) {
		next, err := req.Transition(decision.requestEvent(), s.clock())
		if err != nil {
			log.Warn("illegal decision", zap.Error(err))
			return LeaveRequest{}, err
		}
		if err := s.authz.CanDecide(ctx, approverID, req); err != nil {
			log.Warn("approver not authorized", zap.Error(err))
			return LeaveRequest{}, err
		}
		next.ApproverID = approverID
		next.ApprovalComment = comment

		key := req.BalanceKey()
		action := AuditRequestApproved
		var undo func(context.Context) error
		if decision == DecisionApprove {
			if _, err := s.ledger.Commit(ctx, key, req.DayCount); err != nil {
				return LeaveRequest{}, err
			}
			undo = func(ctx context.Context) error {
				_, err := s.ledger.shift(ctx, key, "undo_commit", req.DayCount, req.DayCount.Neg())
				return err
			}
		} else {
			action = AuditRequestRejected
			if _, err := s.ledger.Release(ctx, key, req.DayCount); err != nil {
				return LeaveRequest{}, err
			}
			undo = func(ctx context.Context) error {
				_, err := s.ledger.shift(ctx, key, "undo_release", req.DayCount, DInt(0))
				return err
			}
		}

		saved, err := s.saveRequest(ctx, req, next)
		if err != nil {
			log.Error("failed to save decision", zap.Error(err))
			s.compensate(ctx, log, string(action), undo)
			return LeaveRequest{}, err
		}

		s.audit.Record(ctx, AuditRecord{
			Actor:   approverID,
			Action:  action,
			Subject: string(id),
			BatchID: batchID,
			Before:  req,
			After:   saved,
		})
		log.Info("leave request decided", zap.String("status", string(saved.Status)))
		return saved, nil
	})
}

// Withdraw lets the requester pull back a request that is still pending.
func (s *Service) Withdraw(ctx context.Context, id RequestID, requesterID EmployeeID) (LeaveRequest, error) {
	log := s.logger.With(zap.String("request_id", string(id)))
	log.Debug("withdraw leave request")

	return s.withRequest(ctx, id, func(req LeaveRequest) (LeaveRequest, error) {
		if err := requireRequester(requesterID, req, "withdraw"); err != nil {
			log.Warn("withdraw by non-requester", zap.Error(err))
			return LeaveRequest{}, err
		}
		next, err := req.Transition(EventWithdraw, s.clock())
		if err != nil {
			log.Warn("illegal withdraw", zap.Error(err))
			return LeaveRequest{}, err
		}

		key := req.BalanceKey()
		if _, err := s.ledger.Release(ctx, key, req.DayCount); err != nil {
			return LeaveRequest{}, err
		}
		saved, err := s.saveRequest(ctx, req, next)
		if err != nil {
			log.Error("failed to save withdrawal", zap.Error(err))
			s.compensate(ctx, log, "withdraw", func(ctx context.Context) error {
				_, err := s.ledger.shift(ctx, key, "undo_release", req.DayCount, DInt(0))
				return err
			})
			return LeaveRequest{}, err
		}

		s.audit.Record(ctx, AuditRecord{
			Actor:   requesterID,
			Action:  AuditRequestWithdrawn,
			Subject: string(id),
			Before:  req,
			After:   saved,
		})
		log.Info("leave request withdrawn")
		return saved, nil
	})
}

// DeleteRequest removes a pending request and releases its reservation.
func (s *Service) DeleteRequest(ctx context.Context, id RequestID, requesterID EmployeeID) error {
	log := s.logger.With(zap.String("request_id", string(id)))
	log.Debug("delete leave request")

	_, err := s.withRequest(ctx, id, func(req LeaveRequest) (LeaveRequest, error) {
		if err := requireRequester(requesterID, req, "delete"); err != nil {
			return LeaveRequest{}, err
		}
		if err := req.requirePending(EventDelete); err != nil {
			log.Warn("delete of decided request", zap.Error(err))
			return LeaveRequest{}, err
		}

		key := req.BalanceKey()
		if _, err := s.ledger.Release(ctx, key, req.DayCount); err != nil {
			return LeaveRequest{}, err
		}
		if err := s.store.DeleteRequest(ctx, id, req.Version); err != nil {
			log.Error("failed to delete leave request", zap.Error(err))
			s.compensate(ctx, log, "delete", func(ctx context.Context) error {
				_, err := s.ledger.shift(ctx, key, "undo_release", req.DayCount, DInt(0))
				return err
			})
			return LeaveRequest{}, err
		}

		s.audit.Record(ctx, AuditRecord{
			Actor:   requesterID,
			Action:  AuditRequestDeleted,
			Subject: string(id),
			Before:  req,
		})
		log.Info("leave request deleted")
		return req, nil
	})
	return err
}

// UpdateRequestDates moves a pending request to new dates. The day count is
// recomputed under the policy version the request was created with.
func (s *Service) UpdateRequestDates(ctx context.Context, id RequestID, requesterID EmployeeID, start, end Date) (LeaveRequest, error) {
	log := s.logger.With(zap.String("request_id", string(id)))
	log.Debug("update leave request dates", zap.Stringer("start", start), zap.Stringer("end", end))

	return s.withRequest(ctx, id, func(req LeaveRequest) (LeaveRequest, error) {
		if err := requireRequester(requesterID, req, "edit"); err != nil {
			return LeaveRequest{}, err
		}
		if err := req.requirePending(EventEditDates); err != nil {
			log.Warn("date edit of decided request", zap.Error(err))
			return LeaveRequest{}, err
		}

		emp, err := s.store.GetEmployee(ctx, req.EmployeeID)
		if err != nil {
			return LeaveRequest{}, err
		}
		policy, err := s.policies.Version(ctx, req.PolicyVersionID)
		if err != nil {
			return LeaveRequest{}, err
		}
		days, err := s.chargeableDays(emp, start, end, policy)
		if err != nil {
			log.Warn("invalid leave range", zap.Error(err))
			return LeaveRequest{}, err
		}

		existing, err := s.occupying(ctx, req.EmployeeID)
		if err != nil {
			return LeaveRequest{}, err
		}
		candidate := Candidate{EmployeeID: req.EmployeeID, Type: req.Type, Start: start, End: end, ExcludeID: req.ID}
		if err := s.guard.Validate(candidate, existing, policy); err != nil {
			log.Warn("date edit rejected by conflict guard", zap.Error(err))
			return LeaveRequest{}, err
		}

		next := req
		next.StartDate = start
		next.EndDate = end
		next.DayCount = days
		next.UpdatedAt = s.clock()

		undo, err := s.moveReservation(ctx, req, next)
		if err != nil {
			return LeaveRequest{}, err
		}
		saved, err := s.saveRequest(ctx, req, next)
		if err != nil {
			log.Error("failed to save date change", zap.Error(err))
			s.compensate(ctx, log, "edit_dates", undo)
			return LeaveRequest{}, err
		}

		s.audit.Record(ctx, AuditRecord{
			Actor:   requesterID,
			Action:  AuditRequestDatesChanged,
			Subject: string(id),
			Before:  req,
			After:   saved,
		})
		log.Info("leave request dates changed", zap.String("day_count", days.String()))
		return saved, nil
	})
}

// moveReservation shifts the pending days of prev to next, possibly across
// balance years, and returns the inverse operation.
func (s *Service) moveReservation(ctx context.Context, prev, next LeaveRequest) (func(context.Context) error, error) {
	oldKey, newKey := prev.BalanceKey(), next.BalanceKey()
	if oldKey == newKey {
		if _, err := s.ledger.Rereserve(ctx, oldKey, prev.DayCount, next.DayCount); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			_, err := s.ledger.shift(ctx, oldKey, "undo_rereserve", prev.DayCount.Sub(next.DayCount), DInt(0))
			return err
		}, nil
	}

	if _, err := s.ledger.Reserve(ctx, newKey, next.DayCount); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Release(ctx, oldKey, prev.DayCount); err != nil {
		s.compensate(ctx, s.logger, "move_reservation", func(ctx context.Context) error {
			_, err := s.ledger.shift(ctx, newKey, "undo_reserve", next.DayCount.Neg(), DInt(0))
			return err
		})
		return nil, err
	}
	return func(ctx context.Context) error {
		if _, err := s.ledger.shift(ctx, newKey, "undo_reserve", next.DayCount.Neg(), DInt(0)); err != nil {
			return err
		}
		_, err := s.ledger.shift(ctx, oldKey, "undo_release", prev.DayCount, DInt(0))
		return err
	}, nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// RequestCancellation asks to cancel approved leave that has not started yet.
func (s *Service) RequestCancellation(ctx context.Context, id RequestID, requesterID EmployeeID, reason string) (LeaveRequest, error) {
	log := s.logger.With(zap.String("request_id", string(id)))
	log.Debug("request cancellation")

	return s.withRequest(ctx, id, func(req LeaveRequest) (LeaveRequest, error) {
		if err := requireRequester(requesterID, req, "cancel"); err != nil {
			return LeaveRequest{}, err
		}
		next, err := req.Transition(EventRequestCancellation, s.clock())
		if err != nil {
			log.Warn("illegal cancellation request", zap.Error(err))
			return LeaveRequest{}, err
		}
		if today := DateOf(s.clock()); !req.StartDate.After(today) {
			err := fmt.Errorf("leave started on %s: %w", req.StartDate,
				&TransitionError{RequestID: id, From: req.Status, Event: EventRequestCancellation})
			log.Warn("cancellation of started leave", zap.Error(err))
			return LeaveRequest{}, err
		}
		next.CancellationReason = reason

		saved, err := s.saveRequest(ctx, req, next)
		if err != nil {
			log.Error("failed to save cancellation request", zap.Error(err))
			return LeaveRequest{}, err
		}
		s.audit.Record(ctx, AuditRecord{
			Actor:   requesterID,
			Action:  AuditCancellationRequest,
			Subject: string(id),
			Before:  req,
			After:   saved,
		})
		log.Info("cancellation requested")
		return saved, nil
	})
}

// DecideCancellation approves (refunding the days) or rejects a pending
// cancellation. A rejected cancellation returns the request to approved.
func (s *Service) DecideCancellation(ctx context.Context, id RequestID, approverID EmployeeID, decision Decision) (LeaveRequest, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return LeaveRequest{}, err
	}
	log := s.logger.With(zap.String("request_id", string(id)), zap.String("approver_id", string(approverID)))
	log.Debug("decide cancellation", zap.String("decision", string(decision)))

	return s.withRequest(ctx, id, func(req LeaveRequest) (LeaveRequest, error) {
		next, err := req.Transition(decision.cancellationEvent(), s.clock())
		if err != nil {
			log.Warn("illegal cancellation decision", zap.Error(err))
			return LeaveRequest{}, err
		}
		if err := s.authz.CanDecide(ctx, approverID, req); err != nil {
			log.Warn("approver not authorized", zap.Error(err))
			return LeaveRequest{}, err
		}
		next.CancellationBy = approverID

		key := req.BalanceKey()
		action := AuditCancellationRejected
		undo := func(context.Context) error { return nil }
		if decision == DecisionApprove {
			action = AuditCancellationApproved
			if _, err := s.ledger.Refund(ctx, key, req.DayCount); err != nil {
				return LeaveRequest{}, err
			}
			undo = func(ctx context.Context) error {
				_, err := s.ledger.shift(ctx, key, "undo_refund", DInt(0), req.DayCount)
				return err
			}
		}

		saved, err := s.saveRequest(ctx, req, next)
		if err != nil {
			log.Error("failed to save cancellation decision", zap.Error(err))
			s.compensate(ctx, log, string(action), undo)
			return LeaveRequest{}, err
		}
		s.audit.Record(ctx, AuditRecord{
			Actor:   approverID,
			Action:  action,
			Subject: string(id),
			Before:  req,
			After:   saved,
		})
		log.Info("cancellation decided", zap.String("status", string(saved.Status)))
		return saved, nil
	})
}

// =============================================================================
// QUERIES AND ADMINISTRATION
// =============================================================================

func (s *Service) GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error) {
	return s.store.ListRequests(ctx, filter)
}

// GetBalance returns the balance of an employee for a year.
func (s *Service) GetBalance(ctx context.Context, employeeID EmployeeID, year int) (LeaveBalance, error) {
	return s.ledger.Balance(ctx, BalanceKey{EmployeeID: employeeID, Year: year})
}

// AdjustBalance applies a manual correction. Requires hr or admin.
func (s *Service) AdjustBalance(ctx context.Context, employeeID EmployeeID, year int, delta Days, reason string, actorID EmployeeID) (LeaveBalance, error) {
	if err := s.authz.CanAdminister(ctx, actorID); err != nil {
		return LeaveBalance{}, err
	}
	unlock, err := s.lockEmployee(ctx, employeeID)
	if err != nil {
		return LeaveBalance{}, err
	}
	defer unlock()
	return s.ledger.Adjust(ctx, BalanceKey{EmployeeID: employeeID, Year: year}, delta, reason, actorID)
}

// SaveEmployee creates or replaces a directory record. Requires hr or admin.
func (s *Service) SaveEmployee(ctx context.Context, emp Employee, actorID EmployeeID) (Employee, error) {
	if err := s.authz.CanAdminister(ctx, actorID); err != nil {
		return Employee{}, err
	}
	if emp.ID == "" || emp.HireDate.IsZero() {
		return Employee{}, fmt.Errorf("%w: employee id and hire date are required", ErrInvalidInput)
	}
	if emp.Role == "" {
		emp.Role = RoleEmployee
	}
	if _, err := ParseRole(string(emp.Role)); err != nil {
		return Employee{}, err
	}
	if emp.TerminationDate != nil && emp.TerminationDate.Before(emp.HireDate) {
		return Employee{}, &RangeError{Start: emp.HireDate, End: *emp.TerminationDate, Reason: "termination before hire"}
	}

	var before any
	if prev, err := s.store.GetEmployee(ctx, emp.ID); err == nil {
		before = prev
	}
	if err := s.store.SaveEmployee(ctx, emp); err != nil {
		s.logger.Error("failed to save employee", zap.String("employee_id", string(emp.ID)), zap.Error(err))
		return Employee{}, err
	}
	s.audit.Record(ctx, AuditRecord{
		Actor:   actorID,
		Action:  AuditEmployeeSaved,
		Subject: string(emp.ID),
		Before:  before,
		After:   emp,
	})
	return emp, nil
}

func (s *Service) GetEmployee(ctx context.Context, id EmployeeID) (Employee, error) {
	return s.store.GetEmployee(ctx, id)
}

// UpdatePolicy appends a new policy version. Requires hr or admin.
func (s *Service) UpdatePolicy(ctx context.Context, rules Rules, exceptions []DateException, actorID EmployeeID) (LeavePolicy, error) {
	if err := s.authz.CanAdminister(ctx, actorID); err != nil {
		return LeavePolicy{}, err
	}
	return s.updatePolicy(ctx, rules, exceptions, actorID)
}

// BootstrapPolicy installs the first policy version if none exists. It is a
// no-op once any version is active.
func (s *Service) BootstrapPolicy(ctx context.Context, rules Rules, exceptions []DateException) (LeavePolicy, error) {
	if p, err := s.policies.Active(ctx); err == nil {
		return p, nil
	}
	return s.updatePolicy(ctx, rules, exceptions, SystemActor)
}

func (s *Service) updatePolicy(ctx context.Context, rules Rules, exceptions []DateException, actorID EmployeeID) (LeavePolicy, error) {
	var before any
	if prev, err := s.policies.Active(ctx); err == nil {
		before = prev
	}
	p, err := s.policies.Update(ctx, rules, exceptions, actorID)
	if err != nil {
		s.logger.Warn("policy update refused", zap.Error(err))
		return LeavePolicy{}, err
	}
	s.audit.Record(ctx, AuditRecord{
		Actor:   actorID,
		Action:  AuditPolicyUpdated,
		Subject: string(p.VersionID),
		Before:  before,
		After:   p,
	})
	s.logger.Info("leave policy updated", zap.String("version_id", string(p.VersionID)))
	return p, nil
}

func (s *Service) QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return s.audit.Query(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

// chargeableDays validates the range against the employment period and
// returns its weighted day count, which must be positive. Spans over the
// consecutive-day limit are rejected before any day is counted.
func (s *Service) chargeableDays(emp Employee, start, end Date, policy LeavePolicy) (Days, error) {
	rng, err := NewDateRange(start, end)
	if err != nil {
		return Days{}, err
	}
	if !emp.EmployedOn(start) || !emp.EmployedOn(end) {
		return Days{}, &RangeError{Start: start, End: end, Reason: "outside employment period"}
	}
	if span := rng.CalendarDays(); span > policy.Rules.MaxConsecutiveDays {
		return Days{}, &RuleViolationError{
			Kind:       ErrConsecutiveDaysExceeded,
			EmployeeID: emp.ID,
			Rule:       "max_consecutive_days",
			Limit:      policy.Rules.MaxConsecutiveDays,
			Actual:     span,
		}
	}
	days, err := s.counter.CountForPolicy(start, end, policy)
	if err != nil {
		return Days{}, err
	}
	if !days.IsPositive() {
		return Days{}, &RangeError{Start: start, End: end, Reason: "no chargeable days"}
	}
	return days, nil
}

func (s *Service) occupying(ctx context.Context, employeeID EmployeeID) ([]LeaveRequest, error) {
	return s.store.ListRequests(ctx, RequestFilter{EmployeeID: employeeID, Statuses: OccupyingStatuses()})
}

func (s *Service) lockEmployee(ctx context.Context, id EmployeeID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, employeeLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock employee %s: %w", id, err)
	}
	return unlock, nil
}

// withRequest runs fn on a fresh copy of the request read under its
// employee's lock.
func (s *Service) withRequest(ctx context.Context, id RequestID, fn func(LeaveRequest) (LeaveRequest, error)) (LeaveRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	unlock, err := s.lockEmployee(ctx, req.EmployeeID)
	if err != nil {
		return LeaveRequest{}, err
	}
	defer unlock()

	req, err = s.store.GetRequest(ctx, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	return fn(req)
}

func (s *Service) saveRequest(ctx context.Context, prev, next LeaveRequest) (LeaveRequest, error) {
	next.Version = prev.Version + 1
	if err := s.store.UpdateRequest(ctx, next, prev.Version); err != nil {
		return LeaveRequest{}, err
	}
	return next, nil
}

// compensate runs an inverse ledger operation after a failed request write.
// It ignores caller cancellation so the ledger is not left half-updated.
func (s *Service) compensate(ctx context.Context, log *zap.Logger, op string, undo func(context.Context) error) {
	if err := undo(context.WithoutCancel(ctx)); err != nil {
		log.Error("ledger compensation failed, balance needs manual review",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
