/*
ledger.go - BalanceLedger, the only write path for leave balances

PURPOSE:
  Every change to a LeaveBalance goes through one of the operations below.
  Each operation is serialized per (employee, year) with the Locker and
  written with an optimistic version check, so two processes sharing a
  database cannot both spend the same day.

OPERATIONS:
  Reserve   pending += days           floor checked
  Commit    pending -= days, used += days
  Release   pending -= days
  Refund    used -= days
  Adjust    adjustments += delta      floor checked when delta < 0, audited
  CarryIn   carriedOverIn = amount    once per balance

CRITICAL INVARIANT:
  remaining >= advanceUseFloorDays after every operation that lowers
  remaining. Operations that raise remaining (Release, Refund, CarryIn) are
  never refused by the floor, otherwise a tightened policy could trap days in
  pending forever.

LAZY ROWS:
  A balance row is created on first touch. Its entitlement comes from
  EntitlementCalculator as of min(today, Dec 31 of the year) and is raised,
  never lowered, on every later touch as the employee accrues months.

RETRIES:
  A write that loses the version race is re-read and re-applied up to
  maxRetries times, then surfaces as RetryExhaustedError.
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const defaultLedgerRetries = 5

type BalanceLedger struct {
	repo        BalanceRepository
	employees   EmployeeDirectory
	policies    *PolicyStore
	audit       *AuditTrail
	locker      Locker
	entitlement EntitlementCalculator
	clock       Clock
	maxRetries  int
	logger      *zap.Logger
}

type LedgerConfig struct {
	Locker     Locker
	Clock      Clock
	MaxRetries int
	Logger     *zap.Logger
}

func NewBalanceLedger(repo BalanceRepository, employees EmployeeDirectory, policies *PolicyStore, audit *AuditTrail, cfg LedgerConfig) *BalanceLedger {
	if cfg.Locker == nil {
		cfg.Locker = NewKeyedMutex()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultLedgerRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &BalanceLedger{
		repo:       repo,
		employees:  employees,
		policies:   policies,
		audit:      audit,
		locker:     cfg.Locker,
		clock:      cfg.Clock,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger.Named("leave.ledger"),
	}
}

// =============================================================================
// READS
// =============================================================================

// Balance returns the current view of a balance with entitlement refreshed.
// A key that was never written yields a zero-usage view; nothing is persisted.
func (l *BalanceLedger) Balance(ctx context.Context, key BalanceKey) (LeaveBalance, error) {
	policy, err := l.policies.Active(ctx)
	if err != nil {
		return LeaveBalance{}, err
	}
	b, _, err := l.load(ctx, key, policy)
	return b, err
}

// load reads the row (or a fresh one) and refreshes its entitlement.
// The returned version is the stored one, 0 for a new row.
func (l *BalanceLedger) load(ctx context.Context, key BalanceKey, policy LeavePolicy) (LeaveBalance, int64, error) {
	emp, err := l.employees.GetEmployee(ctx, key.EmployeeID)
	if err != nil {
		return LeaveBalance{}, 0, err
	}

	b, err := l.repo.GetBalance(ctx, key)
	switch {
	case errors.Is(err, ErrBalanceNotFound):
		b = newBalance(key)
	case err != nil:
		return LeaveBalance{}, 0, err
	}
	version := b.Version

	earned := l.entitlement.EntitlementForYear(emp, key.Year, DateOf(l.clock()), policy.Rules)
	if earned.GreaterThan(b.Entitlement) {
		b.Entitlement = earned
	}
	return b, version, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Reserve holds days as pending, failing with InsufficientBalanceError if the
// remaining balance would drop below the policy floor.
func (l *BalanceLedger) Reserve(ctx context.Context, key BalanceKey, days Days) (LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return LeaveBalance{}, err
	}
	return l.mutate(ctx, key, "reserve", func(b *LeaveBalance, p LeavePolicy) error {
		if err := checkFloor(*b, days, p); err != nil {
			return err
		}
		b.Pending = b.Pending.Add(days)
		return nil
	})
}

// Commit moves days from pending to used. Remaining is unchanged.
func (l *BalanceLedger) Commit(ctx context.Context, key BalanceKey, days Days) (LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return LeaveBalance{}, err
	}
	return l.shift(ctx, key, "commit", days.Neg(), days)
}

// Release drops a pending reservation.
func (l *BalanceLedger) Release(ctx context.Context, key BalanceKey, days Days) (LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return LeaveBalance{}, err
	}
	return l.shift(ctx, key, "release", days.Neg(), DInt(0))
}

// Refund gives back days that were used.
func (l *BalanceLedger) Refund(ctx context.Context, key BalanceKey, days Days) (LeaveBalance, error) {
	if err := requirePositive(days); err != nil {
		return LeaveBalance{}, err
	}
	return l.shift(ctx, key, "refund", DInt(0), days.Neg())
}

// Rereserve replaces a pending reservation of oldDays with newDays on the
// same balance. Only the increase is floor checked.
func (l *BalanceLedger) Rereserve(ctx context.Context, key BalanceKey, oldDays, newDays Days) (LeaveBalance, error) {
	return l.mutate(ctx, key, "rereserve", func(b *LeaveBalance, p LeavePolicy) error {
		if err := requireBucket("pending", b.Pending, oldDays); err != nil {
			return err
		}
		if delta := newDays.Sub(oldDays); delta.IsPositive() {
			if err := checkFloor(*b, delta, p); err != nil {
				return err
			}
		}
		b.Pending = b.Pending.Sub(oldDays).Add(newDays)
		return nil
	})
}

// Adjust records a signed manual correction and audits it.
func (l *BalanceLedger) Adjust(ctx context.Context, key BalanceKey, delta Days, reason string, actorID EmployeeID) (LeaveBalance, error) {
	if delta.IsZero() {
		return LeaveBalance{}, fmt.Errorf("%w: adjustment of zero days", ErrInvalidRange)
	}
	var before LeaveBalance
	after, err := l.mutate(ctx, key, "adjust", func(b *LeaveBalance, p LeavePolicy) error {
		before = b.Clone()
		if delta.IsNegative() {
			if err := checkFloor(*b, delta.Neg(), p); err != nil {
				return err
			}
		}
		b.Adjustments = append(b.Adjustments, Adjustment{
			Amount:    delta,
			Reason:    reason,
			ActorID:   actorID,
			Timestamp: l.clock(),
		})
		return nil
	})
	if err != nil {
		return LeaveBalance{}, err
	}

	l.audit.Record(ctx, AuditRecord{
		Actor:   actorID,
		Action:  AuditBalanceAdjusted,
		Subject: key.String(),
		Before:  before,
		After:   after,
	})
	return after, nil
}

// CarryIn writes the carry-over from the previous year. A balance accepts one
// carry-over; a second call fails with CarryOverError.
func (l *BalanceLedger) CarryIn(ctx context.Context, key BalanceKey, amount Days) (LeaveBalance, error) {
	return l.mutate(ctx, key, "carry_in", func(b *LeaveBalance, p LeavePolicy) error {
		if b.CarryOverApplied {
			return &CarryOverError{EmployeeID: key.EmployeeID, FromYear: key.Year - 1}
		}
		if amount.IsNegative() || amount.GreaterThan(p.Rules.MaxCarryOverDays) {
			return fmt.Errorf("%w: carry-over %s outside [0, %s]", ErrInvalidPolicy, amount, p.Rules.MaxCarryOverDays)
		}
		b.CarriedOverIn = amount
		b.CarryOverApplied = true
		return nil
	})
}

// shift moves the pending and used buckets by the given signed deltas. It is
// also the compensation path: the workflow undoes a commit with
// shift(+days, -days) when the request write fails.
func (l *BalanceLedger) shift(ctx context.Context, key BalanceKey, op string, pendingDelta, usedDelta Days) (LeaveBalance, error) {
	return l.mutate(ctx, key, op, func(b *LeaveBalance, _ LeavePolicy) error {
		if pendingDelta.IsNegative() {
			if err := requireBucket("pending", b.Pending, pendingDelta.Neg()); err != nil {
				return err
			}
		}
		if usedDelta.IsNegative() {
			if err := requireBucket("used", b.Used, usedDelta.Neg()); err != nil {
				return err
			}
		}
		b.Pending = b.Pending.Add(pendingDelta)
		b.Used = b.Used.Add(usedDelta)
		return nil
	})
}

func (l *BalanceLedger) mutate(ctx context.Context, key BalanceKey, op string, apply func(*LeaveBalance, LeavePolicy) error) (LeaveBalance, error) {
	log := l.logger.With(zap.String("op", op), zap.String("balance", key.String()))
	log.Debug("ledger mutation")

	policy, err := l.policies.Active(ctx)
	if err != nil {
		return LeaveBalance{}, err
	}

	unlock, err := l.locker.Lock(ctx, balanceLockKey(key))
	if err != nil {
		return LeaveBalance{}, fmt.Errorf("lock balance %s: %w", key, err)
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		b, expected, err := l.load(ctx, key, policy)
		if err != nil {
			return LeaveBalance{}, err
		}
		b = b.Clone()
		if err := apply(&b, policy); err != nil {
			log.Warn("ledger mutation refused", zap.Error(err))
			return LeaveBalance{}, err
		}
		b.Version = expected + 1
		b.UpdatedAt = l.clock()

		err = l.repo.SaveBalance(ctx, b, expected)
		if err == nil {
			log.Info("ledger mutation applied",
				zap.String("remaining", b.Remaining().String()),
				zap.Int64("version", b.Version),
			)
			return b, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			log.Error("failed to save balance", zap.Error(err))
			return LeaveBalance{}, err
		}
		lastErr = err
		log.Warn("balance version conflict, retrying", zap.Int("attempt", attempt))
	}
	return LeaveBalance{}, &RetryExhaustedError{Key: balanceLockKey(key), Attempts: l.maxRetries, Err: lastErr}
}

func checkFloor(b LeaveBalance, days Days, p LeavePolicy) error {
	remaining := b.Remaining()
	if remaining.Sub(days).LessThan(p.Rules.AdvanceUseFloorDays) {
		return &InsufficientBalanceError{
			EmployeeID: b.EmployeeID,
			Year:       b.Year,
			Remaining:  remaining,
			Requested:  days,
			Floor:      p.Rules.AdvanceUseFloorDays,
		}
	}
	return nil
}

func requirePositive(days Days) error {
	if !days.IsPositive() {
		return fmt.Errorf("%w: day amount must be positive, got %s", ErrInvalidRange, days)
	}
	return nil
}

// requireBucket guards against driving pending or used below zero, which
// would mean the caller released days it never reserved.
func requireBucket(name string, have, take Days) error {
	if have.LessThan(take) {
		return fmt.Errorf("ledger %s bucket holds %s, cannot remove %s", name, have, take)
	}
	return nil
}
