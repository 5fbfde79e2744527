package leave

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// CARRY-OVER PROCESSOR
// =============================================================================

// CarryOverEntry reports the outcome for one employee.
type CarryOverEntry struct {
	EmployeeID EmployeeID `json:"employee_id"`
	Remaining  Days       `json:"remaining"`
	Carried    Days       `json:"carried"`
	Skipped    bool       `json:"skipped"`
	Reason     string     `json:"reason,omitempty"`
}

type CarryOverReport struct {
	RunID           string           `json:"run_id"`
	Year            int              `json:"year"`
	PolicyVersionID PolicyVersionID  `json:"policy_version_id"`
	Applied         int              `json:"applied"`
	Skipped         int              `json:"skipped"`
	Failed          int              `json:"failed"`
	Entries         []CarryOverEntry `json:"entries"`
}

// RunCarryOver moves unused days of year into year+1 for every employee with
// a balance in year, whether or not the ledger row was ever written. That is
// every employee employed during year plus any stored row:
//
//	carried = clamp(remaining(year), 0, maxCarryOverDays)
//
// A negative remaining carries nothing. Each next-year balance accepts a
// single carry-over, so running the same year twice credits nothing the
// second time; those employees are reported as skipped. Requires hr or admin
// and is never triggered automatically.
func (s *Service) RunCarryOver(ctx context.Context, year int, actorID EmployeeID) (CarryOverReport, error) {
	if err := s.authz.CanAdminister(ctx, actorID); err != nil {
		return CarryOverReport{}, err
	}
	policy, err := s.policies.Active(ctx)
	if err != nil {
		return CarryOverReport{}, err
	}

	report := CarryOverReport{
		RunID:           uuid.NewString(),
		Year:            year,
		PolicyVersionID: policy.VersionID,
		Entries:         []CarryOverEntry{},
	}
	log := s.carryLogger.With(zap.Int("year", year), zap.String("run_id", report.RunID))
	log.Debug("carry-over run started")

	keys, err := s.carryOverKeys(ctx, year)
	if err != nil {
		log.Error("failed to list balances", zap.Error(err))
		return CarryOverReport{}, err
	}

	for _, key := range keys {
		entry, err := s.carryOne(ctx, key, policy)
		switch {
		case errors.Is(err, ErrDuplicateCarryOver):
			entry.Skipped = true
			entry.Reason = err.Error()
			report.Skipped++
			s.audit.Record(ctx, AuditRecord{
				Actor:   actorID,
				Action:  AuditCarryOverSkipped,
				Subject: key.String(),
				BatchID: report.RunID,
				After:   entry,
			})
		case err != nil:
			entry.Skipped = true
			entry.Reason = err.Error()
			report.Failed++
			log.Error("carry-over failed", zap.String("employee_id", string(key.EmployeeID)), zap.Error(err))
		default:
			report.Applied++
			s.audit.Record(ctx, AuditRecord{
				Actor:   actorID,
				Action:  AuditCarryOverApplied,
				Subject: key.Next().String(),
				BatchID: report.RunID,
				After:   entry,
			})
		}
		report.Entries = append(report.Entries, entry)
	}

	s.audit.Record(ctx, AuditRecord{
		Actor:   actorID,
		Action:  AuditCarryOverRun,
		Subject: report.RunID,
		BatchID: report.RunID,
		After: map[string]any{
			"year":              year,
			"policy_version_id": policy.VersionID,
			"applied":           report.Applied,
			"skipped":           report.Skipped,
			"failed":            report.Failed,
		},
	})
	log.Info("carry-over run completed",
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// carryOverKeys returns the balance keys of year in employee order.
func (s *Service) carryOverKeys(ctx context.Context, year int) ([]BalanceKey, error) {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.ListBalancesForYear(ctx, year)
	if err != nil {
		return nil, err
	}

	seen := make(map[EmployeeID]bool, len(employees))
	var keys []BalanceKey
	for _, e := range employees {
		if e.EmployedDuring(year) {
			seen[e.ID] = true
			keys = append(keys, BalanceKey{EmployeeID: e.ID, Year: year})
		}
	}
	for _, b := range stored {
		if !seen[b.EmployeeID] {
			seen[b.EmployeeID] = true
			keys = append(keys, b.Key())
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].EmployeeID < keys[j].EmployeeID })
	return keys, nil
}

func (s *Service) carryOne(ctx context.Context, key BalanceKey, policy LeavePolicy) (CarryOverEntry, error) {
	entry := CarryOverEntry{EmployeeID: key.EmployeeID, Remaining: DInt(0), Carried: DInt(0)}

	unlock, err := s.lockEmployee(ctx, key.EmployeeID)
	if err != nil {
		return entry, err
	}
	defer unlock()

	current, err := s.ledger.Balance(ctx, key)
	if err != nil {
		return entry, err
	}
	entry.Remaining = current.Remaining()

	amount := minDays(entry.Remaining, policy.Rules.MaxCarryOverDays)
	if amount.IsNegative() {
		amount = DInt(0)
	}
	if _, err := s.ledger.CarryIn(ctx, key.Next(), amount); err != nil {
		return entry, err
	}
	entry.Carried = amount
	return entry, nil
}
