package leave

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// AUDIT TRAIL - Append-only record of every mutation
// =============================================================================

type AuditAction string

const (
	AuditPolicyUpdated        AuditAction = "policy_updated"
	AuditRequestCreated       AuditAction = "request_created"
	AuditRequestApproved      AuditAction = "request_approved"
	AuditRequestRejected      AuditAction = "request_rejected"
	AuditRequestWithdrawn     AuditAction = "request_withdrawn"
	AuditRequestDeleted       AuditAction = "request_deleted"
	AuditRequestDatesChanged  AuditAction = "request_dates_changed"
	AuditCancellationRequest  AuditAction = "cancellation_requested"
	AuditCancellationApproved AuditAction = "cancellation_approved"
	AuditCancellationRejected AuditAction = "cancellation_rejected"
	AuditBalanceAdjusted      AuditAction = "balance_adjusted"
	AuditCarryOverApplied     AuditAction = "carry_over_applied"
	AuditCarryOverSkipped     AuditAction = "carry_over_skipped"
	AuditCarryOverRun         AuditAction = "carry_over_run"
	AuditBulkItemFailed       AuditAction = "bulk_item_failed"
	AuditBulkCompleted        AuditAction = "bulk_completed"
	AuditEmployeeSaved        AuditAction = "employee_saved"
)

// AuditEntry is immutable once written. Before and After hold JSON snapshots
// of the subject; either may be empty (creation, deletion).
type AuditEntry struct {
	ID        string          `json:"id"`
	ActorID   EmployeeID      `json:"actor_id"`
	Action    AuditAction     `json:"action"`
	SubjectID string          `json:"subject_id"`
	BatchID   string          `json:"batch_id,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher streams audit entries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e AuditEntry) error
}

// AuditTrail writes entries to the repository and, when configured, a
// Publisher. A failed write never undoes the mutation it describes; it is
// logged at Error level instead.
type AuditTrail struct {
	repo      AuditRepository
	publisher Publisher
	clock     Clock
	logger    *zap.Logger
}

func NewAuditTrail(repo AuditRepository, publisher Publisher, clock Clock, logger *zap.Logger) *AuditTrail {
	if clock == nil {
		clock = systemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrail{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("leave.audit"),
	}
}

// AuditRecord describes one audited mutation.
type AuditRecord struct {
	Actor   EmployeeID
	Action  AuditAction
	Subject string
	BatchID string
	Before  any
	After   any
}

// Record appends an entry and returns it.
func (a *AuditTrail) Record(ctx context.Context, ev AuditRecord) AuditEntry {
	entry := AuditEntry{
		ID:        uuid.NewString(),
		ActorID:   ev.Actor,
		Action:    ev.Action,
		SubjectID: ev.Subject,
		BatchID:   ev.BatchID,
		Before:    a.snapshot(ev.Before),
		After:     a.snapshot(ev.After),
		Timestamp: a.clock(),
	}

	if err := a.repo.AppendAudit(ctx, entry); err != nil {
		a.logger.Error("failed to append audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("subject_id", entry.SubjectID),
			zap.Error(err),
		)
		return entry
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, entry); err != nil {
			a.logger.Error("failed to publish audit entry",
				zap.String("audit_id", entry.ID),
				zap.String("action", string(entry.Action)),
				zap.Error(err),
			)
		}
	}
	return entry
}

// Query returns entries matching the filter.
func (a *AuditTrail) Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	return a.repo.QueryAudit(ctx, filter)
}

func (a *AuditTrail) snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		a.logger.Warn("audit snapshot not serializable", zap.Error(err))
		return nil
	}
	return b
}
