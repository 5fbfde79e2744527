package leave

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BULK PROCESSOR
// =============================================================================

// BulkFailure is one request a batch could not decide.
type BulkFailure struct {
	ID    RequestID `json:"id"`
	Kind  string    `json:"kind"`
	Error string    `json:"error"`
	Err   error     `json:"-"`
}

type BulkResult struct {
	BatchID   string        `json:"batch_id"`
	Succeeded []RequestID   `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkDecide applies the same decision to every id. Items are independent:
// one failure neither stops nor rolls back the others. Items run in parallel
// up to the configured limit, each still serialized by its employee lock.
// Every outcome is audited under the returned BatchID. Once started the batch
// runs to completion even if ctx is cancelled.
func (s *Service) BulkDecide(ctx context.Context, ids []RequestID, decision Decision, approverID EmployeeID, comment string) (BulkResult, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return BulkResult{}, err
	}
	batchID := uuid.NewString()
	log := s.bulkLogger.With(zap.String("batch_id", batchID), zap.String("approver_id", string(approverID)))
	log.Debug("bulk decide", zap.Int("items", len(ids)), zap.String("decision", string(decision)))

	ctx = context.WithoutCancel(ctx)
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(s.bulkParallelism)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			_, errs[i] = s.decide(ctx, id, approverID, decision, comment, batchID)
			return nil
		})
	}
	_ = g.Wait()

	result := BulkResult{BatchID: batchID, Succeeded: []RequestID{}, Failed: []BulkFailure{}}
	for i, id := range ids {
		if errs[i] == nil {
			result.Succeeded = append(result.Succeeded, id)
			continue
		}
		failure := BulkFailure{ID: id, Kind: Kind(errs[i]), Error: errs[i].Error(), Err: errs[i]}
		result.Failed = append(result.Failed, failure)
		s.audit.Record(ctx, AuditRecord{
			Actor:   approverID,
			Action:  AuditBulkItemFailed,
			Subject: string(id),
			BatchID: batchID,
			After:   failure,
		})
		if !IsClientError(errs[i]) && !IsNotFound(errs[i]) && !errors.Is(errs[i], ErrRetryExhausted) {
			log.Error("bulk item failed", zap.String("request_id", string(id)), zap.Error(errs[i]))
		} else {
			log.Warn("bulk item refused", zap.String("request_id", string(id)), zap.Error(errs[i]))
		}
	}

	s.audit.Record(ctx, AuditRecord{
		Actor:   approverID,
		Action:  AuditBulkCompleted,
		Subject: batchID,
		BatchID: batchID,
		After: map[string]any{
			"decision":  decision,
			"comment":   comment,
			"succeeded": result.Succeeded,
			"failed":    len(result.Failed),
		},
	})
	log.Info("bulk decide completed",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}
