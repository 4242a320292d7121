// Package audit records decision entries for every state-mutating action.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// Actions recorded by the control plane.
const (
	ActionTaskCreate     = "task.create"
	ActionTaskComplete   = "task.complete"
	ActionTaskDefer      = "task.defer"
	ActionTaskReactivate = "task.reactivate"
	ActionTaskDelete     = "task.delete"
	ActionTaskUpdate     = "task.update"
	ActionSubStackCreate = "substack.create"
	ActionItemCreate     = "item.create"
	ActionItemToggle     = "item.toggle"
	ActionRanksRepair    = "ranks.repair"
	ActionRanksCheck     = "ranks.check"
	ActionImport         = "snapshot.import"
)

// OutcomeSuccess is recorded for actions that committed.
const OutcomeSuccess = "success"

// Sink persists audit entries.
type Sink interface {
	WriteAudit(ctx context.Context, action, inputsHash, outcome, taskID, details string, now time.Time) (*models.AuditEntry, error)
}

// Recorder writes decision entries for audit trails.
type Recorder struct {
	sink Sink
	log  *log.Logger
	now  func() time.Time
}

// NewRecorder creates a recorder writing to sink.
func NewRecorder(sink Sink, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		sink: sink,
		log:  logger.WithPrefix("audit"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Record writes an entry for a state-mutating action.
func (r *Recorder) Record(ctx context.Context, action string, inputs any, outcome, taskID, details string) (*models.AuditEntry, error) {
	return r.sink.WriteAudit(ctx, action, HashInputs(inputs), outcome, taskID, details, r.now())
}

// RecordResult records the outcome of an action from its error. Audit write
// failures are logged and never replace the action's own result.
func (r *Recorder) RecordResult(ctx context.Context, action string, inputs any, taskID string, err error) {
	outcome, details := OutcomeSuccess, ""
	if err != nil {
		outcome = ranking.Kind(err)
		if outcome == "" {
			outcome = "error"
		}
		details = err.Error()
	}
	// The caller's context may already be done when the action failed on a timeout.
	ctx = context.WithoutCancel(ctx)
	if _, werr := r.Record(ctx, action, inputs, outcome, taskID, details); werr != nil {
		r.log.Warn("audit write failed", "action", action, "task_id", taskID, "err", werr)
	}
}

// HashInputs returns the SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
