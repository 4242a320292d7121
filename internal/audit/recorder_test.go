package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

type memSink struct {
	entries []models.AuditEntry
	err     error
}

func (m *memSink) WriteAudit(_ context.Context, action, inputsHash, outcome, taskID, details string, now time.Time) (*models.AuditEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	e := models.AuditEntry{
		ID:         fmt.Sprintf("e%d", len(m.entries)+1),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  now,
	}
	m.entries = append(m.entries, e)
	return &e, nil
}

func TestRecordHashesInputs(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, nil)

	entry, err := r.Record(context.Background(), ActionTaskCreate, map[string]string{"title": "a"}, OutcomeSuccess, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, ActionTaskCreate, entry.Action)
	assert.Len(t, entry.InputsHash, 64)
	assert.Equal(t, HashInputs(map[string]string{"title": "a"}), entry.InputsHash)
	assert.NotEqual(t, HashInputs(map[string]string{"title": "b"}), entry.InputsHash)
}

func TestHashInputsUnencodable(t *testing.T) {
	assert.Equal(t, "hash_error", HashInputs(make(chan int)))
}

func TestRecordResultOutcomes(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, nil)
	ctx := context.Background()

	r.RecordResult(ctx, ActionTaskDefer, "t1", "t1", nil)
	r.RecordResult(ctx, ActionTaskDefer, "t2", "t2", fmt.Errorf("%w: done task", ranking.ErrInvalidState))
	r.RecordResult(ctx, ActionTaskDefer, "t3", "t3", errors.New("weird"))

	require.Len(t, sink.entries, 3)
	assert.Equal(t, OutcomeSuccess, sink.entries[0].Outcome)
	assert.Equal(t, "invalid_state", sink.entries[1].Outcome)
	assert.Contains(t, sink.entries[1].Details, "done task")
	assert.Equal(t, "error", sink.entries[2].Outcome)
}

func TestRecordResultSurvivesSinkFailure(t *testing.T) {
	r := NewRecorder(&memSink{err: errors.New("disk full")}, nil)
	assert.NotPanics(t, func() {
		r.RecordResult(context.Background(), ActionTaskCreate, nil, "", nil)
	})
}

func TestRecordResultWithCancelledContext(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.RecordResult(ctx, ActionTaskComplete, "t1", "t1", context.Canceled)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "error", sink.entries[0].Outcome)
}
