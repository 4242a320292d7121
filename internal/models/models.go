// Package models defines the core domain types for onejob.
package models

import "time"

// LifecycleState is the lifecycle of a task. Deferral is an action, not a state.
type LifecycleState string

const (
	StateActive LifecycleState = "active"
	StateDone   LifecycleState = "done"
)

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	return s == StateActive || s == StateDone
}

// Task is a single entry on the owner's stack.
//
// Rank is non-nil iff State is StateActive. Active ranks form 1..N.
type Task struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	State         LifecycleState `json:"state"`
	Rank          *int           `json:"rank,omitempty"`
	Seq           int64          `json:"seq"`
	DeferredAt    *time.Time     `json:"deferred_at,omitempty"`
	DeferralCount int            `json:"deferral_count"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Source        string         `json:"source,omitempty"`
	ExternalID    string         `json:"external_id,omitempty"`
}

// Active reports whether the task is in the active set.
func (t *Task) Active() bool {
	return t.State == StateActive
}

// RankValue returns the rank, or 0 when the task has none.
func (t *Task) RankValue() int {
	if t.Rank == nil {
		return 0
	}
	return *t.Rank
}

// SetRank sets the rank; a value <= 0 clears it.
func (t *Task) SetRank(r int) {
	if r <= 0 {
		t.Rank = nil
		return
	}
	t.Rank = &r
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Rank != nil {
		r := *t.Rank
		c.Rank = &r
	}
	if t.DeferredAt != nil {
		d := *t.DeferredAt
		c.DeferredAt = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// SubStack is a named sub-list attached to a task.
type SubStack struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Items     []SubStackItem `json:"items"`
}

// SubStackItem is an entry of a substack. Its rank is assigned once and never changes.
type SubStackItem struct {
	ID          string     `json:"id"`
	SubStackID  string     `json:"substack_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Rank        int        `json:"rank"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuditEntry is a decision record for a state-mutating action.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DensityReport summarises a check of the active ordering.
type DensityReport struct {
	OK         bool      `json:"ok"`
	Active     int       `json:"active"`
	Missing    []int     `json:"missing,omitempty"`
	Duplicates []int     `json:"duplicates,omitempty"`
	OutOfRange []int     `json:"out_of_range,omitempty"`
	Unranked   []string  `json:"unranked,omitempty"`
	Stray      []string  `json:"stray,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}
