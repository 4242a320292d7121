// Package ranking maintains the dense 1..N ordering of active tasks.
//
// The four operations here are the only legal ways to change a task's rank.
// Each one reads the subject, shifts the rest of the active set, and writes the
// subject back through an ActiveSet. Callers must hand in an ActiveSet bound to
// a single transaction that already holds the active-set lock; the functions
// themselves never commit.
package ranking

import (
	"context"
	"time"

	"github.com/onejob/onejob/internal/models"
)

// ActiveSet is a transactional handle over every task's rank.
type ActiveSet interface {
	// Get returns the task with id, or nil when it does not exist.
	Get(ctx context.Context, id string) (*models.Task, error)
	// Insert stores a new task.
	Insert(ctx context.Context, t *models.Task) error
	// Save writes the state, rank and audit fields of an existing task.
	Save(ctx context.Context, t *models.Task) error
	// Delete removes a task record.
	Delete(ctx context.Context, id string) error
	// ShiftAfter adds delta to the rank of every active task other than skip
	// whose rank is greater than after.
	ShiftAfter(ctx context.Context, after, delta int, skip string) error
	// MaxRank returns the highest active rank, ignoring skip. 0 when none.
	MaxRank(ctx context.Context, skip string) (int, error)
	// NextSeq returns the next insertion sequence number.
	NextSeq(ctx context.Context) (int64, error)
	// Entries lists the rank-relevant fields of every task.
	Entries(ctx context.Context) ([]Entry, error)
	// AssignRank overwrites a single task's rank. Used only by Renumber.
	AssignRank(ctx context.Context, id string, rank int) error
}

// Entry is the rank-relevant projection of a task.
type Entry struct {
	ID    string
	State models.LifecycleState
	Rank  int // 0 when unset
	Seq   int64
}

// InsertAtTop stores a brand-new task at rank 1, pushing every active task down by one.
func InsertAtTop(ctx context.Context, set ActiveSet, t *models.Task, now time.Time) (*models.Task, error) {
	seq, err := set.NextSeq(ctx)
	if err != nil {
		return nil, Storage("next seq", err)
	}
	if err := set.ShiftAfter(ctx, 0, 1, t.ID); err != nil {
		return nil, Storage("shift active ranks", err)
	}

	t.State = models.StateActive
	t.SetRank(1)
	t.Seq = seq
	t.CompletedAt = nil
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if err := set.Insert(ctx, t); err != nil {
		return nil, Storage("insert task", err)
	}
	return t, nil
}

// RemoveFromOrder takes an active task out of the ordering and marks it done.
// Every task ranked below it moves up by one.
func RemoveFromOrder(ctx context.Context, set ActiveSet, id string, now time.Time) (*models.Task, error) {
	t, err := load(ctx, set, id)
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, invalidState("task %s is already %s", id, t.State)
	}
	r := t.RankValue()
	if r == 0 {
		return nil, inconsistent("active task %s has no rank", id)
	}

	if err := set.ShiftAfter(ctx, r, -1, id); err != nil {
		return nil, Storage("close rank gap", err)
	}

	t.State = models.StateDone
	t.SetRank(0)
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := set.Save(ctx, t); err != nil {
		return nil, Storage("save task", err)
	}
	return t, nil
}

// MoveToBottom defers an active task: it becomes the last-ranked active task,
// tasks formerly below it move up by one and ranks above it are untouched.
func MoveToBottom(ctx context.Context, set ActiveSet, id string, now time.Time) (*models.Task, error) {
	t, err := load(ctx, set, id)
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, invalidState("cannot defer %s task %s", t.State, id)
	}
	// Captured before any write; the shift below must use this value only.
	original := t.RankValue()
	if original == 0 {
		return nil, inconsistent("active task %s has no rank", id)
	}

	if err := set.ShiftAfter(ctx, original, -1, id); err != nil {
		return nil, Storage("close rank gap", err)
	}
	newMax, err := set.MaxRank(ctx, id)
	if err != nil {
		return nil, Storage("read max rank", err)
	}

	t.SetRank(newMax + 1)
	t.DeferredAt = &now
	t.DeferralCount++
	t.UpdatedAt = now
	if err := set.Save(ctx, t); err != nil {
		return nil, Storage("save task", err)
	}
	return t, nil
}

// ReinsertAtTop reactivates a done task at rank 1, pushing every active task down by one.
func ReinsertAtTop(ctx context.Context, set ActiveSet, id string, now time.Time) (*models.Task, error) {
	t, err := load(ctx, set, id)
	if err != nil {
		return nil, err
	}
	if t.Active() {
		return nil, invalidState("task %s is already active", id)
	}
	if t.Rank != nil {
		return nil, inconsistent("done task %s still holds rank %d", id, *t.Rank)
	}

	if err := set.ShiftAfter(ctx, 0, 1, id); err != nil {
		return nil, Storage("shift active ranks", err)
	}

	t.State = models.StateActive
	t.SetRank(1)
	t.CompletedAt = nil
	t.DeferredAt = nil
	t.UpdatedAt = now
	if err := set.Save(ctx, t); err != nil {
		return nil, Storage("save task", err)
	}
	return t, nil
}

// Detach deletes a task. An active task leaves the ordering first, closing its gap.
func Detach(ctx context.Context, set ActiveSet, id string) (*models.Task, error) {
	t, err := load(ctx, set, id)
	if err != nil {
		return nil, err
	}
	if t.Active() {
		r := t.RankValue()
		if r == 0 {
			return nil, inconsistent("active task %s has no rank", id)
		}
		if err := set.ShiftAfter(ctx, r, -1, id); err != nil {
			return nil, Storage("close rank gap", err)
		}
	}
	if err := set.Delete(ctx, id); err != nil {
		return nil, Storage("delete task", err)
	}
	return t, nil
}

func load(ctx context.Context, set ActiveSet, id string) (*models.Task, error) {
	t, err := set.Get(ctx, id)
	if err != nil {
		return nil, Storage("load task", err)
	}
	if t == nil {
		return nil, notFound(id)
	}
	return t, nil
}
