// Package controlplane provides the HTTP API and service layer for onejob.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
	"github.com/onejob/onejob/internal/store"
)

// DefaultTxTimeout bounds every storage transaction when none is configured.
const DefaultTxTimeout = 5 * time.Second

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	audit     *audit.Recorder
	log       *log.Logger
	txTimeout time.Duration
	now       func() time.Time
}

// NewService creates a new control plane service.
func NewService(s *store.Store, rec *audit.Recorder, logger *log.Logger, txTimeout time.Duration) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &Service{
		store:     s,
		audit:     rec,
		log:       logger.WithPrefix("service"),
		txTimeout: txTimeout,
		now:       store.Now,
	}
}

// Store exposes the underlying store to in-process collaborators (monitor, snapshot).
func (s *Service) Store() *store.Store {
	return s.store
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.txTimeout)
}

// --- Task Operations ---

// CreateTaskInput carries the caller-owned fields of a new task.
type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
}

// CreateTask creates a task at the top of the active stack.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	now := s.now()
	task := &models.Task{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		CreatedAt:   now,
		Source:      in.Source,
		ExternalID:  in.ExternalID,
	}
	return s.rankOp(ctx, audit.ActionTaskCreate, "", in, func(ctx context.Context, set ranking.ActiveSet) (*models.Task, error) {
		return ranking.InsertAtTop(ctx, set, task, now)
	})
}

// CompleteTask marks an active task done and closes its gap.
func (s *Service) CompleteTask(ctx context.Context, ref string) (*models.Task, error) {
	return s.taskOp(ctx, audit.ActionTaskComplete, ref, func(ctx context.Context, set ranking.ActiveSet, id string) (*models.Task, error) {
		return ranking.RemoveFromOrder(ctx, set, id, s.now())
	})
}

// DeferTask moves an active task to the bottom of the stack.
func (s *Service) DeferTask(ctx context.Context, ref string) (*models.Task, error) {
	return s.taskOp(ctx, audit.ActionTaskDefer, ref, func(ctx context.Context, set ranking.ActiveSet, id string) (*models.Task, error) {
		return ranking.MoveToBottom(ctx, set, id, s.now())
	})
}

// ReactivateTask puts a done task back on top of the stack.
func (s *Service) ReactivateTask(ctx context.Context, ref string) (*models.Task, error) {
	return s.taskOp(ctx, audit.ActionTaskReactivate, ref, func(ctx context.Context, set ranking.ActiveSet, id string) (*models.Task, error) {
		return ranking.ReinsertAtTop(ctx, set, id, s.now())
	})
}

// DeleteTask removes a task; an active task's gap is closed first.
func (s *Service) DeleteTask(ctx context.Context, ref string) error {
	_, err := s.taskOp(ctx, audit.ActionTaskDelete, ref, func(ctx context.Context, set ranking.ActiveSet, id string) (*models.Task, error) {
		t, err := ranking.Detach(ctx, set, id)
		if err != nil {
			return nil, err
		}
		t.SetRank(0)
		return t, nil
	})
	return err
}

// resolveTask expands a full task ID or a unique ID prefix.
func (s *Service) resolveTask(ctx context.Context, ref string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	id, err := s.store.ResolveTaskID(ctx, ref)
	if errors.Is(err, store.ErrAmbiguousID) {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return id, err
}

// taskOp resolves ref and runs a rank operation on the task it names.
func (s *Service) taskOp(ctx context.Context, action, ref string,
	op func(ctx context.Context, set ranking.ActiveSet, id string) (*models.Task, error)) (*models.Task, error) {
	id, err := s.resolveTask(ctx, ref)
	if err != nil {
		s.audit.RecordResult(ctx, action, idInput(ref), "", err)
		s.logFailure(action, ref, err)
		return nil, err
	}
	return s.rankOp(ctx, action, id, idInput(id), func(ctx context.Context, set ranking.ActiveSet) (*models.Task, error) {
		return op(ctx, set, id)
	})
}

// rankOp runs a rank-affecting operation in one bounded, locked transaction,
// then logs and audits the outcome.
func (s *Service) rankOp(ctx context.Context, action, id string, inputs any,
	op func(ctx context.Context, set ranking.ActiveSet) (*models.Task, error)) (*models.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		out    *models.Task
		before int
	)
	err := s.store.RankTx(ctx, func(set ranking.ActiveSet) error {
		if id != "" {
			if prev, err := set.Get(ctx, id); err == nil && prev != nil {
				before = prev.RankValue()
			}
		}
		t, err := op(ctx, set)
		if err != nil {
			return err
		}
		out = t
		return nil
	})

	taskID := id
	if out != nil {
		taskID = out.ID
	}
	s.audit.RecordResult(ctx, action, inputs, taskID, err)

	if err != nil {
		s.logFailure(action, taskID, err)
		return nil, err
	}
	s.log.Info(action, "task_id", out.ID, "rank_before", before, "rank_after", out.RankValue(), "state", out.State)
	return out, nil
}

func (s *Service) logFailure(action, taskID string, err error) {
	switch {
	case errors.Is(err, ranking.ErrConsistencyViolation):
		s.log.Error(action+" failed", "task_id", taskID, "kind", errorKind(err), "err", err)
	case errors.Is(err, ranking.ErrStorage):
		s.log.Warn(action+" failed", "task_id", taskID, "kind", errorKind(err), "err", err)
	default:
		s.log.Debug(action+" rejected", "task_id", taskID, "kind", errorKind(err), "err", err)
	}
}

func idInput(id string) map[string]string {
	return map[string]string{"task_id": id}
}

// GetTask retrieves a task by ID or unique ID prefix.
func (s *Service) GetTask(ctx context.Context, ref string) (*models.Task, error) {
	id, err := s.resolveTask(ctx, ref)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", id, ranking.ErrNotFound)
	}
	return t, nil
}

// ListActive returns active tasks sorted by rank.
func (s *Service) ListActive(ctx context.Context) ([]models.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListActive(ctx)
}

// ListDone returns done tasks, most recently completed first.
func (s *Service) ListDone(ctx context.Context) ([]models.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListDone(ctx)
}

// UpdateTaskInput carries optional title/description edits.
type UpdateTaskInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateTask edits a task's text fields without touching its rank or state.
func (s *Service) UpdateTask(ctx context.Context, ref string, in UpdateTaskInput) (*models.Task, error) {
	if in.Title != nil {
		trimmed := strings.TrimSpace(*in.Title)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		in.Title = &trimmed
	}
	id, err := s.resolveTask(ctx, ref)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.store.UpdateTaskDetails(ctx, id, in.Title, in.Description, s.now())
	if err == nil && t == nil {
		err = fmt.Errorf("task %s: %w", id, ranking.ErrNotFound)
	}
	s.audit.RecordResult(ctx, audit.ActionTaskUpdate, in, id, err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListAudit returns audit entries for a task (all entries when taskID is empty).
// Entries of deleted tasks stay reachable by their full ID.
func (s *Service) ListAudit(ctx context.Context, taskID string, limit int) ([]models.AuditEntry, error) {
	if taskID != "" {
		id, err := s.resolveTask(ctx, taskID)
		switch {
		case err == nil:
			taskID = id
		case !errors.Is(err, ranking.ErrNotFound):
			return nil, err
		}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListAudit(ctx, taskID, limit)
}

// --- SubStack Operations ---

// CreateSubStack attaches a named substack to a task.
func (s *Service) CreateSubStack(ctx context.Context, taskID, name string) (*models.SubStack, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	taskID, err := s.resolveTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ss, err := s.store.CreateSubStack(ctx, taskID, name, s.now())
	s.audit.RecordResult(ctx, audit.ActionSubStackCreate, map[string]string{"task_id": taskID, "name": name}, taskID, err)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

// ListSubStacks returns the substacks of a task with their items.
func (s *Service) ListSubStacks(ctx context.Context, taskID string) ([]models.SubStack, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListSubStacks(ctx, t.ID)
}

// AddItemInput carries a new substack item.
type AddItemInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AddItem appends an item to a substack.
func (s *Service) AddItem(ctx context.Context, subStackID string, in AddItemInput) (*models.SubStackItem, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.store.AddItem(ctx, subStackID, in.Title, in.Description, s.now())
	taskID := ""
	if ss, gerr := s.store.GetSubStack(ctx, subStackID); gerr == nil && ss != nil {
		taskID = ss.TaskID
	}
	s.audit.RecordResult(ctx, audit.ActionItemCreate, in, taskID, err)
	if err != nil {
		return nil, err
	}
	s.log.Info(audit.ActionItemCreate, "substack_id", subStackID, "item_id", item.ID, "rank", item.Rank)
	return item, nil
}

// ToggleItem flips a substack item's completion.
func (s *Service) ToggleItem(ctx context.Context, itemID string) (*models.SubStackItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.store.ToggleItem(ctx, itemID, s.now())
	s.audit.RecordResult(ctx, audit.ActionItemToggle, map[string]string{"item_id": itemID}, s.itemTaskID(ctx, itemID), err)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// itemTaskID finds the task owning an item through its substack; empty when unknown.
func (s *Service) itemTaskID(ctx context.Context, itemID string) string {
	it, err := s.store.GetItem(ctx, itemID)
	if err != nil || it == nil {
		return ""
	}
	ss, err := s.store.GetSubStack(ctx, it.SubStackID)
	if err != nil || ss == nil {
		return ""
	}
	return ss.TaskID
}

// --- Rank Integrity ---

// CheckRanks inspects the active ordering without changing anything.
func (s *Service) CheckRanks(ctx context.Context) (models.DensityReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return models.DensityReport{}, err
	}
	return ranking.Inspect(entries, s.now()), nil
}

// RepairResult reports what a repair changed.
type RepairResult struct {
	Changed int                  `json:"changed"`
	Before  models.DensityReport `json:"before"`
	After   models.DensityReport `json:"after"`
}

// RepairRanks renumbers the active ordering to 1..N. Operator action only.
func (s *Service) RepairRanks(ctx context.Context) (*RepairResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res := &RepairResult{}
	err := s.store.RankTx(ctx, func(set ranking.ActiveSet) error {
		entries, err := set.Entries(ctx)
		if err != nil {
			return err
		}
		res.Before = ranking.Inspect(entries, s.now())
		if res.Changed, err = ranking.Renumber(ctx, set); err != nil {
			return err
		}
		if entries, err = set.Entries(ctx); err != nil {
			return err
		}
		res.After = ranking.Inspect(entries, s.now())
		return ranking.ReportError(res.After)
	})
	s.audit.RecordResult(ctx, audit.ActionRanksRepair, nil, "", err)
	if err != nil {
		s.logFailure(audit.ActionRanksRepair, "", err)
		return nil, err
	}
	s.log.Info(audit.ActionRanksRepair, "changed", res.Changed, "was_ok", res.Before.OK)
	return res, nil
}

// Health reports whether the database answers.
func (s *Service) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}
