package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// --- SubStack Operations ---

// CreateSubStack attaches a new named substack to a task.
func (s *Store) CreateSubStack(ctx context.Context, taskID, name string, now time.Time) (*models.SubStack, error) {
	ss := &models.SubStack{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Name:      name,
		CreatedAt: stamp(now),
		Items:     []models.SubStackItem{},
	}
	err := s.withTx(ctx, func(r runner) error {
		t, err := getTask(ctx, r, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("task %s: %w", taskID, ranking.ErrNotFound)
		}
		_, err = r.exec(ctx,
			`INSERT INTO substacks (id, task_id, name, item_count, created_at) VALUES (?, ?, ?, 0, ?)`,
			ss.ID, ss.TaskID, ss.Name, ss.CreatedAt,
		)
		if err != nil {
			return ranking.Storage("insert substack", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ss, nil
}

// GetSubStack returns a substack with its items in rank order, or nil when it does not exist.
func (s *Store) GetSubStack(ctx context.Context, id string) (*models.SubStack, error) {
	ss := &models.SubStack{}
	err := s.queryRow(ctx, `SELECT id, task_id, name, created_at FROM substacks WHERE id = ?`, id).
		Scan(&ss.ID, &ss.TaskID, &ss.Name, &ss.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ranking.Storage("query substack", err)
	}
	ss.CreatedAt = ss.CreatedAt.UTC()
	items, err := s.listItems(ctx, `WHERE substack_id = ?`, id)
	if err != nil {
		return nil, err
	}
	ss.Items = items
	return ss, nil
}

// ListSubStacks returns every substack of a task, oldest first, each with its items.
func (s *Store) ListSubStacks(ctx context.Context, taskID string) ([]models.SubStack, error) {
	rows, err := s.query(ctx,
		`SELECT id, task_id, name, created_at FROM substacks WHERE task_id = ? ORDER BY created_at ASC, id ASC`,
		taskID,
	)
	if err != nil {
		return nil, ranking.Storage("query substacks", err)
	}

	stacks := []models.SubStack{}
	index := map[string]int{}
	for rows.Next() {
		var ss models.SubStack
		if err := rows.Scan(&ss.ID, &ss.TaskID, &ss.Name, &ss.CreatedAt); err != nil {
			rows.Close()
			return nil, ranking.Storage("scan substack", err)
		}
		ss.CreatedAt = ss.CreatedAt.UTC()
		ss.Items = []models.SubStackItem{}
		index[ss.ID] = len(stacks)
		stacks = append(stacks, ss)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, ranking.Storage("iterate substacks", err)
	}
	if len(stacks) == 0 {
		return stacks, nil
	}

	items, err := s.listItems(ctx, `WHERE substack_id IN (SELECT id FROM substacks WHERE task_id = ?)`, taskID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if i, ok := index[it.SubStackID]; ok {
			stacks[i].Items = append(stacks[i].Items, it)
		}
	}
	return stacks, nil
}

// --- Item Operations ---

// AddItem appends an item to a substack; its rank is max+1 within that substack.
func (s *Store) AddItem(ctx context.Context, subStackID, title, description string, now time.Time) (*models.SubStackItem, error) {
	item := &models.SubStackItem{
		ID:          uuid.New().String(),
		SubStackID:  subStackID,
		Title:       title,
		Description: description,
		CreatedAt:   stamp(now),
	}
	err := s.ItemTx(ctx, subStackID, func(seq ranking.SubSequence) error {
		_, err := ranking.AppendItem(ctx, seq, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetItem returns a substack item, or nil when it does not exist.
func (s *Store) GetItem(ctx context.Context, id string) (*models.SubStackItem, error) {
	items, err := s.listItems(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ToggleItem flips an item's completion flag. No other item's rank changes.
func (s *Store) ToggleItem(ctx context.Context, id string, now time.Time) (*models.SubStackItem, error) {
	var item *models.SubStackItem
	err := s.withTx(ctx, func(r runner) error {
		items, err := listItems(ctx, r, `WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("item %s: %w", id, ranking.ErrNotFound)
		}
		it := items[0]
		it.Completed = !it.Completed
		if it.Completed {
			done := stamp(now)
			it.CompletedAt = &done
		} else {
			it.CompletedAt = nil
		}
		_, err = r.exec(ctx, `UPDATE substack_items SET completed = ?, completed_at = ? WHERE id = ?`,
			it.Completed, nullTime(it.CompletedAt), id)
		if err != nil {
			return ranking.Storage("toggle item", err)
		}
		item = &it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) listItems(ctx context.Context, where string, args ...any) ([]models.SubStackItem, error) {
	return listItems(ctx, s.runner, where, args...)
}

func listItems(ctx context.Context, r runner, where string, args ...any) ([]models.SubStackItem, error) {
	rows, err := r.query(ctx,
		`SELECT id, substack_id, title, description, rank, completed, completed_at, created_at
		 FROM substack_items `+where+` ORDER BY substack_id, rank ASC`,
		args...,
	)
	if err != nil {
		return nil, ranking.Storage("query items", err)
	}
	defer rows.Close()

	items := []models.SubStackItem{}
	for rows.Next() {
		var (
			it          models.SubStackItem
			completedAt sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.SubStackID, &it.Title, &it.Description, &it.Rank, &it.Completed,
			&completedAt, &it.CreatedAt); err != nil {
			return nil, ranking.Storage("scan item", err)
		}
		if completedAt.Valid {
			c := completedAt.Time.UTC()
			it.CompletedAt = &c
		}
		it.CreatedAt = it.CreatedAt.UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, ranking.Storage("iterate items", err)
	}
	return items, nil
}
