package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// activeSet is the ranking.ActiveSet handed out by RankTx. It is only valid
// for the lifetime of that transaction.
type activeSet struct {
	runner
}

var _ ranking.ActiveSet = (*activeSet)(nil)

func (a *activeSet) Get(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, a.runner, id)
}

func (a *activeSet) Insert(ctx context.Context, t *models.Task) error {
	t.CreatedAt = stamp(t.CreatedAt)
	t.UpdatedAt = stamp(t.UpdatedAt)
	_, err := a.exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.State), nullRank(t.Rank), t.Seq, nullTime(t.DeferredAt),
		t.DeferralCount, nullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt, t.Source, t.ExternalID,
	)
	if err != nil {
		return ranking.Storage("insert task", err)
	}
	return nil
}

func (a *activeSet) Save(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = stamp(t.UpdatedAt)
	_, err := a.exec(ctx,
		`UPDATE tasks SET state = ?, rank = ?, deferred_at = ?, deferral_count = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(t.State), nullRank(t.Rank), nullTime(t.DeferredAt), t.DeferralCount, nullTime(t.CompletedAt),
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return ranking.Storage("save task", err)
	}
	return nil
}

func (a *activeSet) Delete(ctx context.Context, id string) error {
	if _, err := a.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return ranking.Storage("delete task", err)
	}
	return nil
}

func (a *activeSet) ShiftAfter(ctx context.Context, after, delta int, skip string) error {
	_, err := a.exec(ctx,
		`UPDATE tasks SET rank = rank + ? WHERE state = ? AND rank > ? AND id <> ?`,
		delta, string(models.StateActive), after, skip,
	)
	if err != nil {
		return ranking.Storage("shift ranks", err)
	}
	return nil
}

func (a *activeSet) MaxRank(ctx context.Context, skip string) (int, error) {
	var max int
	err := a.queryRow(ctx,
		`SELECT COALESCE(MAX(rank), 0) FROM tasks WHERE state = ? AND id <> ?`,
		string(models.StateActive), skip,
	).Scan(&max)
	if err != nil {
		return 0, ranking.Storage("query max rank", err)
	}
	return max, nil
}

func (a *activeSet) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := a.queryRow(ctx, `UPDATE rank_lock SET next_seq = next_seq + 1 WHERE id = 1 RETURNING next_seq`).Scan(&seq)
	if err != nil {
		return 0, ranking.Storage("next seq", err)
	}
	return seq, nil
}

func (a *activeSet) Entries(ctx context.Context) ([]ranking.Entry, error) {
	return entries(ctx, a.runner)
}

func (a *activeSet) AssignRank(ctx context.Context, id string, rank int) error {
	var r *int
	if rank > 0 {
		r = &rank
	}
	if _, err := a.exec(ctx, `UPDATE tasks SET rank = ? WHERE id = ?`, nullRank(r), id); err != nil {
		return ranking.Storage("assign rank", err)
	}
	return nil
}

func entries(ctx context.Context, r runner) ([]ranking.Entry, error) {
	rows, err := r.query(ctx, `SELECT id, state, rank, seq FROM tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, ranking.Storage("query entries", err)
	}
	defer rows.Close()

	var out []ranking.Entry
	for rows.Next() {
		var (
			e     ranking.Entry
			state string
			rank  sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &state, &rank, &e.Seq); err != nil {
			return nil, ranking.Storage("scan entry", err)
		}
		e.State = models.LifecycleState(state)
		if rank.Valid {
			e.Rank = int(rank.Int64)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ranking.Storage("iterate entries", err)
	}
	return out, nil
}

// itemSequence is the ranking.SubSequence handed out by ItemTx.
type itemSequence struct {
	runner
}

var _ ranking.SubSequence = (*itemSequence)(nil)

func (q *itemSequence) MaxItemRank(ctx context.Context, subStackID string) (int, error) {
	var max int
	err := q.queryRow(ctx, `SELECT COALESCE(MAX(rank), 0) FROM substack_items WHERE substack_id = ?`, subStackID).Scan(&max)
	if err != nil {
		return 0, ranking.Storage("query max item rank", err)
	}
	return max, nil
}

func (q *itemSequence) InsertItem(ctx context.Context, item *models.SubStackItem) error {
	item.CreatedAt = stamp(item.CreatedAt)
	_, err := q.exec(ctx,
		`INSERT INTO substack_items (id, substack_id, title, description, rank, completed, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SubStackID, item.Title, item.Description, item.Rank, item.Completed,
		nullTime(item.CompletedAt), item.CreatedAt,
	)
	if err != nil {
		return ranking.Storage("insert item", err)
	}
	return nil
}

func nullRank(r *int) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*r), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: stamp(*t), Valid: true}
}
