// Package store provides SQL persistence for onejob (SQLite by default, PostgreSQL optionally).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

// Options configures how a Store connects to its database.
type Options struct {
	Driver      string        // sqlite (default) or postgres
	DSN         string        // file path for sqlite, connection string for postgres
	BusyTimeout time.Duration // sqlite only
	Logger      *log.Logger
}

// Store provides access to the onejob database.
type Store struct {
	db *sql.DB
	runner
	log *log.Logger
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner binds an executor to a dialect so queries can be written once with ? placeholders.
type runner struct {
	ex executor
	d  dialect
}

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.ex.ExecContext(ctx, r.d.rebind(query), args...)
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.ex.QueryContext(ctx, r.d.rebind(query), args...)
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.ex.QueryRowContext(ctx, r.d.rebind(query), args...)
}

// New opens a SQLite store at dbPath with default options.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), Options{Driver: DriverSQLite, DSN: dbPath})
}

// Open connects to the configured database and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("store")

	dsn := opts.DSN
	if d.name == DriverSQLite {
		if opts.BusyTimeout <= 0 {
			opts.BusyTimeout = 5 * time.Second
		}
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dsn = sqliteDSN(dsn, opts.BusyTimeout)
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if d.name == DriverSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, runner: runner{ex: db, d: d}, log: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database ready", "driver", d.name)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the backend name.
func (s *Store) Driver() string {
	return s.d.name
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return ranking.Storage("ping", err)
	}
	return nil
}

// Now returns the current time at the precision every backend stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'active',
			rank INTEGER,
			seq BIGINT NOT NULL DEFAULT 0,
			deferred_at TIMESTAMP_T,
			deferral_count INTEGER NOT NULL DEFAULT 0,
			completed_at TIMESTAMP_T,
			created_at TIMESTAMP_T NOT NULL,
			updated_at TIMESTAMP_T NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT ''
		)`,
		// Single row serialising every rank-affecting transaction.
		`CREATE TABLE IF NOT EXISTS rank_lock (
			id INTEGER PRIMARY KEY,
			version BIGINT NOT NULL DEFAULT 0,
			next_seq BIGINT NOT NULL DEFAULT 0
		)`,
		`INSERT INTO rank_lock (id, version, next_seq) VALUES (1, 0, 0) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS substacks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			item_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP_T NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS substack_items (
			id TEXT PRIMARY KEY,
			substack_id TEXT NOT NULL REFERENCES substacks(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			rank INTEGER NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at TIMESTAMP_T,
			created_at TIMESTAMP_T NOT NULL,
			UNIQUE (substack_id, rank)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			task_id TEXT,
			details TEXT,
			timestamp TIMESTAMP_T NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state_rank ON tasks(state, rank)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_completed_at ON tasks(completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_substacks_task_id ON substacks(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_task_id ON audit_log(task_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.exec(ctx, s.d.ddl(stmt)); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
// Cancelling ctx rolls the transaction back.
func (s *Store) withTx(ctx context.Context, fn func(r runner) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ranking.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(runner{ex: tx, d: s.d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ranking.Storage("commit transaction", err)
	}
	return nil
}

// RankTx runs fn against the active set inside one transaction that holds the
// rank lock. Every rank-affecting operation must go through here.
func (s *Store) RankTx(ctx context.Context, fn func(set ranking.ActiveSet) error) error {
	return s.withTx(ctx, func(r runner) error {
		// Writing the lock row first takes the SQLite write lock, or the row lock
		// on PostgreSQL, before anything about the active set is read.
		if _, err := r.exec(ctx, `UPDATE rank_lock SET version = version + 1 WHERE id = 1`); err != nil {
			return ranking.Storage("acquire rank lock", err)
		}
		return fn(&activeSet{runner: r})
	})
}

// ItemTx runs fn against one substack's items inside a transaction that holds
// the substack row. Returns ranking.ErrNotFound when the substack does not exist.
func (s *Store) ItemTx(ctx context.Context, subStackID string, fn func(seq ranking.SubSequence) error) error {
	return s.withTx(ctx, func(r runner) error {
		res, err := r.exec(ctx, `UPDATE substacks SET item_count = item_count + 1 WHERE id = ?`, subStackID)
		if err != nil {
			return ranking.Storage("lock substack", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ranking.Storage("lock substack", err)
		}
		if n == 0 {
			return fmt.Errorf("substack %s: %w", subStackID, ranking.ErrNotFound)
		}
		return fn(&itemSequence{runner: r})
	})
}

// --- Task Operations ---

const taskColumns = `id, title, description, state, rank, seq, deferred_at, deferral_count,
	completed_at, created_at, updated_at, source, external_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(sc rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		state       string
		rank        sql.NullInt64
		deferredAt  sql.NullTime
		completedAt sql.NullTime
	)
	err := sc.Scan(&t.ID, &t.Title, &t.Description, &state, &rank, &t.Seq, &deferredAt, &t.DeferralCount,
		&completedAt, &t.CreatedAt, &t.UpdatedAt, &t.Source, &t.ExternalID)
	if err != nil {
		return nil, err
	}
	t.State = models.LifecycleState(state)
	if !t.State.Valid() {
		return nil, fmt.Errorf("task %s has unknown state %q: %w", t.ID, state, ranking.ErrConsistencyViolation)
	}
	if rank.Valid {
		r := int(rank.Int64)
		t.Rank = &r
	}
	if deferredAt.Valid {
		d := deferredAt.Time.UTC()
		t.DeferredAt = &d
	}
	if completedAt.Valid {
		c := completedAt.Time.UTC()
		t.CompletedAt = &c
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func getTask(ctx context.Context, r runner, id string) (*models.Task, error) {
	t, err := scanTask(r.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if errors.Is(err, ranking.ErrConsistencyViolation) {
		return nil, err
	}
	if err != nil {
		return nil, ranking.Storage("query task", err)
	}
	return t, nil
}

func listTasks(ctx context.Context, r runner, query string, args ...any) ([]models.Task, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, ranking.Storage("query tasks", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if errors.Is(err, ranking.ErrConsistencyViolation) {
			return nil, err
		}
		if err != nil {
			return nil, ranking.Storage("scan task", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, ranking.Storage("iterate tasks", err)
	}
	return tasks, nil
}

// GetTask retrieves a task by ID. Returns nil when it does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, s.runner, id)
}

// ErrAmbiguousID reports an ID prefix shared by more than one task.
var ErrAmbiguousID = errors.New("ambiguous task id prefix")

// ResolveTaskID expands ref to a full task ID. An exact ID wins; otherwise
// ref must be the prefix of exactly one task ID.
func (s *Store) ResolveTaskID(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	t, err := s.GetTask(ctx, ref)
	if err != nil {
		return "", err
	}
	if t != nil {
		return t.ID, nil
	}

	prefix := strings.ToLower(ref)
	if prefix == "" || strings.Trim(prefix, "0123456789abcdef-") != "" {
		return "", fmt.Errorf("task %s: %w", ref, ranking.ErrNotFound)
	}
	rows, err := s.query(ctx, `SELECT id FROM tasks WHERE id LIKE ? ORDER BY id LIMIT 2`, prefix+"%")
	if err != nil {
		return "", ranking.Storage("resolve task id", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", ranking.Storage("scan task id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", ranking.Storage("iterate task ids", err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("task %s: %w", ref, ranking.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%s: %w", ref, ErrAmbiguousID)
	}
}

// ListActive returns active tasks in rank order, top of the stack first.
func (s *Store) ListActive(ctx context.Context) ([]models.Task, error) {
	return listTasks(ctx, s.runner,
		`SELECT `+taskColumns+` FROM tasks WHERE state = ? ORDER BY rank ASC, seq ASC`,
		string(models.StateActive))
}

// ListDone returns done tasks, most recently completed first.
// Ties on completion time fall back to insertion order.
func (s *Store) ListDone(ctx context.Context) ([]models.Task, error) {
	return listTasks(ctx, s.runner,
		`SELECT `+taskColumns+` FROM tasks WHERE state = ? ORDER BY completed_at DESC, seq ASC`,
		string(models.StateDone))
}

// Entries returns the rank projection of every task in one statement.
func (s *Store) Entries(ctx context.Context) ([]ranking.Entry, error) {
	return entries(ctx, s.runner)
}

// UpdateTaskDetails changes title and/or description. Rank and state are untouched.
// Returns nil when the task does not exist.
func (s *Store) UpdateTaskDetails(ctx context.Context, id string, title, description *string, now time.Time) (*models.Task, error) {
	var t *models.Task
	err := s.withTx(ctx, func(r runner) error {
		cur, err := getTask(ctx, r, id)
		if err != nil || cur == nil {
			return err
		}
		if title != nil {
			cur.Title = *title
		}
		if description != nil {
			cur.Description = *description
		}
		cur.UpdatedAt = stamp(now)
		_, err = r.exec(ctx, `UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
			cur.Title, cur.Description, cur.UpdatedAt, id)
		if err != nil {
			return ranking.Storage("update task", err)
		}
		t = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
