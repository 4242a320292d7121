// Package snapshot exports and imports the task stack as JSON lines.
//
// An export lists active tasks in rank order followed by done tasks, newest
// completion first. An import replays the file through the rank operations so
// the active ordering stays dense no matter what ranks the file carries.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
)

//go:embed task.schema.json
var taskSchemaJSON string

const schemaURL = "task.schema.json"

// ErrInvalidSnapshot is returned for lines that fail to parse or validate.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Source lists tasks for export.
type Source interface {
	ListActive(ctx context.Context) ([]models.Task, error)
	ListDone(ctx context.Context) ([]models.Task, error)
}

// Target applies imported tasks inside a single rank transaction.
type Target interface {
	RankTx(ctx context.Context, fn func(set ranking.ActiveSet) error) error
}

// Result summarises an import.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Export writes every task to w, one JSON object per line.
func Export(ctx context.Context, src Source, w io.Writer) (int, error) {
	active, err := src.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	done, err := src.ListDone(ctx)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	n := 0
	for _, tasks := range [][]models.Task{active, done} {
		for i := range tasks {
			if err := enc.Encode(&tasks[i]); err != nil {
				return n, fmt.Errorf("write task %s: %w", tasks[i].ID, err)
			}
			n++
		}
	}
	return n, nil
}

// Read parses and validates a snapshot without touching storage.
func Read(r io.Reader) ([]models.Task, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	var tasks []models.Task
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSnapshot, line, err)
		}
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSnapshot, line, err)
		}

		var t models.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSnapshot, line, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: line %d: duplicate id %s", ErrInvalidSnapshot, line, t.ID)
		}
		seen[t.ID] = true
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return tasks, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaURL, strings.NewReader(taskSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Import reads a snapshot and applies it in one transaction. Tasks whose id
// already exists are skipped. Imported active tasks keep their relative order
// and land above any tasks already on the stack. A nil recorder disables
// auditing.
func Import(ctx context.Context, dst Target, r io.Reader, rec *audit.Recorder, now time.Time) (*Result, error) {
	tasks, err := Read(r)
	if err != nil {
		return nil, err
	}

	var active, done []models.Task
	for _, t := range tasks {
		if t.Active() {
			active = append(active, t)
		} else {
			done = append(done, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].RankValue() < active[j].RankValue()
	})

	res := &Result{}
	err = dst.RankTx(ctx, func(set ranking.ActiveSet) error {
		res.Imported, res.Skipped = 0, 0

		for i := range done {
			ok, err := absent(ctx, set, done[i].ID)
			if err != nil {
				return err
			}
			if !ok {
				res.Skipped++
				continue
			}
			t := done[i].Clone()
			if t.Seq, err = set.NextSeq(ctx); err != nil {
				return ranking.Storage("next seq", err)
			}
			t.Rank = nil
			if t.UpdatedAt.IsZero() {
				t.UpdatedAt = now
			}
			if err := set.Insert(ctx, t); err != nil {
				return ranking.Storage("insert task", err)
			}
			res.Imported++
		}

		// Bottom first, so the file's top task ends at rank 1.
		for i := len(active) - 1; i >= 0; i-- {
			ok, err := absent(ctx, set, active[i].ID)
			if err != nil {
				return err
			}
			if !ok {
				res.Skipped++
				continue
			}
			if _, err := ranking.InsertAtTop(ctx, set, active[i].Clone(), now); err != nil {
				return err
			}
			res.Imported++
		}

		entries, err := set.Entries(ctx)
		if err != nil {
			return ranking.Storage("list entries", err)
		}
		return ranking.ReportError(ranking.Inspect(entries, now))
	})
	if rec != nil {
		rec.RecordResult(ctx, audit.ActionImport, map[string]int{"tasks": len(tasks)}, "", err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func absent(ctx context.Context, set ranking.ActiveSet, id string) (bool, error) {
	existing, err := set.Get(ctx, id)
	if err != nil {
		return false, ranking.Storage("get task", err)
	}
	return existing == nil, nil
}
