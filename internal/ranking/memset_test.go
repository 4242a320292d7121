package ranking

import (
	"context"
	"errors"
	"sort"

	"github.com/onejob/onejob/internal/models"
)

// memSet is an in-memory ActiveSet for exercising the rank algorithms.
type memSet struct {
	tasks  map[string]*models.Task
	seq    int64
	failOn string // method name to fail, for rollback tests
	items  map[string][]models.SubStackItem
}

var errInjected = errors.New("injected failure")

func newMemSet() *memSet {
	return &memSet{
		tasks: make(map[string]*models.Task),
		items: make(map[string][]models.SubStackItem),
	}
}

func (m *memSet) fail(op string) error {
	if m.failOn == op {
		return errInjected
	}
	return nil
}

func (m *memSet) Get(_ context.Context, id string) (*models.Task, error) {
	if err := m.fail("Get"); err != nil {
		return nil, err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *memSet) Insert(_ context.Context, t *models.Task) error {
	if err := m.fail("Insert"); err != nil {
		return err
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memSet) Save(_ context.Context, t *models.Task) error {
	if err := m.fail("Save"); err != nil {
		return err
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memSet) Delete(_ context.Context, id string) error {
	if err := m.fail("Delete"); err != nil {
		return err
	}
	delete(m.tasks, id)
	return nil
}

func (m *memSet) ShiftAfter(_ context.Context, after, delta int, skip string) error {
	if err := m.fail("ShiftAfter"); err != nil {
		return err
	}
	for id, t := range m.tasks {
		if id == skip || !t.Active() || t.Rank == nil || *t.Rank <= after {
			continue
		}
		t.SetRank(*t.Rank + delta)
	}
	return nil
}

func (m *memSet) MaxRank(_ context.Context, skip string) (int, error) {
	if err := m.fail("MaxRank"); err != nil {
		return 0, err
	}
	max := 0
	for id, t := range m.tasks {
		if id != skip && t.Active() && t.RankValue() > max {
			max = t.RankValue()
		}
	}
	return max, nil
}

func (m *memSet) NextSeq(_ context.Context) (int64, error) {
	if err := m.fail("NextSeq"); err != nil {
		return 0, err
	}
	m.seq++
	return m.seq, nil
}

func (m *memSet) Entries(_ context.Context) ([]Entry, error) {
	if err := m.fail("Entries"); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, Entry{ID: t.ID, State: t.State, Rank: t.RankValue(), Seq: t.Seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memSet) AssignRank(_ context.Context, id string, rank int) error {
	if err := m.fail("AssignRank"); err != nil {
		return err
	}
	m.tasks[id].SetRank(rank)
	return nil
}

func (m *memSet) MaxItemRank(_ context.Context, subStackID string) (int, error) {
	if err := m.fail("MaxItemRank"); err != nil {
		return 0, err
	}
	max := 0
	for _, it := range m.items[subStackID] {
		if it.Rank > max {
			max = it.Rank
		}
	}
	return max, nil
}

func (m *memSet) InsertItem(_ context.Context, item *models.SubStackItem) error {
	if err := m.fail("InsertItem"); err != nil {
		return err
	}
	m.items[item.SubStackID] = append(m.items[item.SubStackID], *item)
	return nil
}

// snapshot copies the whole set so a failed operation can be rolled back,
// mirroring what a transaction does in the store.
func (m *memSet) snapshot() map[string]*models.Task {
	out := make(map[string]*models.Task, len(m.tasks))
	for id, t := range m.tasks {
		out[id] = t.Clone()
	}
	return out
}

// activeOrder returns active task ids sorted by rank.
func (m *memSet) activeOrder() []string {
	var active []*models.Task
	for _, t := range m.tasks {
		if t.Active() {
			active = append(active, t)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].RankValue() < active[j].RankValue() })
	ids := make([]string, len(active))
	for i, t := range active {
		ids[i] = t.ID
	}
	return ids
}

func (m *memSet) activeRanks() []int {
	var ranks []int
	for _, t := range m.tasks {
		if t.Active() {
			ranks = append(ranks, t.RankValue())
		}
	}
	return ranks
}
