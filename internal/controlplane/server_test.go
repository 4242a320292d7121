package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/logging"
	"github.com/onejob/onejob/internal/models"
	"github.com/onejob/onejob/internal/ranking"
	"github.com/onejob/onejob/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := logging.Discard()
	service := NewService(st, audit.NewRecorder(st, logger), logger, 0)
	return NewServer(service, "127.0.0.1:0", logger), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func createTask(t *testing.T, h http.Handler, title string) models.Task {
	t.Helper()
	w := do(t, h, http.MethodPost, "/tasks", CreateTaskInput{Title: title})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /tasks: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeBody[models.Task](t, w)
}

func activeTitles(t *testing.T, h http.Handler) []string {
	t.Helper()
	w := do(t, h, http.MethodGet, "/tasks?state=active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /tasks?state=active: %d", w.Code)
	}
	var titles []string
	for i, task := range decodeBody[[]models.Task](t, w) {
		if task.RankValue() != i+1 {
			t.Errorf("%s at position %d has rank %d", task.Title, i+1, task.RankValue())
		}
		titles = append(titles, task.Title)
	}
	return titles
}

func sameOrder(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	health := decodeBody[HealthResponse](t, w)
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Driver != "sqlite" {
		t.Errorf("Expected driver 'sqlite', got '%s'", health.Driver)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

type fixedIntegrity struct{ report models.DensityReport }

func (f fixedIntegrity) Last() (models.DensityReport, bool) { return f.report, true }

func TestHealthEndpoint_Integrity(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetIntegrity(fixedIntegrity{models.DensityReport{OK: false, Missing: []int{2}}})

	w := do(t, s.Handler(), http.MethodGet, "/health", nil)
	health := decodeBody[HealthResponse](t, w)
	if health.Integrity == nil || health.Integrity.OK {
		t.Fatalf("Expected failing integrity report, got %+v", health.Integrity)
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	s, st := newTestServer(t)

	// Close the store to simulate DB error
	st.Close()

	w := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	health := decodeBody[HealthResponse](t, w)
	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestTaskLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	createTask(t, h, "C")
	createTask(t, h, "B")
	a := createTask(t, h, "A")
	if a.RankValue() != 1 || a.State != models.StateActive {
		t.Fatalf("Expected new task active at rank 1, got %+v", a)
	}
	if got := activeTitles(t, h); !sameOrder(got, "A", "B", "C") {
		t.Fatalf("Unexpected order: %v", got)
	}

	// Defer A
	w := do(t, h, http.MethodPost, "/tasks/"+a.ID+"/defer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("defer: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	deferred := decodeBody[models.Task](t, w)
	if deferred.RankValue() != 3 || deferred.DeferralCount != 1 || deferred.DeferredAt == nil {
		t.Errorf("Unexpected deferred task: %+v", deferred)
	}
	if got := activeTitles(t, h); !sameOrder(got, "B", "C", "A") {
		t.Fatalf("Unexpected order after defer: %v", got)
	}

	// Complete A
	w = do(t, h, http.MethodPost, "/tasks/"+a.ID+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", w.Code)
	}
	done := decodeBody[models.Task](t, w)
	if done.Rank != nil || done.CompletedAt == nil {
		t.Errorf("Unexpected completed task: %+v", done)
	}

	// Completing twice conflicts
	w = do(t, h, http.MethodPost, "/tasks/"+a.ID+"/complete", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 completing a done task, got %d", w.Code)
	}
	if e := decodeBody[ErrorResponse](t, w); e.Kind != "invalid_state" {
		t.Errorf("Expected kind invalid_state, got %q", e.Kind)
	}

	// Deferring a done task conflicts and changes nothing
	w = do(t, h, http.MethodPost, "/tasks/"+a.ID+"/defer", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 deferring a done task, got %d", w.Code)
	}

	lists := decodeBody[TaskLists](t, do(t, h, http.MethodGet, "/tasks", nil))
	if len(lists.Active) != 2 || len(lists.Done) != 1 {
		t.Fatalf("Unexpected lists: %+v", lists)
	}

	// Reactivate A
	w = do(t, h, http.MethodPost, "/tasks/"+a.ID+"/reactivate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reactivate: expected 200, got %d", w.Code)
	}
	back := decodeBody[models.Task](t, w)
	if back.RankValue() != 1 || back.CompletedAt != nil || back.DeferredAt != nil || back.DeferralCount != 1 {
		t.Errorf("Unexpected reactivated task: %+v", back)
	}
	if got := activeTitles(t, h); !sameOrder(got, "A", "B", "C") {
		t.Fatalf("Unexpected order after reactivate: %v", got)
	}

	// Reactivating an active task conflicts
	if w := do(t, h, http.MethodPost, "/tasks/"+a.ID+"/reactivate", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 reactivating an active task, got %d", w.Code)
	}

	// Audit trail
	entries := decodeBody[[]models.AuditEntry](t, do(t, h, http.MethodGet, "/tasks/"+a.ID+"/audit", nil))
	if len(entries) < 5 {
		t.Errorf("Expected audit entries for every action, got %d", len(entries))
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/tasks", CreateTaskInput{Title: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty title, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad json, got %d", rec.Code)
	}
	if e := decodeBody[ErrorResponse](t, rec); e.Kind != "invalid_input" {
		t.Errorf("Expected kind invalid_input, got %q", e.Kind)
	}

	if w := do(t, h, http.MethodGet, "/tasks?state=deferred", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown state filter, got %d", w.Code)
	}
}

func TestUnknownTask(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/tasks/nope"},
		{http.MethodPost, "/tasks/nope/complete"},
		{http.MethodPost, "/tasks/nope/defer"},
		{http.MethodPost, "/tasks/nope/reactivate"},
		{http.MethodDelete, "/tasks/nope"},
		{http.MethodGet, "/tasks/nope/substacks"},
		{http.MethodPost, "/items/nope/toggle"},
	} {
		w := do(t, h, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestUpdateAndDeleteTask(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	createTask(t, h, "B")
	a := createTask(t, h, "A")

	title := "A2"
	w := do(t, h, http.MethodPatch, "/tasks/"+a.ID, UpdateTaskInput{Title: &title})
	if w.Code != http.StatusOK {
		t.Fatalf("PATCH: expected 200, got %d", w.Code)
	}
	if got := decodeBody[models.Task](t, w); got.Title != "A2" || got.RankValue() != 1 {
		t.Errorf("Unexpected task after edit: %+v", got)
	}

	if w := do(t, h, http.MethodDelete, "/tasks/"+a.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE: expected 204, got %d", w.Code)
	}
	if got := activeTitles(t, h); !sameOrder(got, "B") {
		t.Fatalf("Unexpected order after delete: %v", got)
	}
}

func TestSubStackEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	task := createTask(t, h, "A")

	w := do(t, h, http.MethodPost, "/tasks/"+task.ID+"/substacks", map[string]string{"name": "steps"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create substack: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	ss := decodeBody[models.SubStack](t, w)

	var items []models.SubStackItem
	for _, title := range []string{"one", "two", "three"} {
		w := do(t, h, http.MethodPost, "/substacks/"+ss.ID+"/items", AddItemInput{Title: title})
		if w.Code != http.StatusCreated {
			t.Fatalf("add item: expected 201, got %d", w.Code)
		}
		items = append(items, decodeBody[models.SubStackItem](t, w))
	}
	for i, it := range items {
		if it.Rank != i+1 {
			t.Errorf("Expected item rank %d, got %d", i+1, it.Rank)
		}
	}

	w = do(t, h, http.MethodPost, "/items/"+items[1].ID+"/toggle", nil)
	if w.Code != http.StatusOK || !decodeBody[models.SubStackItem](t, w).Completed {
		t.Fatalf("toggle: unexpected response %d", w.Code)
	}

	stacks := decodeBody[[]models.SubStack](t, do(t, h, http.MethodGet, "/tasks/"+task.ID+"/substacks", nil))
	if len(stacks) != 1 || len(stacks[0].Items) != 3 {
		t.Fatalf("Unexpected substacks: %+v", stacks)
	}
	for i, it := range stacks[0].Items {
		if it.Rank != i+1 {
			t.Errorf("Item %s moved to rank %d after toggle", it.Title, it.Rank)
		}
	}

	if w := do(t, h, http.MethodPost, "/substacks/nope/items", AddItemInput{Title: "x"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown substack, got %d", w.Code)
	}

	toggled := false
	for _, e := range decodeBody[[]models.AuditEntry](t, do(t, h, http.MethodGet, "/tasks/"+task.ID+"/audit", nil)) {
		if e.Action == audit.ActionItemToggle && e.TaskID == task.ID {
			toggled = true
		}
	}
	if !toggled {
		t.Error("Expected the item toggle in the task's audit trail")
	}
}

func TestTaskIDPrefix(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()

	b := createTask(t, h, "B")
	a := createTask(t, h, "A")

	w := do(t, h, http.MethodPost, "/tasks/"+a.ID[:8]+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete by prefix: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[models.Task](t, w); got.ID != a.ID || got.State != models.StateDone {
		t.Errorf("Expected %s done, got %+v", a.ID, got)
	}
	if got := activeTitles(t, h); !sameOrder(got, "B") {
		t.Fatalf("Unexpected order after complete: %v", got)
	}

	w = do(t, h, http.MethodGet, "/tasks/"+strings.ToUpper(b.ID[:6]), nil)
	if w.Code != http.StatusOK || decodeBody[models.Task](t, w).ID != b.ID {
		t.Errorf("get by prefix: expected %s, got %d", b.ID, w.Code)
	}

	// Two tasks sharing a prefix make it ambiguous.
	ctx := context.Background()
	for _, id := range []string{"cafe0001", "cafe0002"} {
		err := st.RankTx(ctx, func(set ranking.ActiveSet) error {
			_, err := ranking.InsertAtTop(ctx, set, &models.Task{ID: id, Title: id}, store.Now())
			return err
		})
		if err != nil {
			t.Fatalf("InsertAtTop(%s) failed: %v", id, err)
		}
	}
	w = do(t, h, http.MethodPost, "/tasks/cafe000/defer", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("ambiguous prefix: expected 400, got %d", w.Code)
	}
	if resp := decodeBody[ErrorResponse](t, w); resp.Kind != "invalid_input" {
		t.Errorf("Expected invalid_input, got %+v", resp)
	}
	if got := activeTitles(t, h); !sameOrder(got, "cafe0002", "cafe0001", "B") {
		t.Errorf("Ambiguous request changed the order: %v", got)
	}

	if w := do(t, h, http.MethodPost, "/tasks/cafe0001/defer", nil); w.Code != http.StatusOK {
		t.Errorf("defer by full id: expected 200, got %d", w.Code)
	}
}

func TestRankCheckAndRepair(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()
	createTask(t, h, "B")
	createTask(t, h, "A")

	report := decodeBody[models.DensityReport](t, do(t, h, http.MethodGet, "/ranks/check", nil))
	if !report.OK || report.Active != 2 {
		t.Fatalf("Expected healthy report, got %+v", report)
	}

	w := do(t, h, http.MethodPost, "/ranks/repair", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repair: expected 200, got %d", w.Code)
	}
	if res := decodeBody[RepairResult](t, w); res.Changed != 0 || !res.After.OK {
		t.Errorf("Unexpected repair result on a healthy stack: %+v", res)
	}

	// Audit entries were written for the repair.
	entries, err := st.ListAudit(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Action == audit.ActionRanksRepair {
			found = true
		}
	}
	if !found {
		t.Error("Expected ranks.repair audit entry")
	}
}
