package tui

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/onejob/onejob/internal/audit"
	"github.com/onejob/onejob/internal/controlplane"
	"github.com/onejob/onejob/internal/logging"
	"github.com/onejob/onejob/internal/store"
)

func newTestApp(t *testing.T) (*App, *controlplane.Service) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "tui.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := logging.Discard()
	svc := controlplane.NewService(st, audit.NewRecorder(st, logger), logger, 0)
	ts := httptest.NewServer(controlplane.NewServer(svc, "", logger).Handler())
	t.Cleanup(ts.Close)

	return newApp(context.Background(), NewClient(ts.URL)), svc
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run feeds msg to the app and resolves follow-up commands until none remain.
func run(t *testing.T, a *App, msg tea.Msg) {
	t.Helper()
	for i := 0; msg != nil && i < 10; i++ {
		_, cmd := a.Update(msg)
		if cmd == nil {
			return
		}
		msg = cmd()
		if _, ok := msg.(tea.BatchMsg); ok {
			t.Fatal("unexpected batch command in test path")
		}
	}
}

func activeTitles(a *App) []string {
	var out []string
	for _, t := range a.active {
		out = append(out, t.Title)
	}
	return out
}

func TestAppAddCompleteDeferReactivate(t *testing.T) {
	a, _ := newTestApp(t)

	for _, title := range []string{"C", "B", "A"} {
		run(t, a, key("a"))
		if a.mode != modeAdd {
			t.Fatalf("Expected add mode after 'a'")
		}
		a.input.SetValue(title)
		run(t, a, key("enter"))
	}
	if got := strings.Join(activeTitles(a), ""); got != "ABC" {
		t.Fatalf("Expected ABC, got %s", got)
	}

	// Defer the top task.
	run(t, a, key("f"))
	if got := strings.Join(activeTitles(a), ""); got != "BCA" {
		t.Fatalf("Expected BCA after defer, got %s", got)
	}
	if a.active[2].DeferralCount != 1 {
		t.Errorf("Expected deferral count 1, got %d", a.active[2].DeferralCount)
	}

	// Complete the second task.
	run(t, a, key("j"))
	run(t, a, key("d"))
	if got := strings.Join(activeTitles(a), ""); got != "BA" {
		t.Fatalf("Expected BA after complete, got %s", got)
	}
	if len(a.done) != 1 || a.done[0].Title != "C" {
		t.Fatalf("Expected C done, got %+v", a.done)
	}

	// 'd' does nothing on the done pane; 'u' reactivates.
	run(t, a, key("tab"))
	run(t, a, key("d"))
	if len(a.done) != 1 {
		t.Fatal("Done pane must ignore 'd'")
	}
	run(t, a, key("u"))
	if got := strings.Join(activeTitles(a), ""); got != "CBA" {
		t.Fatalf("Expected CBA after reactivate, got %s", got)
	}
	if len(a.done) != 0 {
		t.Errorf("Expected empty done list, got %d", len(a.done))
	}
	for i, task := range a.active {
		if task.RankValue() != i+1 {
			t.Errorf("%s has rank %d at position %d", task.Title, task.RankValue(), i+1)
		}
	}
}

func TestAppAddCancel(t *testing.T) {
	a, _ := newTestApp(t)

	run(t, a, key("a"))
	a.input.SetValue("never")
	run(t, a, key("esc"))
	if a.mode != modeList {
		t.Fatal("Expected list mode after esc")
	}
	run(t, a, a.fetchTasks()())
	if len(a.active) != 0 {
		t.Errorf("Expected no tasks, got %d", len(a.active))
	}
}

func TestAppDetailToggle(t *testing.T) {
	a, svc := newTestApp(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, controlplane.CreateTaskInput{Title: "parent"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	ss, err := svc.CreateSubStack(ctx, task.ID, "steps")
	if err != nil {
		t.Fatalf("CreateSubStack failed: %v", err)
	}
	for _, title := range []string{"one", "two"} {
		if _, err := svc.AddItem(ctx, ss.ID, controlplane.AddItemInput{Title: title}); err != nil {
			t.Fatalf("AddItem failed: %v", err)
		}
	}

	run(t, a, a.fetchTasks()())
	run(t, a, key("enter"))
	if a.mode != modeDetail || a.detail == nil || len(a.detail.items()) != 2 {
		t.Fatalf("Expected detail view with 2 items, got %+v", a.detail)
	}

	run(t, a, key("j"))
	run(t, a, key(" "))
	items := a.detail.items()
	if items[0].Completed || !items[1].Completed {
		t.Errorf("Expected only the second item completed: %+v", items)
	}
	if items[1].Rank != 2 {
		t.Errorf("Toggled item changed rank to %d", items[1].Rank)
	}
	if !strings.Contains(a.View(), "[x] 2. two") {
		t.Error("Expected rendered detail to show the completed item")
	}

	run(t, a, key("esc"))
	if a.mode != modeList {
		t.Error("Expected list mode after esc")
	}
}

func TestAppErrorMessage(t *testing.T) {
	a, _ := newTestApp(t)

	run(t, a, a.action("Completed", "ghost", a.client.CompleteTask, "missing")())
	if !strings.HasPrefix(a.message, "Error: not_found") {
		t.Errorf("Expected not_found error message, got %q", a.message)
	}
}
