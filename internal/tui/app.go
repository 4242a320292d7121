// Package tui provides the interactive terminal UI for onejob.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/onejob/onejob/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	focusedPaneStyle = paneStyle.
				BorderForeground(primaryColor)

	activeStyle  = lipgloss.NewStyle().Foreground(warningColor)
	doneStyle    = lipgloss.NewStyle().Foreground(successColor)
	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor)
)

type mode int

const (
	modeList mode = iota
	modeAdd
	modeDetail
)

type pane int

const (
	paneActive pane = iota
	paneDone
)

// App is the main TUI application model.
type App struct {
	client *Client
	ctx    context.Context

	active []models.Task
	done   []models.Task
	pane   pane
	cursor [2]int

	mode    mode
	input   textinput.Model
	detail  *detailView
	message string
	loading bool

	daemonOnline bool
	integrityOK  bool

	width  int
	height int
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	return newApp(context.Background(), NewClient(apiAddr))
}

func newApp(ctx context.Context, client *Client) *App {
	ti := textinput.New()
	ti.Placeholder = "What needs doing?"
	ti.CharLimit = 256
	ti.Width = 60

	return &App{
		client:      client,
		ctx:         ctx,
		input:       ti,
		integrityOK: true,
		width:       80,
		height:      24,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.fetchTasks(),
		a.checkDaemon(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.mode {
		case modeAdd:
			return a.updateAdd(msg)
		case modeDetail:
			return a.updateDetail(msg)
		default:
			return a.updateList(msg)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6

	case tasksLoadedMsg:
		a.loading = false
		a.active = msg.active
		a.done = msg.done
		a.clampCursors()

	case detailLoadedMsg:
		cursor := 0
		if a.detail != nil && a.detail.task != nil && a.detail.task.ID == msg.task.ID {
			cursor = a.detail.cursor
		}
		a.detail = &detailView{task: msg.task, stacks: msg.stacks, cursor: cursor}
		a.detail.move(0)

	case daemonStatusMsg:
		a.daemonOnline = msg.online
		a.integrityOK = msg.integrityOK

	case actionDoneMsg:
		a.message = msg.message
		if a.mode == modeDetail && a.detail != nil && a.detail.task != nil {
			return a, a.fetchDetail(a.detail.task.ID)
		}
		return a, a.fetchTasks()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	return a, nil
}

func (a *App) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "up", "k":
		if a.cursor[a.pane] > 0 {
			a.cursor[a.pane]--
		}

	case "down", "j":
		if a.cursor[a.pane] < len(a.list())-1 {
			a.cursor[a.pane]++
		}

	case "tab":
		if a.pane == paneActive {
			a.pane = paneDone
		} else {
			a.pane = paneActive
		}

	case "r":
		a.message = ""
		return a, tea.Batch(a.fetchTasks(), a.checkDaemon())

	case "a":
		a.mode = modeAdd
		a.input.SetValue("")
		a.input.Focus()
		return a, textinput.Blink

	case "d":
		if t := a.selected(); t != nil && a.pane == paneActive {
			return a, a.action("Completed", t.Title, a.client.CompleteTask, t.ID)
		}

	case "f":
		if t := a.selected(); t != nil && a.pane == paneActive {
			return a, a.action("Deferred", t.Title, a.client.DeferTask, t.ID)
		}

	case "u":
		if t := a.selected(); t != nil && a.pane == paneDone {
			return a, a.action("Reactivated", t.Title, a.client.ReactivateTask, t.ID)
		}

	case "enter":
		if t := a.selected(); t != nil {
			a.mode = modeDetail
			a.detail = &detailView{}
			return a, a.fetchDetail(t.ID)
		}
	}
	return a, nil
}

func (a *App) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = modeList
		a.input.Blur()
		return a, nil

	case "enter":
		title := strings.TrimSpace(a.input.Value())
		a.mode = modeList
		a.input.Blur()
		a.input.SetValue("")
		if title == "" {
			return a, nil
		}
		a.pane = paneActive
		a.cursor[paneActive] = 0
		return a, a.createTask(title)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "esc", "backspace":
		a.mode = modeList
		a.detail = nil
		return a, a.fetchTasks()

	case "up", "k":
		a.detail.move(-1)

	case "down", "j":
		a.detail.move(1)

	case " ", "x":
		if it := a.detail.selectedItem(); it != nil {
			id := it.ID
			return a, func() tea.Msg {
				item, err := a.client.ToggleItem(a.ctx, id)
				if err != nil {
					return errMsg{err}
				}
				state := "open"
				if item.Completed {
					state = "done"
				}
				return actionDoneMsg{fmt.Sprintf("✓ %s marked %s", item.Title, state)}
			}
		}
	}
	return a, nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("onejob") + "  " + daemon
	if !a.integrityOK {
		header += "  " + offlineStyle.Render("⚠ ranks need repair")
	}
	b.WriteString(header + "\n")

	switch a.mode {
	case modeDetail:
		if a.detail != nil {
			b.WriteString(a.detail.render(a.width))
		}
	default:
		b.WriteString(a.renderPanes())
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	if a.mode == modeAdd {
		b.WriteString(inputBoxStyle.Render(a.input.View()) + "\n")
	}

	var status string
	switch a.mode {
	case modeAdd:
		status = " Enter:add on top | Esc:cancel"
	case modeDetail:
		status = " ↑↓:nav | space:toggle item | Esc:back | q:quit"
	default:
		if a.pane == paneActive {
			status = fmt.Sprintf(" Active: %d | a:add | d:done | f:defer | Enter:open | Tab:done list | r:refresh | q:quit", len(a.active))
		} else {
			status = fmt.Sprintf(" Done: %d | u:reactivate | Enter:open | Tab:active list | r:refresh | q:quit", len(a.done))
		}
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func (a *App) renderPanes() string {
	height := max(a.height-8, 5)
	w := max(a.width/2-2, 20)

	left := a.renderList(a.active, paneActive, height, "No active tasks. Press a to add one.")
	right := a.renderList(a.done, paneDone, height, "Nothing done yet.")

	ls, rs := paneStyle, paneStyle
	if a.pane == paneActive {
		ls = focusedPaneStyle
	} else {
		rs = focusedPaneStyle
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		ls.Width(w).Render("Active\n"+left),
		rs.Width(w).Render("Done\n"+right),
	)
}

func (a *App) renderList(tasks []models.Task, p pane, height int, empty string) string {
	if a.loading && len(tasks) == 0 {
		return helpStyle.Render("Loading tasks...")
	}
	if len(tasks) == 0 {
		return helpStyle.Render(empty)
	}

	var lines []string
	for i, t := range tasks {
		label := t.Title
		if p == paneActive {
			label = fmt.Sprintf("%2d. %s", t.RankValue(), t.Title)
			if t.DeferralCount > 0 {
				label += helpStyle.Render(fmt.Sprintf(" (deferred %d)", t.DeferralCount))
			}
		}
		if i == a.cursor[p] && a.pane == p {
			lines = append(lines, selectedStyle.Render("▶ "+label))
		} else {
			lines = append(lines, taskItemStyle.Render(label))
		}
	}

	// Limit visible lines
	if len(lines) > height {
		start := max(0, a.cursor[p]-height/2)
		end := min(len(lines), start+height)
		start = max(0, end-height)
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (a *App) list() []models.Task {
	if a.pane == paneDone {
		return a.done
	}
	return a.active
}

func (a *App) selected() *models.Task {
	tasks := a.list()
	i := a.cursor[a.pane]
	if i < 0 || i >= len(tasks) {
		return nil
	}
	return &tasks[i]
}

func (a *App) clampCursors() {
	for p, tasks := range [][]models.Task{a.active, a.done} {
		if a.cursor[p] >= len(tasks) {
			a.cursor[p] = max(0, len(tasks)-1)
		}
	}
}

// --- Commands ---

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		lists, err := a.client.ListTasks(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{active: lists.Active, done: lists.Done}
	}
}

func (a *App) fetchDetail(id string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(a.ctx, id)
		if err != nil {
			return errMsg{err}
		}
		stacks, err := a.client.ListSubStacks(a.ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return detailLoadedMsg{task: task, stacks: stacks}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		health, err := a.client.CheckHealth(a.ctx)
		if err != nil {
			return daemonStatusMsg{online: false, integrityOK: true}
		}
		ok := health.Integrity == nil || health.Integrity.OK
		return daemonStatusMsg{online: health.OK, integrityOK: ok}
	}
}

func (a *App) createTask(title string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.CreateTask(a.ctx, title, "")
		if err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{fmt.Sprintf("✓ Added %s on top", task.Title)}
	}
}

func (a *App) action(verb, title string, op func(context.Context, string) (*models.Task, error), id string) tea.Cmd {
	return func() tea.Msg {
		if _, err := op(a.ctx, id); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{fmt.Sprintf("✓ %s %s", verb, title)}
	}
}

// --- Messages ---

type tasksLoadedMsg struct {
	active []models.Task
	done   []models.Task
}

type detailLoadedMsg struct {
	task   *models.Task
	stacks []models.SubStack
}

type daemonStatusMsg struct {
	online      bool
	integrityOK bool
}

type actionDoneMsg struct {
	message string
}

type errMsg struct {
	err error
}
