package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/onejob/onejob/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// detailView is a task with its substacks, as shown on the detail screen.
type detailView struct {
	task   *models.Task
	stacks []models.SubStack
	cursor int
}

// items flattens every substack item in display order.
func (d *detailView) items() []models.SubStackItem {
	var out []models.SubStackItem
	for _, ss := range d.stacks {
		out = append(out, ss.Items...)
	}
	return out
}

// selectedItem returns the item under the cursor, or nil.
func (d *detailView) selectedItem() *models.SubStackItem {
	items := d.items()
	if d.cursor < 0 || d.cursor >= len(items) {
		return nil
	}
	return &items[d.cursor]
}

func (d *detailView) move(delta int) {
	n := len(d.items())
	if n == 0 {
		d.cursor = 0
		return
	}
	d.cursor = max(0, min(n-1, d.cursor+delta))
}

func (d *detailView) render(width int) string {
	if d.task == nil {
		return "\n  Loading...\n"
	}
	t := d.task
	var b strings.Builder

	b.WriteString(headerStyle.Width(max(width-4, 10)).Render(t.Title) + "\n")
	field := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %-12s", label)) + valueStyle.Render(value) + "\n")
	}
	field("ID", shortID(t.ID))
	field("State", stateLabel(t))
	if t.Description != "" {
		field("Description", t.Description)
	}
	field("Deferred", fmt.Sprintf("%d times", t.DeferralCount))
	if t.DeferredAt != nil {
		field("Last defer", t.DeferredAt.Local().Format("2006-01-02 15:04"))
	}
	if t.CompletedAt != nil {
		field("Completed", t.CompletedAt.Local().Format("2006-01-02 15:04"))
	}
	field("Created", t.CreatedAt.Local().Format("2006-01-02 15:04"))

	if len(d.stacks) == 0 {
		b.WriteString("\n" + helpStyle.Render("  No substacks.") + "\n")
		return b.String()
	}

	i := 0
	for _, ss := range d.stacks {
		b.WriteString(sectionStyle.Render("  "+ss.Name) + "\n")
		if len(ss.Items) == 0 {
			b.WriteString(helpStyle.Render("    (empty)") + "\n")
		}
		for _, it := range ss.Items {
			box := "[ ]"
			if it.Completed {
				box = "[x]"
			}
			line := fmt.Sprintf("%s %d. %s", box, it.Rank, it.Title)
			if i == d.cursor {
				b.WriteString(selectedStyle.Render("> "+line) + "\n")
			} else {
				b.WriteString(taskItemStyle.Render("  "+line) + "\n")
			}
			i++
		}
	}
	return b.String()
}

func stateLabel(t *models.Task) string {
	if t.Active() {
		return activeStyle.Render(fmt.Sprintf("active #%d", t.RankValue()))
	}
	return doneStyle.Render("done")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
