package ticketlist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/ticketdesk/internal/model"
	"github.com/nhle/ticketdesk/internal/theme"
)

// TicketItem wraps a model.Ticket so it can be used in a bubbles/list.
type TicketItem struct {
	Ticket model.Ticket
}

// FilterValue returns the string used for fuzzy filtering.
func (i TicketItem) FilterValue() string { return i.Ticket.Title }

// Title returns the ticket title for the list.
func (i TicketItem) Title() string { return i.Ticket.Title }

// Description returns a short summary line for the list.
func (i TicketItem) Description() string {
	parts := []string{
		string(i.Ticket.Status),
		string(i.Ticket.Priority),
		RelativeTime(i.Ticket.UpdatedAt),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering ticket rows.
type ItemDelegate struct {
	// Assigned switches the counterpart column from assignee to creator.
	Assigned bool
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single ticket line.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(TicketItem)
	if !ok {
		return
	}
	t := ti.Ticket

	statusBadge := theme.StatusStyle(t.Status).Render(StatusLabel(t.Status))
	priBadge := theme.PriorityStyle(t.Priority).Render(PriorityLabel(t.Priority))

	who := t.AssignedTo.DisplayName()
	prefix := "→ "
	if d.Assigned {
		who = t.CreatedBy.DisplayName()
		prefix = "← "
	}
	whoStr := ""
	if who != "" {
		whoStr = lipgloss.NewStyle().Foreground(theme.ColorMagenta).Render("  " + prefix + who)
	}

	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(RelativeTime(t.UpdatedAt))

	title := t.Title
	marker := "●"
	if t.Pending {
		marker = "…"
		title = theme.PendingStyle.Render(title + " (sending)")
	}

	line := fmt.Sprintf("%s %s %s %s%s  %s", marker, priBadge, statusBadge, title, whoStr, timeStr)

	if t.Status == model.StatusClosed {
		line = theme.DimmedStyle.Render(line)
	}
	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// RelativeTime returns a human-friendly relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}

// PriorityLabel returns a short fixed-width label for p.
func PriorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "HIGH"
	case model.PriorityMedium:
		return "MED "
	case model.PriorityLow:
		return "LOW "
	default:
		return "?   "
	}
}

// StatusLabel returns the display form of s.
func StatusLabel(s model.Status) string {
	switch s {
	case model.StatusInProgress:
		return "in progress"
	case "":
		return "unknown"
	default:
		return string(s)
	}
}
