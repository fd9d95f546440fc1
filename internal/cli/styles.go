package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

const dateLayout = "2006-01-02 15:04"

func renderSessionList(w io.Writer, sessions []model.Session, current string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, statusStyle.Render("No sessions yet."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Sessions (%d)", len(sessions))))
	for _, s := range sessions {
		marker := "  "
		if s.ID == current {
			marker = "> "
		}
		created := "-"
		if s.HasCreatedAt() {
			created = s.CreatedAt.Local().Format(dateLayout)
		}
		fmt.Fprintf(w, "%s%s  %s  %s\n",
			marker,
			titleStyle.Render(s.DisplayTopic()),
			idStyle.Render(s.ID),
			dateStyle.Render(created),
		)
	}
}

func renderHistory(w io.Writer, items []model.ChatItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, statusStyle.Render("No messages."))
		return
	}
	for _, item := range items {
		fmt.Fprintln(w, roleLabel(item.Role))
		fmt.Fprintln(w, indent(item.Text))
		fmt.Fprintln(w)
	}
}

func renderEvent(w io.Writer, evt model.ConversationEvent) {
	fmt.Fprintf(w, "%s  %s  %s",
		dateStyle.Render(evt.CreatedAt.Local().Format("2006-01-02 15:04:05")),
		titleStyle.Render(string(evt.Type)),
		idStyle.Render(evt.SessionID),
	)
	if evt.Reason != "" {
		fmt.Fprintf(w, "  %s", statusStyle.Render(evt.Reason))
	}
	fmt.Fprintln(w)
}

func roleLabel(role model.Role) string {
	if role == model.RoleUser {
		return userStyle.Render("You")
	}
	return assistantStyle.Render("Memory Hub")
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
