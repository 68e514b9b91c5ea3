package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestParse(t *testing.T) {
	cmd, err := Parse("  Refresh now ")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Name != Refresh || len(cmd.Args) != 1 || cmd.Args[0] != "now" {
		t.Errorf("Parse = %+v", cmd)
	}
	if cmd, _ := Parse("q"); cmd.Name != Quit {
		t.Errorf("q parsed as %q", cmd.Name)
	}
	if _, err := Parse("frobnicate"); err == nil {
		t.Error("unknown command accepted")
	}
	if _, err := Parse("   "); err == nil {
		t.Error("empty command accepted")
	}
}

func TestEnterEmitsCommand(t *testing.T) {
	m := New(80, 20)
	m.Focus()
	for _, r := range "admin" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	msg, ok := cmd().(CommandMsg)
	if !ok || msg.Name != Admin {
		t.Errorf("msg = %#v", msg)
	}
	if m.input.Value() != "" {
		t.Error("input not reset")
	}
}

func TestUnknownCommandStays(t *testing.T) {
	m := New(80, 20)
	m.Focus()
	for _, r := range "nope" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("unknown command emitted a message")
	}
	if m.err == nil || m.input.Value() != "nope" {
		t.Errorf("err=%v value=%q", m.err, m.input.Value())
	}
}

func TestEscCancels(t *testing.T) {
	m := New(80, 20)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if _, ok := cmd().(CancelMsg); !ok {
		t.Error("esc did not cancel")
	}
}
