package cli

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func press(m ConfirmModel, keys ...tea.KeyMsg) (ConfirmModel, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(ConfirmModel)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConfirmModel(t *testing.T) {
	tests := []struct {
		name          string
		keys          []tea.KeyMsg
		wantConfirmed bool
		wantDone      bool
	}{
		{"y confirms", []tea.KeyMsg{runes("y")}, true, true},
		{"n cancels", []tea.KeyMsg{runes("n")}, false, true},
		{"esc cancels", []tea.KeyMsg{{Type: tea.KeyEsc}}, false, true},
		{"enter defaults to cancel", []tea.KeyMsg{{Type: tea.KeyEnter}}, false, true},
		{"toggle then enter confirms", []tea.KeyMsg{{Type: tea.KeyTab}, {Type: tea.KeyEnter}}, true, true},
		{"toggle twice then enter cancels", []tea.KeyMsg{{Type: tea.KeyLeft}, {Type: tea.KeyRight}, {Type: tea.KeyEnter}}, false, true},
		{"toggle alone is pending", []tea.KeyMsg{{Type: tea.KeyTab}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := press(NewConfirmModel("Clear buckets", "Delete 2 buckets?"), tt.keys...)
			if m.Confirmed != tt.wantConfirmed {
				t.Errorf("Confirmed = %v, want %v", m.Confirmed, tt.wantConfirmed)
			}
			if m.Done != tt.wantDone {
				t.Errorf("Done = %v, want %v", m.Done, tt.wantDone)
			}
			if tt.wantDone && cmd == nil {
				t.Error("finished dialog should quit")
			}
		})
	}
}

func TestConfirmModelView(t *testing.T) {
	m := NewConfirmModel("Clear buckets", "Delete 2 buckets?")
	if m.View() == "" {
		t.Error("pending dialog should render")
	}
	m, _ = press(m, runes("y"))
	if m.View() != "" {
		t.Error("finished dialog should render nothing")
	}
}
