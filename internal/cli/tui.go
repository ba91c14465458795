package cli

import (
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/neonfeed/pkg/notify"
)

// Dialog styles
var (
	buttonActiveStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWhite).Background(colorPink).Padding(0, 2)
	buttonStyle       = lipgloss.NewStyle().Foreground(colorGray).Padding(0, 2)
	dialogStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim).Padding(1, 2)
)

// =============================================================================
// ConfirmModel - Yes/No dialog
// =============================================================================

// ConfirmModel is the bubbletea model for a confirmation dialog.
// The cancel button is selected initially.
type ConfirmModel struct {
	Title     string
	Message   string
	Yes       bool // Cursor is on the confirm button
	Confirmed bool
	Done      bool
}

// NewConfirmModel creates a confirmation dialog.
func NewConfirmModel(title, message string) ConfirmModel {
	return ConfirmModel{Title: title, Message: message}
}

func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.Yes, m.Confirmed, m.Done = true, true, true
		return m, tea.Quit
	case "n", "N", "q", "esc", "ctrl+c":
		m.Yes, m.Confirmed, m.Done = false, false, true
		return m, tea.Quit
	case "left", "right", "h", "l", "tab":
		m.Yes = !m.Yes
	case "enter":
		m.Confirmed, m.Done = m.Yes, true
		return m, tea.Quit
	}
	return m, nil
}

func (m ConfirmModel) View() string {
	if m.Done {
		return ""
	}

	yes, no := buttonStyle, buttonActiveStyle
	if m.Yes {
		yes, no = buttonActiveStyle, buttonStyle
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(m.Title))
	b.WriteString("\n\n")
	b.WriteString(StyleValue.Render(m.Message))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, yes.Render("Confirm"), " ", no.Render("Cancel")))
	b.WriteString("\n\n")
	b.WriteString(StyleDim.Render("←/→ choose  ⏎ accept  y/n"))

	return dialogStyle.Render(b.String()) + "\n"
}

// =============================================================================
// Terminal Confirmer
// =============================================================================

// teaConfirmer asks for confirmation with a [ConfirmModel].
type teaConfirmer struct {
	in  io.Reader
	out io.Writer
}

// Confirm runs the dialog and calls onConfirm or onCancel. A dialog that
// cannot run counts as cancelled.
func (c teaConfirmer) Confirm(title, message string, onConfirm, onCancel func()) {
	opts := []tea.ProgramOption{}
	if c.in != nil {
		opts = append(opts, tea.WithInput(c.in))
	}
	if c.out != nil {
		opts = append(opts, tea.WithOutput(c.out))
	}

	final, err := tea.NewProgram(NewConfirmModel(title, message), opts...).Run()
	confirmed := false
	if err == nil {
		if m, ok := final.(ConfirmModel); ok {
			confirmed = m.Confirmed
		}
	}

	switch {
	case confirmed && onConfirm != nil:
		onConfirm()
	case !confirmed && onCancel != nil:
		onCancel()
	}
}

var _ notify.Confirmer = teaConfirmer{}
