package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zifrone/contact/internal/contact"
	"github.com/zifrone/contact/internal/form"
	"github.com/zifrone/contact/internal/validation"
)

func runForm(args []string) error {
	var flags clientFlags
	fs := newFlagSet("form")
	flags.add(fs)
	if help, err := parse(fs, args); help || err != nil {
		if help {
			fs.PrintDefaults()
		}
		return err
	}

	ctrl, err := flags.controller()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = tea.NewProgram(newFormModel(ctx, ctrl), tea.WithAltScreen()).Run()
	return err
}

type keyMap struct {
	Next   key.Binding
	Prev   key.Binding
	Submit key.Binding
	Quit   key.Binding
}

var defaultKeys = keyMap{
	Next:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
	Prev:   key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous field")),
	Submit: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "send")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3b82f6")).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Bold(true)
	focusStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3b82f6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// submitDoneMsg carries the result of a background submit
type submitDoneMsg struct {
	notice form.Notice
	err    error
}

// formModel renders the contact form. Single-line fields use text inputs;
// the message uses a text area. All values live in the controller.
type formModel struct {
	ctx     context.Context
	ctrl    *form.Controller
	inputs  map[contact.Field]*textinput.Model
	message textarea.Model
	focus   int
	sending bool
	notice  *form.Notice
	keys    keyMap
}

var charLimits = map[contact.Field]int{
	contact.FieldName:     100,
	contact.FieldEmail:    254,
	contact.FieldCompany:  100,
	contact.FieldWhatsApp: 20,
	contact.FieldSubject:  200,
}

func newFormModel(ctx context.Context, ctrl *form.Controller) formModel {
	m := formModel{
		ctx:    ctx,
		ctrl:   ctrl,
		inputs: make(map[contact.Field]*textinput.Model),
		keys:   defaultKeys,
	}
	for _, f := range contact.Fields {
		if f == contact.FieldMessage {
			continue
		}
		ti := textinput.New()
		ti.CharLimit = charLimits[f]
		ti.Width = 50
		if f.IsOptional() {
			ti.Placeholder = "optional"
		}
		m.inputs[f] = &ti
	}

	m.message = textarea.New()
	m.message.CharLimit = 2000
	m.message.SetWidth(60)
	m.message.SetHeight(6)
	m.message.ShowLineNumbers = false

	m.syncFromController()
	m.inputs[contact.FieldName].Focus()
	return m
}

func (m formModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m formModel) focused() contact.Field {
	return contact.Fields[m.focus]
}

func (m formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case submitDoneMsg:
		m.sending = false
		m.notice = &msg.notice
		if msg.err == nil {
			m.syncFromController()
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			if m.sending {
				return m, nil
			}
			m.sending = true
			m.notice = nil
			return m, m.submitCmd()
		case key.Matches(msg, m.keys.Next):
			return m, m.moveFocus(1)
		case key.Matches(msg, m.keys.Prev):
			return m, m.moveFocus(-1)
		}
	}

	return m, m.updateFocused(msg)
}

// updateFocused forwards msg to the focused widget and pushes the result
// through the controller so input filtering applies
func (m *formModel) updateFocused(msg tea.Msg) tea.Cmd {
	field := m.focused()

	var cmd tea.Cmd
	var value string
	if field == contact.FieldMessage {
		m.message, cmd = m.message.Update(msg)
		value = m.message.Value()
	} else {
		ti := m.inputs[field]
		*ti, cmd = ti.Update(msg)
		value = ti.Value()
	}

	m.ctrl.Input(field, value)
	if stored := m.ctrl.Values().Get(field); stored != value {
		m.setValue(field, stored)
	}
	return cmd
}

func (m *formModel) setValue(field contact.Field, value string) {
	if field == contact.FieldMessage {
		m.message.SetValue(value)
		return
	}
	m.inputs[field].SetValue(value)
}

// syncFromController copies controller values into every widget
func (m *formModel) syncFromController() {
	values := m.ctrl.Values()
	for _, f := range contact.Fields {
		m.setValue(f, values.Get(f))
	}
}

func (m *formModel) moveFocus(delta int) tea.Cmd {
	if cur := m.focused(); cur == contact.FieldMessage {
		m.message.Blur()
	} else {
		m.inputs[cur].Blur()
	}

	n := len(contact.Fields)
	m.focus = (m.focus + delta + n) % n

	next := m.focused()
	if next == contact.FieldMessage {
		return m.message.Focus()
	}
	return m.inputs[next].Focus()
}

func (m formModel) submitCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		notice, err := ctrl.Submit(ctx)
		return submitDoneMsg{notice: notice, err: err}
	}
}

func (m formModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Contact zifr.one"))
	b.WriteString("\n")

	errs := m.ctrl.Errors()
	for i, f := range contact.Fields {
		label := labelStyle
		if i == m.focus {
			label = focusStyle
		}
		b.WriteString(label.Render(validation.Label(f)))
		b.WriteString("\n")
		if f == contact.FieldMessage {
			b.WriteString(m.message.View())
		} else {
			b.WriteString(m.inputs[f].View())
		}
		b.WriteString("\n")
		if msg, ok := errs[f]; ok {
			b.WriteString(errorStyle.Render(msg))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	switch {
	case m.sending:
		b.WriteString(helpStyle.Render("Sending..."))
		b.WriteString("\n")
	case m.notice != nil:
		style := errorStyle
		if m.notice.Kind == form.NoticeSuccess {
			style = successStyle
		}
		b.WriteString(style.Render(m.notice.Text))
		b.WriteString("\n")
		if m.notice.AlternateURL != "" {
			b.WriteString("WhatsApp: " + m.notice.AlternateURL + "\n")
			b.WriteString("Call: " + strings.TrimPrefix(m.ctrl.CallURL(), "tel:") + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(strings.Join([]string{
		helpText(m.keys.Next), helpText(m.keys.Prev), helpText(m.keys.Submit), helpText(m.keys.Quit),
	}, " • ")))
	return b.String()
}

func helpText(b key.Binding) string {
	h := b.Help()
	return h.Key + " " + h.Desc
}
