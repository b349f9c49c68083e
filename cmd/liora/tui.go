package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/kajovic/liora-core/core"
	"github.com/kajovic/liora-core/core/interrupt"
)

type (
	stateMsg        orchestration.StateEvent
	userMsg         string
	interimMsg      string
	thoughtMsg      string
	chunkMsg        string
	responseDoneMsg struct{}
	interruptedMsg  interrupt.Reason
	turnErrMsg      struct{ err error }
	shutdownMsg     struct{}
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("232"))

	badgeColors = map[orchestration.TurnState]lipgloss.Color{
		orchestration.StateIdle:      lipgloss.Color("240"),
		orchestration.StateListening: lipgloss.Color("40"),
		orchestration.StateThinking:  lipgloss.Color("220"),
		orchestration.StateSearching: lipgloss.Color("208"),
		orchestration.StateSpeaking:  lipgloss.Color("212"),
		orchestration.StateSleeping:  lipgloss.Color("63"),
	}
)

type model struct {
	title string
	state orchestration.TurnState

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	ready    bool

	lines   []string
	current string
	interim string
	thought string
	err     error

	submit    func(string) error
	interrupt func()
	quitting  bool
}

func newModel(title string, submit func(string) error, interruptTurn func()) model {
	input := textinput.New()
	input.Placeholder = "Type to chat, or just speak"
	input.Focus()

	spin := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))

	return model{
		title:     title,
		input:     input,
		spin:      spin,
		submit:    submit,
		interrupt: interruptTurn,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.interrupt()
			return m, nil
		case "enter":
			prompt := strings.TrimSpace(m.input.Value())
			if prompt == "" {
				return m, nil
			}
			if err := m.submit(prompt); err != nil {
				m.err = err
				return m, nil
			}
			m.pushUserLine(prompt)
			m.input.Reset()
			return m.refresh(), nil
		}

	case tea.WindowSizeMsg:
		const chrome = 5
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chrome)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chrome
		}
		m.input.Width = msg.Width - 4
		return m.refresh(), nil

	case stateMsg:
		m.state = msg.State
		if m.state == orchestration.StateListening {
			m.err = nil
		}
		return m, nil

	case userMsg:
		m.pushUserLine(string(msg))
		return m.refresh(), nil

	case interimMsg:
		m.interim = string(msg)
		return m.refresh(), nil

	case thoughtMsg:
		m.thought += string(msg)
		return m, nil

	case chunkMsg:
		m.thought = ""
		m.current += string(msg)
		return m.refresh(), nil

	case responseDoneMsg:
		m.pushAgentLine("")
		return m.refresh(), nil

	case interruptedMsg:
		m.pushAgentLine(fmt.Sprintf(" (%s)", interrupt.Reason(msg)))
		return m.refresh(), nil

	case turnErrMsg:
		m.err = msg.err
		return m, nil

	case shutdownMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) pushUserLine(text string) {
	m.interim = ""
	m.lines = append(m.lines, userStyle.Render("You: ")+text)
}

// pushAgentLine finalizes the streaming response with an optional
// suffix (used for interruption markers).
func (m *model) pushAgentLine(suffix string) {
	if m.current == "" && suffix == "" {
		return
	}
	line := agentStyle.Render(m.title+": ") + m.current
	if suffix != "" {
		line += faintStyle.Render(suffix)
	}
	m.lines = append(m.lines, line)
	m.current = ""
}

func (m model) refresh() model {
	if !m.ready {
		return m
	}

	var content strings.Builder
	for _, line := range m.lines {
		content.WriteString(line)
		content.WriteString("\n\n")
	}
	if m.current != "" {
		content.WriteString(agentStyle.Render(m.title+": ") + m.current)
		content.WriteString("\n")
	}
	if m.interim != "" {
		content.WriteString(faintStyle.Render("… " + m.interim))
		content.WriteString("\n")
	}

	m.viewport.SetContent(wordwrap.String(content.String(), m.viewport.Width))
	m.viewport.GotoBottom()
	return m
}

func (m model) View() string {
	if m.quitting {
		return "Goodbye.\n"
	}
	if !m.ready {
		return "starting…"
	}

	badge := badgeStyle.Background(badgeColors[m.state]).Render(m.state.String())
	header := lipgloss.JoinHorizontal(lipgloss.Center, titleStyle.Render(" "+m.title+" "), badge)

	activity := " "
	if m.state == orchestration.StateThinking || m.state == orchestration.StateSearching {
		activity = m.spin.View()
	}

	thinking := ""
	if m.thought != "" && m.state == orchestration.StateThinking {
		snippet := m.thought
		if len(snippet) > 80 {
			snippet = snippet[len(snippet)-80:]
		}
		thinking = faintStyle.Render("  "+snippet) + "\n"
	}

	footer := activity + m.input.View()
	help := faintStyle.Render("  enter: send · esc: interrupt · ctrl+c: quit")
	if thinking != "" {
		help = strings.TrimSuffix(thinking, "\n")
	}
	if m.err != nil {
		help = errorStyle.Render("  " + m.err.Error())
	}

	return header + "\n" + m.viewport.View() + "\n" + footer + "\n" + help
}
