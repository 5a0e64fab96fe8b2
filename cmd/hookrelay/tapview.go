package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	styleStatus = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleOnline = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleEvent  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	styleBody   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	stylePing   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// tapLineMsg appends one rendered line to the event log.
type tapLineMsg struct {
	line string
}

// tapStatusMsg updates the connection indicator.
type tapStatusMsg struct {
	connected bool
}

type tapModel struct {
	channel   string
	vp        viewport.Model
	lines     []string
	connected bool
	ready     bool
}

func newTapModel(channel string) tapModel {
	return tapModel{channel: channel}
}

func (m tapModel) Init() tea.Cmd {
	return nil
}

func (m tapModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// One line of header, one of footer.
		m.vp = viewport.New(msg.Width, max(msg.Height-2, 1))
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		m.vp.GotoBottom()
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tapLineMsg:
		m.lines = append(m.lines, msg.line)
		if m.ready {
			m.vp.SetContent(strings.Join(m.lines, "\n"))
			m.vp.GotoBottom()
		}
		return m, nil

	case tapStatusMsg:
		m.connected = msg.connected
		return m, nil
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m tapModel) View() string {
	if !m.ready {
		return "connecting…"
	}

	status := styleStatus.Render("offline")
	if m.connected {
		status = styleOnline.Render("online")
	}

	header := fmt.Sprintf("%s  %s", styleHeader.Render("hookrelay tap"), m.channel)
	footer := fmt.Sprintf("%s  %s", status, styleStatus.Render("q to quit"))

	return header + "\n" + m.vp.View() + "\n" + footer
}
