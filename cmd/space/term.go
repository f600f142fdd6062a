package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-space/command"
	"github.com/wippyai/wasm-space/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	argStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newTermCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "term",
		Short: "Run commands from an interactive terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return fmt.Errorf("term needs an interactive terminal")
			}
			width := 60
			if w, _, err := term.GetSize(fd); err == nil && w > 20 {
				width = w - 20
			}
			return g.withHost(cmd, func(h *host) error {
				p := tea.NewProgram(newTermModel(cmd.Context(), h.exec, width), tea.WithAltScreen())
				_, err := p.Run()
				return err
			})
		},
	}
}

type termModel struct {
	ctx      context.Context
	err      error
	exec     *command.Executor
	result   string
	commands []commandInfo
	inputs   []textinput.Model
	width    int
	selected int
	focusIdx int
	state    termState
}

type commandInfo struct {
	name   command.Name
	params []paramInfo
}

type paramInfo struct {
	name     string
	optional bool
	flag     bool
}

type termState int

const (
	stateSelectCommand termState = iota
	stateInputArgs
	stateShowResult
	stateShowWIT
)

type resultMsg struct {
	err    error
	result string
}

func newTermModel(ctx context.Context, exec *command.Executor, width int) *termModel {
	m := &termModel{ctx: ctx, exec: exec, width: width, state: stateSelectCommand}
	for _, n := range command.Names() {
		ci := commandInfo{name: n}
		for _, p := range usageParams(n) {
			pi := paramInfo{name: strings.Trim(p, "[]")}
			pi.optional = pi.name != p
			pi.flag = strings.HasPrefix(pi.name, "--")
			ci.params = append(ci.params, pi)
		}
		m.commands = append(m.commands, ci)
	}
	return m
}

func (m *termModel) Init() tea.Cmd {
	return nil
}

func (m *termModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateSelectCommand {
				return m, tea.Quit
			}

		case "w":
			if m.state == stateSelectCommand {
				m.state = stateShowWIT
				return m, nil
			}

		case "up", "k":
			if m.state == stateSelectCommand && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectCommand && m.selected < len(m.commands)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectCommand:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.runCommand
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.runCommand

			case stateShowResult, stateShowWIT:
				m.reset()
				return m, nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "esc":
			if m.state != stateSelectCommand {
				m.reset()
				return m, nil
			}
		}

	case resultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *termModel) reset() {
	m.state = stateSelectCommand
	m.inputs = nil
	m.result = ""
	m.err = nil
}

func (m *termModel) prepareInputs() {
	c := m.commands[m.selected]
	m.inputs = make([]textinput.Model, len(c.params))
	for i, p := range c.params {
		ti := textinput.New()
		ti.Placeholder = p.name
		if p.flag {
			ti.Placeholder = "y/n"
		}
		ti.Prompt = p.name + ": "
		ti.Width = m.width
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// args turns the input values into command arguments. Empty optional
// fields are dropped and flags are passed when answered yes.
func (m *termModel) args() []string {
	c := m.commands[m.selected]
	var args []string
	for i, input := range m.inputs {
		v := strings.TrimSpace(input.Value())
		p := c.params[i]
		switch {
		case p.flag:
			if v == "y" || v == "yes" || v == "true" || v == "1" {
				args = append(args, p.name)
			}
		case v == "" && p.optional:
		default:
			args = append(args, v)
		}
	}
	return args
}

func (m *termModel) runCommand() tea.Msg {
	c, err := command.New(string(m.commands[m.selected].name), m.args()...)
	if err != nil {
		return resultMsg{err: err}
	}
	res, err := m.exec.Run(m.ctx, c)
	if err != nil {
		return resultMsg{err: err}
	}
	var b bytes.Buffer
	if err := command.Write(&b, res, command.FormatText); err != nil {
		return resultMsg{err: err}
	}
	return resultMsg{result: strings.TrimRight(b.String(), "\n")}
}

func (m *termModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasm-space"))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectCommand:
		b.WriteString("Select a command:\n\n")
		for i, c := range m.commands {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatCommand(c)))
			} else {
				b.WriteString("  " + m.formatCommand(c))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter run • w guest interface • q quit"))

	case stateInputArgs:
		c := m.commands[m.selected]
		b.WriteString(fmt.Sprintf("Running %s\n\n", nameStyle.Render(string(c.name))))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter run • esc back"))

	case stateShowResult:
		c := m.commands[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", nameStyle.Render(string(c.name))))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • ctrl+c quit"))

	case stateShowWIT:
		b.WriteString("Guest capability interface:\n\n")
		for _, f := range runtime.CapabilityInterface() {
			b.WriteString("  " + nameStyle.Render(f.Name) + argStyle.Render(strings.TrimPrefix(f.Signature(), f.Name)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter back • ctrl+c quit"))
	}

	return b.String()
}

func (m *termModel) formatCommand(c commandInfo) string {
	var params []string
	for _, p := range c.params {
		name := p.name
		if p.optional {
			name = "[" + name + "]"
		}
		params = append(params, argStyle.Render(name))
	}
	return nameStyle.Render(string(c.name)) + " " + strings.Join(params, " ")
}
