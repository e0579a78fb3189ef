package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/quickjs-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#F7DF1E")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type replEntry struct {
	input  string
	output string
	isErr  bool
}

type replModel struct {
	err     error
	bootCfg *runtime.Config
	rt      *runtime.Runtime
	jsCtx   *runtime.Context
	input   textinput.Model
	entries []replEntry
	history []string
	histPos int
	ready   bool
}

type readyMsg struct {
	err   error
	rt    *runtime.Runtime
	jsCtx *runtime.Context
}

type evalMsg struct {
	input  string
	output string
	isErr  bool
}

func newReplModel(cfg *runtime.Config) *replModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("js> ")
	ti.Placeholder = "1 + 1"
	ti.Focus()

	return &replModel{input: ti, bootCfg: cfg}
}

func runInteractive(cfg *runtime.Config) error {
	m := newReplModel(cfg)

	p := tea.NewProgram(m)
	final, err := p.Run()
	if fm, ok := final.(*replModel); ok && fm.rt != nil {
		ctx := context.Background()
		if fm.jsCtx != nil {
			_ = fm.jsCtx.Close(ctx)
		}
		_ = fm.rt.Close(ctx)
	}
	return err
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.boot)
}

func (m *replModel) boot() tea.Msg {
	ctx := context.Background()

	rt, err := runtime.New(ctx, m.bootCfg)
	if err != nil {
		return readyMsg{err: err}
	}
	c, err := rt.NewContext(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return readyMsg{err: err}
	}
	return readyMsg{rt: rt, jsCtx: c}
}

func (m *replModel) eval(source string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()

		v, err := m.jsCtx.Eval(ctx, source, "<repl>")
		if err != nil {
			return evalMsg{input: source, output: err.Error(), isErr: true}
		}
		defer v.Free(ctx)

		if _, jobErr := m.rt.ExecutePendingJobs(ctx); jobErr != nil {
			return evalMsg{input: source, output: jobErr.Error(), isErr: true}
		}
		return evalMsg{input: source, output: render(ctx, v)}
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case readyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.rt = msg.rt
		m.jsCtx = msg.jsCtx
		m.ready = true
		return m, nil

	case evalMsg:
		m.entries = append(m.entries, replEntry{
			input:  msg.input,
			output: msg.output,
			isErr:  msg.isErr,
		})
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit

		case tea.KeyEnter:
			source := strings.TrimSpace(m.input.Value())
			if source == "" {
				return m, nil
			}
			if source == ".exit" || source == ".quit" {
				return m, tea.Quit
			}
			if !m.ready {
				return m, nil
			}
			m.history = append(m.history, source)
			m.histPos = len(m.history)
			m.input.Reset()
			return m, m.eval(source)

		case tea.KeyUp:
			if m.histPos > 0 {
				m.histPos--
				m.input.SetValue(m.history[m.histPos])
				m.input.CursorEnd()
			}
			return m, nil

		case tea.KeyDown:
			if m.histPos < len(m.history)-1 {
				m.histPos++
				m.input.SetValue(m.history[m.histPos])
				m.input.CursorEnd()
			} else {
				m.histPos = len(m.history)
				m.input.Reset()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("qjs"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
		return b.String()
	}
	if !m.ready {
		b.WriteString(helpStyle.Render("starting engine..."))
		b.WriteString("\n")
		return b.String()
	}

	const maxShown = 20
	start := 0
	if len(m.entries) > maxShown {
		start = len(m.entries) - maxShown
	}
	for _, e := range m.entries[start:] {
		b.WriteString(promptStyle.Render("js> "))
		b.WriteString(e.input)
		b.WriteString("\n")
		if e.isErr {
			b.WriteString(errorStyle.Render(e.output))
		} else {
			b.WriteString(resultStyle.Render(e.output))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: eval • up/down: history • .exit or ctrl+c: quit"))
	b.WriteString("\n")
	return b.String()
}
