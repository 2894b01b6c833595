package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	sigStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	modeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectState int

const (
	stateBrowse inspectState = iota
	stateDetail
)

// descEntry is one browsable row: a describe export or a closure record.
type descEntry struct {
	name    string
	sig     string
	mode    string // closures only
	closure bool
}

type inspectModel struct {
	filename string
	opts     pipeline.Options

	state    inspectState
	entries  []descEntry
	visible  []descEntry
	selected int
	filter   textinput.Model

	err error
}

type inspectLoadedMsg struct {
	entries []descEntry
	err     error
}

func runInteractive(wasmFile string, opts pipeline.Options) error {
	filter := textinput.New()
	filter.Placeholder = "filter"
	filter.Prompt = "/ "
	filter.Width = 40
	filter.Focus()

	m := &inspectModel{
		filename: wasmFile,
		opts:     opts,
		filter:   filter,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *inspectModel) Init() tea.Cmd {
	return m.load
}

func (m *inspectModel) load() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return inspectLoadedMsg{err: err}
	}

	_, res, err := pipeline.Process(data, m.opts)
	if err != nil {
		return inspectLoadedMsg{err: err}
	}

	return inspectLoadedMsg{entries: collectEntries(res)}
}

func collectEntries(res *descriptor.Result) []descEntry {
	var entries []descEntry
	for name, desc := range res.Descriptors {
		entries = append(entries, descEntry{
			name: name,
			sig:  desc.String(),
		})
	}
	for idx, c := range res.Closures {
		entries = append(entries, descEntry{
			name:    fmt.Sprintf("closure import %d", idx),
			sig:     c.Descriptor.String(),
			mode:    c.Mode.String(),
			closure: true,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].closure != entries[j].closure {
			return !entries[i].closure
		}
		return entries[i].name < entries[j].name
	})
	return entries
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "ctrl+k":
			if m.state == stateBrowse && m.selected > 0 {
				m.selected--
			}
			return m, nil

		case "down", "ctrl+j":
			if m.state == stateBrowse && m.selected < len(m.visible)-1 {
				m.selected++
			}
			return m, nil

		case "enter":
			if m.state == stateBrowse && len(m.visible) > 0 {
				m.state = stateDetail
			}
			return m, nil

		case "esc":
			if m.state == stateDetail {
				m.state = stateBrowse
			} else {
				m.filter.SetValue("")
				m.applyFilter()
			}
			return m, nil
		}

	case inspectLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.entries = msg.entries
		m.applyFilter()
		return m, nil
	}

	if m.state == stateBrowse {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}
	return m, nil
}

func (m *inspectModel) applyFilter() {
	needle := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for _, e := range m.entries {
		if needle == "" || strings.Contains(strings.ToLower(e.name), needle) ||
			strings.Contains(strings.ToLower(e.sig), needle) {
			m.visible = append(m.visible, e)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = len(m.visible) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (m *inspectModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.entries == nil {
		return "Loading module..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmglue inspect"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		if len(m.visible) == 0 {
			b.WriteString(helpStyle.Render("no matches"))
			b.WriteString("\n")
		}
		for i, e := range m.visible {
			line := m.formatEntry(e)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter detail • esc clear • q quit"))

	case stateDetail:
		e := m.visible[m.selected]
		b.WriteString(nameStyle.Render(e.name))
		b.WriteString("\n\n")
		b.WriteString(sigStyle.Render(e.sig))
		b.WriteString("\n")
		if e.mode != "" {
			b.WriteString("\nmode: ")
			b.WriteString(modeStyle.Render(e.mode))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("esc back • q quit"))
	}

	return b.String()
}

func (m *inspectModel) formatEntry(e descEntry) string {
	line := nameStyle.Render(e.name) + "  " + sigStyle.Render(e.sig)
	if e.mode != "" {
		line += "  " + modeStyle.Render("["+e.mode+"]")
	}
	return line
}
