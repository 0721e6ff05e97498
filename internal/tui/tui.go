// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tui provides the interactive status dashboard shown when
// pgkeeper is started without a subcommand.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pgkeeper/pgkeeper/buildvars"
	"github.com/pgkeeper/pgkeeper/internal/health"
	"github.com/pgkeeper/pgkeeper/internal/hardware"
	"github.com/pgkeeper/pgkeeper/internal/i18n"
	"github.com/pgkeeper/pgkeeper/internal/model"
	"github.com/pgkeeper/pgkeeper/internal/store"
)

const (
	colorSubtle    = lipgloss.Color("240")
	colorHighlight = lipgloss.Color("81")
	colorError     = lipgloss.Color("196")
	colorSuccess   = lipgloss.Color("40")
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorHighlight).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(colorHighlight).
			Bold(true)

	okStyle   = lipgloss.NewStyle().Foreground(colorSuccess)
	failStyle = lipgloss.NewStyle().Foreground(colorError)
	helpStyle = lipgloss.NewStyle().Foreground(colorSubtle)
)

const refreshInterval = 5 * time.Second

// statusMsg carries one refresh of everything the dashboard shows.
type statusMsg struct {
	checks  []health.CheckResult
	spec    model.HardwareSpec
	haveRef bool
	runs    []model.TuningRun
	events  []model.ServiceEvent
	err     error
}

type tickMsg time.Time

// Deps are the collaborators the dashboard reads from.
type Deps struct {
	Checker  *health.Checker
	Detector *hardware.Detector
	StateDir string
	Store    store.Store
}

type dashModel struct {
	deps    Deps
	status  statusMsg
	loaded  bool
	spinner spinner.Model
	width   int
	height  int
}

func newDashModel(deps Deps) dashModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorHighlight)
	return dashModel{deps: deps, spinner: sp}
}

// Run starts the dashboard and blocks until the user quits.
func Run(deps Deps) error {
	p := tea.NewProgram(newDashModel(deps), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick(), m.spinner.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashModel) refresh() tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var msg statusMsg
		if deps.Checker != nil {
			msg.checks = deps.Checker.Run(ctx)
		}
		if deps.Detector != nil {
			spec, err := deps.Detector.Detect()
			if err != nil {
				msg.err = err
			} else {
				msg.spec = spec
			}
		}
		if deps.StateDir != "" {
			if _, ok, err := hardware.LoadSnapshot(deps.StateDir); err == nil && ok {
				msg.haveRef = true
			}
		}
		if deps.Store != nil {
			if runs, err := deps.Store.ListTuningRuns(3); err == nil {
				msg.runs = runs
			}
			if events, err := deps.Store.ListServiceEvents("", 5); err == nil {
				msg.events = events
			}
		}
		return msg
	}
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())
	case statusMsg:
		m.status = msg
		m.loaded = true
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m dashModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(i18n.T("tui.title") + " " + buildvars.VersionOrDefault("dev")))
	b.WriteString("\n\n")

	if !m.loaded {
		b.WriteString(m.spinner.View() + " " + i18n.T("tui.loading"))
		b.WriteString("\n")
		return docStyle.Render(b.String())
	}

	b.WriteString(sectionStyle.Render(i18n.T("tui.section.services")))
	b.WriteString("\n")
	if len(m.status.checks) == 0 {
		b.WriteString("  " + helpStyle.Render(i18n.T("tui.no_checks")) + "\n")
	}
	for _, c := range m.status.checks {
		mark := okStyle.Render("●")
		if !c.OK {
			mark = failStyle.Render("●")
		}
		line := fmt.Sprintf("  %s %-12s %s", mark, c.Target, c.Detail)
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(i18n.T("tui.section.hardware")))
	b.WriteString("\n")
	if m.status.err != nil {
		b.WriteString("  " + failStyle.Render(m.status.err.Error()) + "\n")
	} else {
		b.WriteString("  " + m.status.spec.String() + "\n")
		if !m.status.haveRef {
			b.WriteString("  " + helpStyle.Render(i18n.T("tui.no_baseline")) + "\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(i18n.T("tui.section.tuning")))
	b.WriteString("\n")
	if len(m.status.runs) == 0 {
		b.WriteString("  " + helpStyle.Render(i18n.T("tui.no_runs")) + "\n")
	}
	for _, run := range m.status.runs {
		line := fmt.Sprintf("  %s  %s (%s)", run.AppliedAt.Local().Format("2006-01-02 15:04"), run.Spec, run.Workload)
		if run.DryRun {
			line += " " + helpStyle.Render(i18n.T("tui.dry_run"))
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(i18n.T("tui.section.events")))
	b.WriteString("\n")
	if len(m.status.events) == 0 {
		b.WriteString("  " + helpStyle.Render(i18n.T("tui.no_events")) + "\n")
	}
	for _, ev := range m.status.events {
		style := okStyle
		if ev.Kind == "failure" || ev.Kind == "gave_up" {
			style = failStyle
		}
		line := fmt.Sprintf("  %s  %-10s %s %s",
			ev.OccurredAt.Local().Format("15:04:05"), ev.Unit, style.Render(ev.Kind), ev.Detail)
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(helpStyle.Render(i18n.T("tui.help")))
	return docStyle.Render(b.String())
}
