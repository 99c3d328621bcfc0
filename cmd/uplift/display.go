package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Colors - the same purple/magenta theme across all output
var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#FF79C6")
	dimColor       = lipgloss.Color("#6272A4")
	textColor      = lipgloss.Color("#F8F8F2")
	successColor   = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	errorColor     = lipgloss.Color("#FF5555")
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	statusStyle = lipgloss.NewStyle().
			Foreground(textColor)

	countStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	containerStyle = lipgloss.NewStyle().
			Padding(0, 2)
)

// reporter shows what a long-running command is doing.
type reporter interface {
	Stage(stage, detail string)
	Progress(received, total int64)
	Stop()
}

// newReporter picks the animated display for terminals and line output
// otherwise. cancel is called when the user presses ctrl+c in the display.
func (a *app) newReporter(cancel context.CancelFunc) reporter {
	if a.plain {
		return newPlainReporter(a.errOut)
	}
	return newProgressDisplay(a.errOut, cancel)
}

// progressModel is the bubbletea model for the download screen
type progressModel struct {
	spinner  spinner.Model
	progress progress.Model

	stage      string
	detail     string
	received   int64
	total      int64
	isProgress bool // true when showing progress bar instead of spinner

	ready bool
	done  bool

	cancel context.CancelFunc

	// Channel to receive updates from the command goroutine
	updates chan displayUpdate
}

type displayUpdate struct {
	stage      string
	detail     string
	received   int64
	total      int64
	isProgress bool
	done       bool
}

type displayMsg displayUpdate

func newProgressModel(cancel context.CancelFunc) *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &progressModel{
		spinner:  s,
		progress: p,
		stage:    "Starting",
		cancel:   cancel,
		updates:  make(chan displayUpdate, 16),
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForUpdate(),
	)
}

func (m *progressModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return displayMsg(<-m.updates)
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		return m, nil

	case displayMsg:
		if msg.done {
			m.done = true
			return m, tea.Quit
		}
		m.stage = msg.stage
		m.detail = msg.detail
		m.received = msg.received
		m.total = msg.total
		m.isProgress = msg.isProgress

		var cmds []tea.Cmd
		if m.isProgress && m.total > 0 {
			cmds = append(cmds, m.progress.SetPercent(float64(m.received)/float64(m.total)))
		}
		cmds = append(cmds, m.waitForUpdate())
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		updated, cmd := m.progress.Update(msg)
		m.progress = updated.(progress.Model)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if m.cancel != nil {
				m.cancel()
			}
			m.stage = "Cancelling"
			m.isProgress = false
		}
	}

	return m, nil
}

func (m *progressModel) View() string {
	if !m.ready || m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("uplift ▸ " + m.stage))
	b.WriteString("\n")

	if m.isProgress && m.total > 0 {
		b.WriteString(m.progress.View())
		b.WriteString("\n")
		countText := fmt.Sprintf("%s  %s / %s", truncateName(m.detail, 40), formatBytes(m.received), formatBytes(m.total))
		b.WriteString(countStyle.Render(countText))
	} else {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(statusStyle.Render(m.detail))
	}

	return containerStyle.Render(b.String())
}

// send queues an update, dropping it when the model is behind. Progress
// updates supersede each other, so a dropped one is never missed.
func (m *progressModel) send(update displayUpdate) {
	select {
	case m.updates <- update:
	default:
	}
}

// progressDisplay wraps the bubbletea program for the download screen
type progressDisplay struct {
	w       io.Writer
	program *tea.Program
	model   *progressModel
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
	stage   string
	detail  string
}

func newProgressDisplay(w io.Writer, cancel context.CancelFunc) *progressDisplay {
	model := newProgressModel(cancel)

	// Inline mode, so the final summary stays below the command line
	program := tea.NewProgram(
		model,
		tea.WithOutput(w),
		tea.WithoutSignalHandler(), // main cancels the context on SIGINT
	)

	d := &progressDisplay{
		w:       w,
		program: program,
		model:   model,
		done:    make(chan struct{}),
	}

	go func() {
		_, _ = program.Run()
		close(d.done)
	}()

	return d
}

func (d *progressDisplay) Stage(stage, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stage, d.detail = stage, detail
	d.model.send(displayUpdate{stage: stage, detail: detail})
}

func (d *progressDisplay) Progress(received, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.model.send(displayUpdate{
		stage:      d.stage,
		detail:     d.detail,
		received:   received,
		total:      total,
		isProgress: true,
	})
}

// Stop ends the program and clears its output.
func (d *progressDisplay) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	// The done update must not be dropped like a progress update.
	select {
	case d.model.updates <- displayUpdate{done: true}:
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
	}

	select {
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
		d.program.Kill()
		<-d.done
	}

	_, _ = fmt.Fprint(d.w, "\r\033[K")
}
