// ABOUTME: Server TUI for displaying sessions and request counters
// ABOUTME: Real-time server status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{} // Signal to stop the server
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name       string
	Port       int
	Path       string
	Uptime     time.Duration
	Requests   uint64
	Errors     uint64
	Operations []string
	Sessions   []SessionRow
}

// SessionRow holds one session for display
type SessionRow struct {
	ID         string
	RemoteAddr string
	Connected  time.Duration
	Requests   uint64
}

// tuiModel is the bubbletea model for server TUI
type tuiModel struct {
	status   ServerStatus
	quitting bool
	quitChan chan struct{} // Channel to signal server stop
}

type tickMsg time.Time
type statusMsg ServerStatus

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))
)

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("wsdsp Server"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Server", m.status.Name)
	field("Endpoint", fmt.Sprintf(":%d%s", m.status.Port, m.status.Path))
	field("Uptime", m.status.Uptime.Round(time.Second).String())
	field("Operations", strings.Join(m.status.Operations, ", "))
	field("Requests", fmt.Sprintf("%d", m.status.Requests))

	b.WriteString(headerStyle.Render("Errors: "))
	errs := fmt.Sprintf("%d", m.status.Errors)
	if m.status.Errors > 0 {
		b.WriteString(errorStyle.Render(errs))
	} else {
		b.WriteString(valueStyle.Render(errs))
	}
	b.WriteString("\n\n")

	b.WriteString(sessionHeaderStyle.Render(fmt.Sprintf("Sessions (%d)", len(m.status.Sessions))))
	b.WriteString("\n\n")

	if len(m.status.Sessions) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else {
		for _, sess := range m.status.Sessions {
			b.WriteString(fmt.Sprintf("  • %s", sess.RemoteAddr))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %d requests, up %s)",
				shortID(sess.ID), sess.Requests, sess.Connected.Round(time.Second))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the TUI until the user quits or Stop is called.
func (t *ServerTUI) Start(initial ServerStatus) error {
	m := tuiModel{
		status:   initial,
		quitChan: t.quitChan,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	t.mu.Lock()
	t.program = p
	t.mu.Unlock()

	go func() {
		for {
			select {
			case status := <-t.updates:
				p.Send(statusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := p.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case <-t.done:
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.program != nil {
			t.program.Quit()
		}
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
