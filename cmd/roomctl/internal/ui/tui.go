package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meshcast/sfu/cmd/roomctl/internal/adminclient"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22d3ee")).MarginBottom(1)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	headerRow  = lipgloss.NewStyle().Bold(true)
)

const pollInterval = 2 * time.Second

type roomsMsg struct {
	rooms []adminclient.RoomSummary
	err   error
}

type tickMsg time.Time

// Model is the live-refreshing room list shown by `roomctl rooms` without
// --once, polling the admin API on a fixed interval.
type Model struct {
	client *adminclient.Client
	rooms  []adminclient.RoomSummary
	err    error
	ticks  int
}

func NewModel(client *adminclient.Client) Model {
	return Model{client: client}
}

func (m Model) Init() tea.Cmd {
	return m.poll()
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rooms, err := m.client.ListRooms(ctx)
		return roomsMsg{rooms: rooms, err: err}
	}
}

func scheduleTick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, m.poll()
	case roomsMsg:
		m.rooms = msg.rooms
		m.err = msg.err
		m.ticks++
		return m, scheduleTick()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("meshcast sfu — live rooms") + "\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	} else if len(m.rooms) == 0 {
		b.WriteString(mutedStyle.Render("no rooms currently live") + "\n")
	} else {
		b.WriteString(headerRow.Render(fmt.Sprintf("%-36s %s", "ROOM ID", "PEERS")) + "\n")
		for _, r := range m.rooms {
			b.WriteString(fmt.Sprintf("%-36s %d\n", r.RoomID, r.PeerCount))
		}
	}
	b.WriteString(mutedStyle.Render("\npress q to quit"))
	return b.String()
}
