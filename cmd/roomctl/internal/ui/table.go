// Package ui renders room state for the roomctl operator tool: a static
// go-pretty table for --once invocations and a live bubbletea view for
// interactive polling.
package ui

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/meshcast/sfu/cmd/roomctl/internal/adminclient"
)

// PrintRoomsTable renders one static snapshot, used by `roomctl rooms --once`.
func PrintRoomsTable(rooms []adminclient.RoomSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Room ID", "Peers"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.RoomID, r.PeerCount})
	}
	t.Render()
}

// PrintRoomDetailTable renders one room's peers and their resource counts.
func PrintRoomDetailTable(detail *adminclient.RoomDetail) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Peer ID", "Transports", "Producers", "Consumers"})
	for _, p := range detail.Peers {
		t.AppendRow(table.Row{p.PeerID, len(p.Transports), len(p.Producers), len(p.Consumers)})
	}
	t.Render()
}
