package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/meshcast/sfu/cmd/roomctl/internal/ui"
)

var flagOnce bool

var roomsCmd = &cobra.Command{
	Use:   "rooms [roomId]",
	Short: "List live rooms, or show one room's peers and resources",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRooms,
}

func init() {
	roomsCmd.Flags().BoolVar(&flagOnce, "once", false, "print a single static snapshot instead of polling live")
}

func runRooms(cmd *cobra.Command, args []string) error {
	c := client()

	if len(args) == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		detail, err := c.RoomDetail(ctx, args[0])
		if err != nil {
			return fmt.Errorf("fetch room detail: %w", err)
		}
		ui.PrintRoomDetailTable(detail)
		return nil
	}

	if flagOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rooms, err := c.ListRooms(ctx)
		if err != nil {
			return fmt.Errorf("list rooms: %w", err)
		}
		ui.PrintRoomsTable(rooms)
		return nil
	}

	p := tea.NewProgram(ui.NewModel(c))
	_, err := p.Run()
	return err
}
