package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var evictCmd = &cobra.Command{
	Use:   "evict <roomId> <peerId>",
	Short: "Forcibly disconnect a peer, tearing down its transports, producers, and consumers",
	Args:  cobra.ExactArgs(2),
	RunE:  runEvict,
}

func runEvict(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client().EvictPeer(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("evict peer: %w", err)
	}
	fmt.Printf("evicted peer %s from room %s\n", args[1], args[0])
	return nil
}
