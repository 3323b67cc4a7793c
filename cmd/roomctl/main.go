// Command roomctl is the operator CLI/TUI: list live rooms, inspect one
// room's peers, and evict a peer, all against the signaling server's
// admin API.
package main

import "github.com/meshcast/sfu/cmd/roomctl/cmd"

func main() {
	cmd.Execute()
}
