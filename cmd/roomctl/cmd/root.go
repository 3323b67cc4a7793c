// Package cmd implements roomctl's cobra command tree: a root command
// carrying persistent flags, subcommands doing one thing each.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/meshcast/sfu/cmd/roomctl/internal/adminclient"
)

var (
	flagAdminAddr string
	flagToken     string
)

var rootCmd = &cobra.Command{
	Use:     "roomctl",
	Short:   "Operator tool for inspecting and managing live SFU rooms",
	Version: "0.1.0",
}

func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAdminAddr, "admin-addr", "http://127.0.0.1:7880", "base URL of the admin API")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("SFU_ADMIN_TOKEN"), "admin API bearer token")
	rootCmd.AddCommand(roomsCmd, evictCmd)
}

func client() *adminclient.Client {
	return adminclient.New(flagAdminAddr, flagToken)
}
