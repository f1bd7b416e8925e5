package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"regci/cmd/cli/migratecmd"
	"regci/cmd/cli/notifycmd"
	"regci/cmd/cli/runcmd"
)

var RootCmd = &cobra.Command{
	Use:   "regctl",
	Short: "regci - regression test run coordinator",
	Long: `regci routes regression test runs to VM or local worker pools, records their progress
and notifies the triggering system when runs are aborted.

At a minimum, you need to migrate the database and start the server. Start the relay to
deliver notifications and the reaper to remove runs that have been queued for too long.`,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(migratecmd.Command)
	RootCmd.AddCommand(notifycmd.Command)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
