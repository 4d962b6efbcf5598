package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cisd",
	Short: "cisd runs one node of a Cluster of Independent Systems",
	Long: `cisd is the CIS node daemon: it binds a hardware-derived identity,
opens its local encrypted storage, joins the peer-to-peer federation,
and serves the skill runtime's DAG scheduler until signaled to stop.`,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
