// Command blackhole-host shares a PTY-backed shell over the LAN and,
// optionally, a relay, so a voyager client can attach to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "blackhole-host",
		Short: "Expose shell sessions over the LAN and an optional relay",
	}

	root.AddCommand(serveCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
