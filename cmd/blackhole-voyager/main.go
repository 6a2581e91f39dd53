// Command blackhole-voyager attaches a real terminal to a blackhole-host,
// either directly over the LAN or through a relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := connectCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
