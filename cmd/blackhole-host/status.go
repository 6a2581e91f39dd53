package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var configDirFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether a host is running and for how long",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveConfigDir(configDirFlag)
			if err != nil {
				return err
			}
			st, err := readHostState(dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("not running")
					return nil
				}
				return err
			}
			if !processAlive(st.PID) {
				fmt.Println("not running (stale state file)")
				return nil
			}

			fmt.Printf("running (pid %d), started %s\n", st.PID, humanize.Time(st.StartedAt))
			if st.LANEnabled {
				fmt.Printf("  lan:   listening on port %d\n", st.LANPort)
			} else {
				fmt.Println("  lan:   disabled")
			}
			if st.RelayURL != "" {
				fmt.Printf("  relay: %s\n", st.RelayURL)
			} else {
				fmt.Println("  relay: disabled")
			}
			if st.DevMode {
				fmt.Println("  dev mode: ENABLED (LAN authentication disabled)")
			}
			fmt.Printf("  sessions: %d\n", st.SessionCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDirFlag, "config-dir", "", "override the config directory (default ~/.blackhole)")
	return cmd
}
