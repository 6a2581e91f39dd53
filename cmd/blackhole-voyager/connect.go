package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blackhole-sh/blackhole/internal/logger"
	"github.com/blackhole-sh/blackhole/internal/voyager"
)

func connectCmd() *cobra.Command {
	var (
		relayFlag   bool
		sessionFlag string
		tokenFlag   string
		noReconnect bool
	)

	cmd := &cobra.Command{
		Use:   "blackhole-voyager <url>",
		Short: "Attach a terminal to a blackhole-host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init("warn", ""); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			// §6/domain-stack: confirm stdout is a real terminal before
			// entering raw mode or drawing anything to it.
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				return fmt.Errorf("blackhole-voyager requires an interactive terminal")
			}

			url := args[0]
			var transport *voyager.Transport
			if relayFlag {
				transport = voyager.NewRelayTransport(url, sessionFlag, tokenFlag)
			} else {
				transport = voyager.NewLANTransport(url)
			}

			// No query func: raw-TTY cell-size probing is unreliable enough
			// over SSH/serial that termemu's conservative fallback constants
			// are used instead (see the package's CellSize doc).
			coord := voyager.NewCoordinator(transport, nil)

			fd := int(os.Stdin.Fd())
			isTerm := term.IsTerminal(fd)
			if isTerm {
				if w, h, err := term.GetSize(fd); err == nil {
					coord.SetLocalSize(w, h)
				}
			}

			coord.OnActiveSessionChanged = func(sessionID string) {
				// Runs with the coordinator's lock held; redraw reads back
				// through the coordinator, so it runs on its own goroutine.
				go redraw(coord, sessionID)
			}
			coord.OnOutput = func(sessionID string) {
				if sessionID == coord.Active() {
					redraw(coord, sessionID)
				}
			}

			var oldState *term.State
			if isTerm {
				var err error
				oldState, err = term.MakeRaw(fd)
				if err != nil {
					return fmt.Errorf("enter raw mode: %w", err)
				}
				defer term.Restore(fd, oldState)
			}

			transport.Connect(!noReconnect)
			defer transport.Disconnect()

			if isTerm {
				winchCh := make(chan os.Signal, 1)
				signal.Notify(winchCh, syscall.SIGWINCH)
				defer signal.Stop(winchCh)
				go func() {
					for range winchCh {
						if w, h, err := term.GetSize(fd); err == nil {
							coord.SetLocalSize(w, h)
						}
					}
				}()
			}

			// Stdin is a single real stream; it always feeds whatever
			// session is currently active (spec §4.6's modifier/keystroke
			// forwarding is keyed off the coordinator's active session, not
			// a per-session input multiplexer).
			r := bufio.NewReader(os.Stdin)
			buf := make([]byte, 4096)
			for {
				n, err := r.Read(buf)
				if n > 0 {
					if sendErr := coord.SendKeystroke(string(buf[:n])); sendErr != nil {
						logger.Warn("voyager: send keystroke failed", "err", sendErr)
					}
				}
				if err != nil {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&relayFlag, "relay", false, "url is a relay base URL, not a LAN host URL")
	cmd.Flags().StringVar(&sessionFlag, "session", "", "relay session code (relay mode only)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "bearer token (relay mode only)")
	cmd.Flags().BoolVar(&noReconnect, "no-reconnect", false, "disable automatic reconnect")

	return cmd
}

// redraw writes the active session's emulator snapshot to stdout, clearing
// the screen first so partial frames never show through.
func redraw(coord *voyager.Coordinator, sessionID string) {
	emu, ok := coord.Emulator(sessionID)
	if !ok {
		return
	}
	os.Stdout.Write([]byte("\x1b[2J"))
	os.Stdout.Write(emu.Snapshot())
}
