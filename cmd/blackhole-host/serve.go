package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackhole-sh/blackhole/internal/config"
	"github.com/blackhole-sh/blackhole/internal/host"
	"github.com/blackhole-sh/blackhole/internal/hostlan"
	"github.com/blackhole-sh/blackhole/internal/logger"
)

func serveCmd() *cobra.Command {
	var (
		devModeFlag    bool
		devConfirmFlag bool
		lanPortFlag    int
		noLANFlag      bool
		configDirFlag  string
		logFileFlag    string
		logLevelFlag   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start sharing PTY sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveConfigDir(configDirFlag)
			if err != nil {
				return err
			}
			if err := config.EnsureUserConfigDir(dir); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}

			cfg, err := config.LoadHostConfig(dir)
			if err != nil {
				return fmt.Errorf("load host config: %w", err)
			}
			if devModeFlag {
				cfg.DevMode = true
			}
			if lanPortFlag != 0 {
				cfg.LANPort = lanPortFlag
			}
			if cfg.LANPort == 0 {
				cfg.LANPort = hostlan.DefaultPort
			}
			cfg.LANEnabled = !noLANFlag

			if err := logger.Init(logLevelFlag, logFileFlag); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			// Policy error (spec §7): dev-mode disables all LAN auth and
			// must be explicitly confirmed outside of development builds.
			if cfg.DevMode && !devConfirmFlag && os.Getenv("BLACKHOLE_DEV_CONFIRM") != "1" {
				return fmt.Errorf("policy: dev-mode disables all LAN authentication — rerun with --dev-mode-confirm or BLACKHOLE_DEV_CONFIRM=1 to proceed")
			}
			if cfg.DevMode {
				logger.Warn("blackhole-host: starting in dev mode, LAN authentication disabled")
			}

			ctrl := host.New(host.Config{
				LANPort:      cfg.LANPort,
				LANEnabled:   cfg.LANEnabled,
				RelayURL:     cfg.WormholeURL,
				RelayToken:   cfg.WormholeToken,
				RelayEnabled: cfg.RelayEnabled,
				DefaultRows:  uint16(cfg.DefaultRows),
				DefaultCols:  uint16(cfg.DefaultCols),
			})
			if err := ctrl.Start(); err != nil {
				return fmt.Errorf("start host: %w", err)
			}
			defer ctrl.Stop()

			startedAt := time.Now()
			state := hostState{
				PID:        os.Getpid(),
				StartedAt:  startedAt,
				LANPort:    cfg.LANPort,
				LANEnabled: cfg.LANEnabled,
				RelayURL:   cfg.WormholeURL,
				DevMode:    cfg.DevMode,
			}
			writeHostState(dir, state)
			defer removeHostState(dir)

			// Refresh the state file's session count periodically, so a
			// concurrent `status` invocation sees a roughly-live number
			// without needing an IPC channel to the running serve process.
			stateTicker := time.NewTicker(5 * time.Second)
			defer stateTicker.Stop()
			stateDone := make(chan struct{})
			defer close(stateDone)
			go func() {
				for {
					select {
					case <-stateTicker.C:
						state.SessionCount = ctrl.SessionCount()
						writeHostState(dir, state)
					case <-stateDone:
						return
					}
				}
			}()

			watcher, err := config.NewWatcher(dir)
			if err != nil {
				logger.Warn("blackhole-host: config hot-reload unavailable", "err", err)
			} else {
				watcher.OnChange = func(c *config.HostConfig) {
					logger.Info("blackhole-host: config reloaded", "dev_mode", c.DevMode, "labels", c.Labels)
				}
				go watcher.Run()
				defer watcher.Close()
			}

			logger.Info("blackhole-host: listening",
				"lan_port", cfg.LANPort,
				"lan_enabled", cfg.LANEnabled,
				"relay_enabled", cfg.RelayEnabled,
				"dev_mode", cfg.DevMode,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("blackhole-host: shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&devModeFlag, "dev-mode", false, "disable LAN authentication (development only)")
	cmd.Flags().BoolVar(&devConfirmFlag, "dev-mode-confirm", false, "confirm dev-mode outside a development build")
	cmd.Flags().IntVar(&lanPortFlag, "lan-port", 0, "LAN listener port (default 9527)")
	cmd.Flags().BoolVar(&noLANFlag, "no-lan", false, "disable the LAN listener")
	cmd.Flags().StringVar(&configDirFlag, "config-dir", "", "override the config directory (default ~/.blackhole)")
	cmd.Flags().StringVar(&logFileFlag, "log-file", "", "also write logs to this file")
	cmd.Flags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func resolveConfigDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return config.UserConfigDir()
}
