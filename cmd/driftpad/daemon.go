package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/driftpad/driftpad/internal/notes/daemon"
	"github.com/driftpad/driftpad/internal/notes/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the connectivity-triggered sync daemon in the foreground.

The daemon will:
  1. Run a sync pass at startup
  2. Probe the remote and sync on every reconnect
  3. Watch the local store and sync shortly after local edits

With dashboard_port set, a WebSocket status endpoint broadcasts sync
results and connectivity changes. Logs rotate in the data directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		userID := requireUser()
		ctx := context.Background()

		// Rotating daemon log alongside stderr.
		logFile := &lumberjack.Logger{
			Filename:   filepath.Join(viper.GetString("data_dir"), "daemon.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		logger := log.New(io.MultiWriter(os.Stderr, logFile), "[daemon] ", log.LstdFlags)

		localStore := openLocal(logger)
		defer localStore.Close()

		remoteStore := openRemote(ctx)
		defer remoteStore.Close()

		coord := newCoordinator(localStore, remoteStore, logger)

		config := daemon.DefaultConfig()
		config.ProbeInterval = viper.GetDuration("probe_interval")
		config.ProbeTimeout = viper.GetDuration("probe_timeout")
		config.DebounceInterval = viper.GetDuration("debounce_interval")
		config.Logger = logger

		if port := viper.GetInt("dashboard_port"); port > 0 {
			board := dashboard.NewServer(port, logger)
			if err := board.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := board.Stop(); err != nil {
					logger.Printf("Dashboard stop: %v", err)
				}
			}()
			config.Notifier = board
		}

		d, err := daemon.New(coord, remoteStore, localStore.Path(userID), userID, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting sync daemon for %s\n", userID)
		fmt.Printf("   Data dir: %s\n", viper.GetString("data_dir"))
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
