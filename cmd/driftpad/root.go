package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftpad/driftpad/internal/notes/local"
	"github.com/driftpad/driftpad/internal/notes/remote"
	notesync "github.com/driftpad/driftpad/internal/notes/sync"
)

var rootCmd = &cobra.Command{
	Use:   "driftpad",
	Short: "Offline-first notes with remote sync",
	Long: `driftpad keeps notes in a per-user local store that works fully
offline, and reconciles them with a shared remote store when connectivity
returns.

Configuration comes from a config file (driftpad.yaml in the data
directory), DRIFTPAD_* environment variables, or a .env file in the
working directory. Required settings:

  user_id      opaque user identifier supplied by your auth layer
  remote_dsn   Postgres DSN of the shared notes store`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("user", "", "user id (overrides config)")
	rootCmd.PersistentFlags().String("data-dir", "", "local data directory (overrides config)")
	_ = viper.BindPFlag("user_id", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

// initConfig loads .env, environment, and the optional config file.
func initConfig() {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	viper.SetEnvPrefix("driftpad")
	viper.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetDefault("data_dir", filepath.Join(home, ".driftpad"))
	viper.SetDefault("network_timeout", 15*time.Second)
	viper.SetDefault("probe_interval", 10*time.Second)
	viper.SetDefault("probe_timeout", 3*time.Second)
	viper.SetDefault("debounce_interval", 500*time.Millisecond)
	viper.SetDefault("dashboard_port", 0)

	viper.SetConfigName("driftpad")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(viper.GetString("data_dir"))
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// requireUser returns the configured user id or exits.
func requireUser() string {
	userID := viper.GetString("user_id")
	if userID == "" {
		fmt.Fprintf(os.Stderr, "Error: no user configured (set DRIFTPAD_USER_ID or --user)\n")
		os.Exit(1)
	}
	return userID
}

// openLocal opens the local store from config or exits.
func openLocal(logger *log.Logger) *local.Store {
	store, err := local.Open(viper.GetString("data_dir"), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local store: %v\n", err)
		os.Exit(1)
	}
	return store
}

// openRemote connects to the remote store from config or exits.
func openRemote(ctx context.Context) *remote.Store {
	dsn := viper.GetString("remote_dsn")
	if dsn == "" {
		fmt.Fprintf(os.Stderr, "Error: no remote configured (set DRIFTPAD_REMOTE_DSN)\n")
		os.Exit(1)
	}

	store, err := remote.Open(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to remote store: %v\n", err)
		os.Exit(1)
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		fmt.Fprintf(os.Stderr, "Error initializing remote schema: %v\n", err)
		os.Exit(1)
	}
	return store
}

// newCoordinator wires the configured stores into a coordinator.
func newCoordinator(localStore *local.Store, remoteStore *remote.Store, logger *log.Logger) notesync.Coordinator {
	return notesync.NewWithConfig(localStore, remoteStore, &notesync.Config{
		NetworkTimeout: viper.GetDuration("network_timeout"),
		Logger:         logger,
	})
}
