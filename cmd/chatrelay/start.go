// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/secrets"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chatrelay server",
		Long:  "Load configuration, wire all subsystems, and start the HTTP server.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()

	// Resolve keyring:// references on the raw instance before
	// unmarshalling, so a missing secret fails startup here.
	if err := secrets.ResolveViperSecrets(v, secretStoreFactory()); err != nil {
		return err
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if viper.GetBool("verbose") {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	dataDir := cfg.Storage.DataPath
	if dataDir == "" {
		dataDir = defaultDataDir()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := WireRelay(ctx, cfg, dataDir)
	if err != nil {
		return fmt.Errorf("wiring relay: %w", err)
	}
	defer func() {
		if cerr := relay.Close(); cerr != nil {
			slog.Warn("shutdown cleanup", "error", cerr)
		}
	}()

	slog.Info("starting chatrelay", "listen", cfg.Server.Listen, "data_dir", dataDir)
	return relay.Start(ctx)
}

// defaultDataDir returns ~/.local/share/chatrelay, falling back to a
// relative directory when the home dir cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatrelay-data"
	}
	return filepath.Join(home, ".local", "share", "chatrelay")
}
