// Package main implements the rally-relay command line: a local webhook
// server and the schema migration.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jarrod-lowe/rally-relay/internal/config"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

var configDir string

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Rally email relay",
	Long:          "Answers inbound email with AI drafted replies sent to every participant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().String("database.url", "", "Database connection URL")
	rootCmd.PersistentFlags().String("server.addr", ":8080", "Listen address for serve")

	// Bind flags to viper
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database.url"))
	viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("server.addr"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	if err := config.ReadFile(viper.GetViper(), configDir); err != nil {
		logger.Error("Failed to read config file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
