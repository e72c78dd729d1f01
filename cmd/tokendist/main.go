// Command tokendist runs the vesting vault and token sale service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tokendist.org/internal/clock"
	"tokendist.org/internal/config"
)

var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "tokendist",
	Short:         "Vesting vault and token sale service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml, toml or json)")
	rootCmd.AddCommand(serveCmd, migrateCmd, statusCmd, tokenCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath, clock.System{}.Now())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tokendist: %v\n", err)
		os.Exit(1)
	}
}

const shutdownTimeout = 10 * time.Second
