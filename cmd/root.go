package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/wolfganghq/centurion/cmd.Version=v1.0.0"
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "centurion",
	Short: "Centurion — conversational sales runtime",
	Long:  "Centurion: the event-driven runtime behind multi-tenant sales bots. Coalesces inbound bursts, runs model dispatches with tools, qualifies leads, and hands qualified deals to the CRM.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "load env file %s: %v\n", envFile, err)
				os.Exit(1)
			}
			return
		}
		// Best-effort: a missing .env is fine.
		_ = godotenv.Load()
	},
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default: .env if present)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("centurion %s\n", Version)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
