// Command erpsync is the operator CLI for the synchronization daemon:
// it talks to a running erpsyncd over HTTP to trigger syncs, check
// status, and inspect monitoring state. Grounded on cmd/root.go's
// cobra wiring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncforge/erpsync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "erpsync",
	Short: "Operator CLI for the erpsync synchronization daemon",
	Long: `erpsync drives a running erpsyncd instance over its HTTP API:
trigger syncs, poll status, inspect failed records and pending
parent-child links.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "erpsyncd base URL")
	rootCmd.PersistentFlags().String("token", "", "internal service bearer token")
	rootCmd.PersistentFlags().String("output", "text", "output format: text|json")

	cobra.OnInitialize(func() {
		if err := config.InitCLI(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: load config: %v\n", err)
			return
		}
		v := config.CLIViper()
		_ = v.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
		_ = v.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
		_ = v.BindPFlag("output-format", rootCmd.PersistentFlags().Lookup("output"))
	})
}

func client() *Client {
	if config.CLIViper() == nil {
		server, _ := rootCmd.PersistentFlags().GetString("server")
		token, _ := rootCmd.PersistentFlags().GetString("token")
		return NewClient(server, token, 0)
	}
	return NewClient(config.CLIString("server"), config.CLIString("token"), config.CLIDuration("request-timeout"))
}

func outputFormat() string {
	if config.CLIViper() != nil {
		if f := config.CLIString("output-format"); f != "" {
			return f
		}
	}
	format, _ := rootCmd.PersistentFlags().GetString("output")
	return format
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
