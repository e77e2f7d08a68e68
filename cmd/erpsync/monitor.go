package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate batch, failed-record, and pending-child counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := client().Stats()
		if err != nil {
			return err
		}
		if outputFormat() == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		for k, v := range stats {
			fmt.Printf("%-28s %v\n", k, v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
