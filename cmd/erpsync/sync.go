package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/syncforge/erpsync/internal/config"
)

// syncTypeFlag is a pflag.Value restricting --type to the two sync
// types the daemon accepts, so a typo fails at flag-parse time rather
// than as a 400 from the server.
type syncTypeFlag string

func (f *syncTypeFlag) String() string { return string(*f) }
func (f *syncTypeFlag) Type() string   { return "syncType" }
func (f *syncTypeFlag) Set(v string) error {
	switch v {
	case "full", "incremental":
		*f = syncTypeFlag(v)
		return nil
	default:
		return fmt.Errorf("must be full or incremental, got %q", v)
	}
}

var _ pflag.Value = (*syncTypeFlag)(nil)

var syncStartType = syncTypeFlag("incremental")

var syncStartCmd = &cobra.Command{
	Use:   "start <entity>",
	Short: "Trigger a sync run for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, err := client().StartSync(args[0], string(syncStartType))
		if err != nil {
			return err
		}
		fmt.Printf("started batch %s\n", uid)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <batch_uid>",
	Short: "Show a batch's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := client().Status(args[0])
		if err != nil {
			return err
		}
		printBatch(batch)
		return nil
	},
}

var syncStopCmd = &cobra.Command{
	Use:   "stop <batch_uid>",
	Short: "Request advisory cancellation of a running batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Stop(args[0]); err != nil {
			return err
		}
		fmt.Printf("stop requested for %s\n", args[0])
		return nil
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sync batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, _ := cmd.Flags().GetString("entity")
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		if pageSize <= 0 {
			pageSize = config.CLIInt("batch-size") // falls back to the configured default sync batch size
		}
		if pageSize <= 0 {
			pageSize = 50
		}
		resp, err := client().History(entity, page, pageSize)
		if err != nil {
			return err
		}
		for _, b := range resp.Items {
			printBatch(&b)
		}
		fmt.Printf("page %d/%d (of %d total)\n", resp.Page, pages(resp.Total, resp.PageSize), resp.Total)
		return nil
	},
}

var syncRetryFailedCmd = &cobra.Command{
	Use:   "retry-failed <entity>",
	Short: "Replay retryable failed records for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := client().RetryFailed(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("resolved %d failed record(s)\n", n)
		return nil
	},
}

func pages(total, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	n := total / pageSize
	if total%pageSize != 0 {
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

func printBatch(b *SyncBatch) {
	fmt.Printf("%s  entity=%s  type=%s  status=%s  started=%s",
		b.UID, b.EntityName, b.SyncType, b.Status, b.StartedAt.Format("2006-01-02T15:04:05"))
	if b.CompletedAt != nil {
		fmt.Printf("  completed=%s", b.CompletedAt.Format("2006-01-02T15:04:05"))
	}
	fmt.Println()
	if b.ErrorMessage != nil {
		fmt.Printf("  error: %s\n", *b.ErrorMessage)
	}
}

func init() {
	syncCmd.AddCommand(syncStartCmd, syncStatusCmd, syncStopCmd, syncHistoryCmd, syncRetryFailedCmd)
	syncStartCmd.Flags().Var(&syncStartType, "type", "sync type: full|incremental")
	syncHistoryCmd.Flags().String("entity", "", "filter by entity name")
	syncHistoryCmd.Flags().Int("page", 1, "page number")
	syncHistoryCmd.Flags().Int("page-size", 0, "page size (defaults to the configured batch size)")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Control and inspect sync runs",
}
