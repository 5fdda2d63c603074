package cmd

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cardcat/internal/recorder"
)

var callsTail int

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Dump the backend calls recorded in this process",
	Long: `Print the call log: one line per outbound request or runtime invocation,
with status and duration. The log only covers the current process, so running
this command on its own shows nothing; use --show-calls on catalog, tags or
registries to dump the log after a fetch.`,
	Run: runCalls,
}

func init() {
	rootCmd.AddCommand(callsCmd)
	callsCmd.Flags().IntVar(&callsTail, "tail", 0, "show only the last N records")
}

func runCalls(cmd *cobra.Command, args []string) {
	records := callLog.Snapshot()
	if callsTail > 0 {
		records = callLog.Tail(callsTail)
	}
	printCalls(records)
}

func printCalls(records []recorder.Record) {
	if len(records) == 0 {
		fmt.Println("No calls recorded.")
		return
	}

	red := color.New(color.FgRed).SprintFunc()
	for _, r := range records {
		status := strconv.Itoa(r.Status)
		if r.Err != "" {
			status = red("ERR")
		}
		fmt.Printf("%s %-6s %-4s %-60s %s\n",
			r.Timestamp.Format("15:04:05.000"), r.Method, status, r.Target, r.Duration)
		if r.Err != "" {
			fmt.Printf("      %s\n", red(r.Err))
		}
	}
}
