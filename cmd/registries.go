package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var registriesCmd = &cobra.Command{
	Use:   "registries",
	Short: "Show the status of every configured registry",
	Long:  `Probe each configured registry and report reachability and repository counts.`,
	Run:   runRegistries,
}

func init() {
	rootCmd.AddCommand(registriesCmd)
}

func runRegistries(cmd *cobra.Command, args []string) {
	agg, cfg, err := newAggregator()
	if err != nil {
		fatal(err, "Failed to load configuration")
	}
	if len(cfg.Registries) == 0 {
		fmt.Println("No registries configured.")
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	results := agg.FetchAllConfigured(context.Background())
	for _, id := range agg.RegistryIDs() {
		reg := cfg.Registries[id]
		result := results[id]
		if result.Err != nil {
			fmt.Printf("%s %-20s %-30s %v\n", red("✗"), id, reg.Endpoint, result.Err)
			continue
		}
		fmt.Printf("%s %-20s %-30s %d repositories", green("✓"), id, reg.Endpoint, result.Page.Total)
		if result.Page.Monitored > 0 {
			fmt.Printf(" (%d monitored)", result.Page.Monitored)
		}
		fmt.Println()
	}
}
