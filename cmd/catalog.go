package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cardcat/internal/catalog"
	"cardcat/pkg/duration"
)

var catalogAll bool

var catalogCmd = &cobra.Command{
	Use:   "catalog <registry-id>",
	Short: "List the repositories of a registry",
	Long: `Fetch one catalog page for a registry, monitored repositories first.
With --all, pagination continues until the catalog is exhausted.`,
	Args: cobra.ExactArgs(1),
	Run:  runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().BoolVar(&catalogAll, "all", false, "fetch every page, not just the first")
}

func runCatalog(cmd *cobra.Command, args []string) {
	agg, _, err := newAggregator()
	if err != nil {
		fatal(err, "Failed to load configuration")
	}
	id := args[0]

	ctx := context.Background()
	page, err := agg.FetchCatalogPage(ctx, id, "")
	if err != nil {
		fatal(err, "Catalog fetch failed")
	}

	repos := page.Repositories
	for catalogAll && page.NextCursor != "" {
		page, err = agg.LoadMore(ctx, id)
		if err != nil {
			fatal(err, "Catalog fetch failed")
		}
		repos = append(repos, page.Repositories...)
	}

	fmt.Printf("%s: %d(%d)\n", id, page.Total, page.Monitored)

	bold := color.New(color.Bold).SprintFunc()
	for _, repo := range repos {
		name := repo.Name
		if repo.Monitored {
			name = bold(name) + " *"
		}
		line := name
		if repo.TagCount > 0 {
			line += fmt.Sprintf("  %d tags", repo.TagCount)
		}
		if len(repo.RecentTags) > 0 {
			line += "  [" + strings.Join(repo.RecentTags, ", ") + "]"
		}
		if !repo.LastUpdated.IsZero() {
			line += "  " + duration.Ago(repo.LastUpdated)
		}
		if repo.Status == catalog.StatusFailed {
			line += "  " + color.RedString("(fetch failed)")
		}
		fmt.Println(line)
	}
	if !catalogAll && page.NextCursor != "" {
		fmt.Printf("... more available (showing %d of %d)\n", len(repos), page.Total)
	}
}
