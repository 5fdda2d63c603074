package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cardcat/internal/catalog"
	"cardcat/pkg/bytesize"
)

var tagsCmd = &cobra.Command{
	Use:   "tags <registry-id> <repository>",
	Short: "List the tags of a repository, newest first",
	Args:  cobra.ExactArgs(2),
	Run:   runTags,
}

func init() {
	rootCmd.AddCommand(tagsCmd)
}

func runTags(cmd *cobra.Command, args []string) {
	agg, _, err := newAggregator()
	if err != nil {
		fatal(err, "Failed to load configuration")
	}
	id, repo := args[0], args[1]

	client, err := agg.Client(id)
	if err != nil {
		fatal(err, "Registry unavailable")
	}

	ctx := context.Background()
	var tags []catalog.Tag
	cursor := ""
	for {
		page, next, err := client.ListTags(ctx, repo, cursor)
		if err != nil {
			fatal(err, "Tag listing failed")
		}
		tags = append(tags, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	// Creation timestamps come from manifest config blobs, not list order.
	for i := range tags {
		if !tags[i].Created.IsZero() {
			continue
		}
		created, err := client.ResolveTagCreated(ctx, repo, tags[i].Name)
		if err != nil {
			continue
		}
		tags[i].Created = created
	}
	catalog.SortTagsByCreated(tags)

	fmt.Printf("%s/%s: %d tags\n", id, repo, len(tags))
	for _, tag := range tags {
		line := tag.Name
		if !tag.Created.IsZero() {
			line += "  " + tag.Created.Format("2006-01-02 15:04")
		}
		if tag.Digest != "" {
			encoded := tag.Digest.Encoded()
			if len(encoded) > 12 {
				encoded = encoded[:12]
			}
			line += "  " + encoded
		}
		if tag.Size > 0 {
			line += "  " + bytesize.Format(tag.Size)
		}
		fmt.Println(line)
	}
}
