// Package catalog defines the unified repository/tag model shared by all
// backend kinds and the aggregator that merges them into one paginated view.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"

	"cardcat/pkg/manifest"
)

// FetchStatus tracks the outcome of the last fetch for a repository.
type FetchStatus string

const (
	StatusOK      FetchStatus = "ok"
	StatusFailed  FetchStatus = "failed"
	StatusPending FetchStatus = "pending"
)

// Repository is one catalog entry. Identity is (RegistryID, Name); the
// deduplication scope is a single registry, never global.
type Repository struct {
	RegistryID  string
	Name        string
	TagCount    int
	RecentTags  []string
	Monitored   bool
	Status      FetchStatus
	LastUpdated time.Time
}

// Tag is a named reference within a repository.
type Tag struct {
	Name      string
	Digest    digest.Digest
	Created   time.Time
	MediaType string
	Size      int64
}

// Page is one aggregated slice of a registry catalog. An empty NextCursor
// means the catalog is exhausted. Cursors are opaque server-defined tokens
// and are replayed verbatim.
type Page struct {
	Repositories []Repository
	NextCursor   string
	Total        int
	Monitored    int
}

// Client is the capability contract every backend kind implements. The
// aggregator treats remote registries, local runtimes and mock sources
// uniformly through it.
type Client interface {
	// ListCatalog fetches one catalog page. cursor is empty for the first
	// page; the returned cursor is empty once the catalog is exhausted.
	ListCatalog(ctx context.Context, cursor string) (Page, error)

	// ListTags fetches one page of tag names in server order. Chronological
	// ordering is the aggregator's job, via resolved creation timestamps.
	ListTags(ctx context.Context, repo, cursor string) ([]Tag, string, error)

	// GetManifest retrieves a manifest by tag or digest, normalized across
	// Docker v2 and OCI formats.
	GetManifest(ctx context.Context, repo, reference string) (*manifest.Manifest, error)

	// ResolveTagCreated resolves a tag's creation timestamp from its
	// manifest config. Implementations memoize per digest within a session.
	ResolveTagCreated(ctx context.Context, repo, tag string) (time.Time, error)
}

// SortTagsByCreated orders tags chronologically, newest first. Name order
// breaks ties so the result is stable across fetches.
func SortTagsByCreated(tags []Tag) {
	sort.SliceStable(tags, func(i, j int) bool {
		if !tags[i].Created.Equal(tags[j].Created) {
			return tags[i].Created.After(tags[j].Created)
		}
		return tags[i].Name < tags[j].Name
	})
}

// RecentTags returns up to max tag names for the card view, excluding
// "latest", preserving the given order.
func RecentTags(tags []Tag, max int) []string {
	out := make([]string, 0, max)
	for _, t := range tags {
		if t.Name == "latest" {
			continue
		}
		out = append(out, t.Name)
		if len(out) == max {
			break
		}
	}
	return out
}
