// Package mock serves a large deterministic catalog for development and
// load testing without any registry behind it.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	godigest "github.com/opencontainers/go-digest"

	"cardcat/internal/catalog"
	"cardcat/pkg/manifest"
)

// DefaultRepoCount sizes the generated catalog large enough to exercise
// pagination and incremental loading paths.
const DefaultRepoCount = 1500

// anchor pins generated timestamps so orderings are stable across runs.
var anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	teams    = []string{"platform", "payments", "search", "mobile", "data", "infra", "ml", "edge"}
	services = []string{"api", "worker", "gateway", "cache", "scheduler", "ingest", "auth", "frontend", "billing", "reports"}
)

// Client synthesizes repositories, tags, and manifests from hashes of their
// own names. The same request always returns the same data.
type Client struct {
	registryID string
	repoCount  int
	pageSize   int
	repos      []string
}

// New builds a mock source with DefaultRepoCount repositories.
func New(registryID string, pageSize int) *Client {
	return NewSized(registryID, pageSize, DefaultRepoCount)
}

// NewSized builds a mock source with an explicit repository count.
func NewSized(registryID string, pageSize, repoCount int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	c := &Client{registryID: registryID, repoCount: repoCount, pageSize: pageSize}
	c.repos = make([]string, repoCount)
	for i := range c.repos {
		c.repos[i] = repoName(i)
	}
	return c
}

// repoName yields names like "platform/api-0042"; the numeric suffix keeps
// every name unique without making them all look alike.
func repoName(i int) string {
	team := teams[i%len(teams)]
	service := services[(i/len(teams))%len(services)]
	return fmt.Sprintf("%s/%s-%04d", team, service, i)
}

// hash seeds all per-entity derived values.
func hash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func entityDigest(parts ...string) godigest.Digest {
	h := hash(parts...)
	return godigest.Digest(fmt.Sprintf("sha256:%016x%016x%016x%016x", h, h^0x9e3779b97f4a7c15, h>>1, h<<1&^(1<<63)))
}

// tagCount gives each repository 1..20 tags.
func (c *Client) tagCount(repo string) int {
	return int(hash(repo)%20) + 1
}

func (c *Client) tagNames(repo string) []string {
	n := c.tagCount(repo)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			names = append(names, "latest")
			continue
		}
		names = append(names, fmt.Sprintf("v1.%d.%d", i/4, hash(repo, strconv.Itoa(i))%10))
	}
	return names
}

func (c *Client) tag(repo, name string) catalog.Tag {
	h := hash(repo, name)
	return catalog.Tag{
		Name:      name,
		Digest:    entityDigest(repo, name),
		Created:   anchor.Add(-time.Duration(h%10000) * time.Hour),
		MediaType: manifest.DockerManifestMediaType,
		Size:      int64(h%900+100) * 1 << 20,
	}
}

// ListCatalog pages through the generated repository list. The cursor is
// the decimal offset of the next page; callers treat it as opaque.
func (c *Client) ListCatalog(ctx context.Context, cursor string) (catalog.Page, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Page{}, err
	}

	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 {
			return catalog.Page{}, &catalog.ParseError{Source: "mock cursor", Err: fmt.Errorf("bad cursor %q", cursor)}
		}
		offset = parsed
	}
	if offset >= c.repoCount {
		return catalog.Page{Total: c.repoCount}, nil
	}

	end := offset + c.pageSize
	if end > c.repoCount {
		end = c.repoCount
	}

	page := catalog.Page{Total: c.repoCount}
	for _, repo := range c.repos[offset:end] {
		tags := c.allTags(repo)
		page.Repositories = append(page.Repositories, catalog.Repository{
			RegistryID:  c.registryID,
			Name:        repo,
			TagCount:    len(tags),
			RecentTags:  catalog.RecentTags(tags, 3),
			Status:      catalog.StatusOK,
			LastUpdated: tags[0].Created,
		})
	}
	if end < c.repoCount {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (c *Client) allTags(repo string) []catalog.Tag {
	names := c.tagNames(repo)
	tags := make([]catalog.Tag, 0, len(names))
	for _, name := range names {
		tags = append(tags, c.tag(repo, name))
	}
	catalog.SortTagsByCreated(tags)
	return tags
}

// ListTags pages through a repository's generated tags, newest first.
func (c *Client) ListTags(ctx context.Context, repo, cursor string) ([]catalog.Tag, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if !c.knownRepo(repo) {
		return nil, "", fmt.Errorf("%s: %w", repo, catalog.ErrNotFound)
	}

	all := c.allTags(repo)
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 {
			return nil, "", &catalog.ParseError{Source: "mock cursor", Err: fmt.Errorf("bad cursor %q", cursor)}
		}
		offset = parsed
	}
	if offset >= len(all) {
		return nil, "", nil
	}

	end := offset + c.pageSize
	if end > len(all) {
		end = len(all)
	}
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[offset:end], next, nil
}

// GetManifest synthesizes a manifest whose layer digests and sizes derive
// from the (repo, reference) pair.
func (c *Client) GetManifest(ctx context.Context, repo, ref string) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.knownRepo(repo) || !c.knownTag(repo, ref) {
		return nil, fmt.Errorf("%s:%s: %w", repo, ref, catalog.ErrNotFound)
	}

	h := hash(repo, ref)
	layerCount := int(h%8) + 1
	m := &manifest.Manifest{
		Digest:    entityDigest(repo, ref),
		MediaType: manifest.DockerManifestMediaType,
		Config: manifest.Layer{
			Digest:    entityDigest(repo, ref, "config"),
			MediaType: manifest.DockerConfigMediaType,
			Size:      int64(h%4000) + 1000,
		},
	}
	for i := 0; i < layerCount; i++ {
		lh := hash(repo, ref, "layer", strconv.Itoa(i))
		layer := manifest.Layer{
			Digest:    entityDigest(repo, ref, "layer", strconv.Itoa(i)),
			MediaType: manifest.DockerLayerMediaType,
			Size:      int64(lh%100+1) * 1 << 20,
		}
		m.Layers = append(m.Layers, layer)
		m.TotalSize += layer.Size
	}
	return m, nil
}

// ResolveTagCreated returns the derived creation time without any manifest
// round trip.
func (c *Client) ResolveTagCreated(ctx context.Context, repo, tag string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if !c.knownRepo(repo) || !c.knownTag(repo, tag) {
		return time.Time{}, fmt.Errorf("%s:%s: %w", repo, tag, catalog.ErrNotFound)
	}
	return c.tag(repo, tag).Created, nil
}

func (c *Client) knownRepo(repo string) bool {
	for _, r := range c.repos {
		if r == repo {
			return true
		}
	}
	return false
}

func (c *Client) knownTag(repo, tag string) bool {
	for _, name := range c.tagNames(repo) {
		if name == tag {
			return true
		}
	}
	return false
}

var _ catalog.Client = (*Client)(nil)
