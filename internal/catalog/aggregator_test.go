package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardcat/internal/config"
	"cardcat/pkg/manifest"
)

// fakeClient serves a fixed repository list with offset cursors, optionally
// blocking until released so cancellation windows can be forced open.
type fakeClient struct {
	mu       sync.Mutex
	repos    []Repository
	tags     map[string][]Tag
	pageSize int
	total    int

	block    chan struct{}
	listErr  error
	tagCalls int
}

func newFakeClient(registryID string, count, pageSize int) *fakeClient {
	c := &fakeClient{pageSize: pageSize, total: count, tags: make(map[string][]Tag)}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("repo-%04d", i)
		c.repos = append(c.repos, Repository{RegistryID: registryID, Name: name, Status: StatusPending})
		c.tags[name] = []Tag{{
			Name:    "v1",
			Created: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		}}
	}
	return c
}

func (c *fakeClient) ListCatalog(ctx context.Context, cursor string) (Page, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return Page{}, c.listErr
	}

	offset := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &offset); err != nil {
			return Page{}, fmt.Errorf("bad cursor %q", cursor)
		}
	}
	end := offset + c.pageSize
	if end > len(c.repos) {
		end = len(c.repos)
	}
	page := Page{Total: c.total}
	page.Repositories = append(page.Repositories, c.repos[offset:end]...)
	if end < len(c.repos) {
		page.NextCursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (c *fakeClient) ListTags(ctx context.Context, repo, cursor string) ([]Tag, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagCalls++
	tags, ok := c.tags[repo]
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", repo, ErrNotFound)
	}
	return tags, "", nil
}

func (c *fakeClient) GetManifest(ctx context.Context, repo, ref string) (*manifest.Manifest, error) {
	return nil, fmt.Errorf("%s:%s: %w", repo, ref, ErrNotFound)
}

func (c *fakeClient) ResolveTagCreated(ctx context.Context, repo, tag string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tags[repo] {
		if t.Name == tag {
			return t.Created, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s:%s: %w", repo, tag, ErrNotFound)
}

func testSettings() config.Settings {
	return config.Settings{PageSize: 100, MaxParallel: 4, RequestTimeout: 5 * time.Second, AutoLoadThreshold: 1000}
}

func newTestAggregator(t *testing.T, clients map[string]Client, monitored map[string][]string) *Aggregator {
	t.Helper()
	cfg := &config.Config{Settings: testSettings(), Registries: make(map[string]config.Registry)}
	for id := range clients {
		cfg.Registries[id] = config.Registry{ID: id, Endpoint: "https://" + id + ".example.com", Monitored: monitored[id]}
	}
	return New(cfg, func(reg config.Registry) (Client, error) {
		return clients[reg.ID], nil
	})
}

func TestFetchCatalogPageNoDuplicatesAcrossLoadMore(t *testing.T) {
	fake := newFakeClient("prod", 250, 100)
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, nil)

	seen := make(map[string]bool)
	page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	for {
		for _, repo := range page.Repositories {
			key := repo.RegistryID + "/" + repo.Name
			assert.False(t, seen[key], "duplicate %s", key)
			seen[key] = true
		}
		if page.NextCursor == "" {
			break
		}
		page, err = agg.LoadMore(context.Background(), "prod")
		require.NoError(t, err)
	}
	assert.Len(t, seen, 250)
}

func TestMonitoredRepositoriesFirstAndResolved(t *testing.T) {
	fake := newFakeClient("prod", 50, 20)
	monitored := []string{"repo-0045", "repo-0003"}
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, map[string][]string{"prod": monitored})

	page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(page.Repositories), 2)

	// Monitored entries lead the page and carry resolved tag data even
	// though the bulk cursor has not reached repo-0045 yet.
	assert.Equal(t, "repo-0045", page.Repositories[0].Name)
	assert.Equal(t, "repo-0003", page.Repositories[1].Name)
	for _, repo := range page.Repositories[:2] {
		assert.True(t, repo.Monitored)
		assert.Equal(t, StatusOK, repo.Status)
		assert.Equal(t, 1, repo.TagCount)
		assert.Equal(t, []string{"v1"}, repo.RecentTags)
		assert.False(t, repo.LastUpdated.IsZero())
	}
	for _, repo := range page.Repositories[2:] {
		assert.False(t, repo.Monitored)
	}
}

func TestMonitoredNotDuplicatedByBulkPages(t *testing.T) {
	fake := newFakeClient("prod", 30, 10)
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, map[string][]string{"prod": {"repo-0012"}})

	var names []string
	page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	for {
		for _, repo := range page.Repositories {
			names = append(names, repo.Name)
		}
		if page.NextCursor == "" {
			break
		}
		page, err = agg.LoadMore(context.Background(), "prod")
		require.NoError(t, err)
	}

	count := 0
	for _, n := range names {
		if n == "repo-0012" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "repo-0012", names[0])
	assert.Len(t, names, 30)
}

func TestTotalAndMonitoredCounts(t *testing.T) {
	fake := newFakeClient("prod", 1003, 100)
	monitored := []string{"repo-0001", "repo-0500", "repo-1002"}
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, map[string][]string{"prod": monitored})

	page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	assert.Equal(t, 1003, page.Total)
	assert.Equal(t, 3, page.Monitored)
}

func TestMonitoredFetchFailureIsolated(t *testing.T) {
	fake := newFakeClient("prod", 10, 10)
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, map[string][]string{"prod": {"gone/away"}})

	page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Repositories)
	assert.Equal(t, "gone/away", page.Repositories[0].Name)
	assert.Equal(t, StatusFailed, page.Repositories[0].Status)
	// The bulk page still came through.
	assert.Len(t, page.Repositories, 11)
}

func TestCancelDiscardsInFlightResults(t *testing.T) {
	fake := newFakeClient("prod", 20, 10)
	fake.block = make(chan struct{})
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, nil)

	type outcome struct {
		page Page
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
		done <- outcome{page, err}
	}()

	// Let the fetch reach the backend, cancel, then release the delayed
	// response. The stale result must be dropped, not applied.
	time.Sleep(20 * time.Millisecond)
	agg.Cancel("prod")
	close(fake.block)

	result := <-done
	assert.ErrorIs(t, result.err, ErrStaleGeneration)
	assert.Empty(t, result.page.Repositories)
	assert.Zero(t, agg.Seen("prod"))

	// A fresh pass after cancellation works normally.
	fake.block = nil
	page, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	assert.Len(t, page.Repositories, 10)
}

func TestRefreshStartsCleanSession(t *testing.T) {
	fake := newFakeClient("prod", 30, 10)
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, nil)

	_, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	_, err = agg.LoadMore(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, 20, agg.Seen("prod"))

	page, err := agg.Refresh(context.Background(), "prod")
	require.NoError(t, err)
	// The first page repeats after refresh: the dedup set was discarded.
	assert.Len(t, page.Repositories, 10)
	assert.Equal(t, "repo-0000", page.Repositories[0].Name)
	assert.Equal(t, 10, agg.Seen("prod"))
}

func TestFetchAllConfiguredIsolatesFailures(t *testing.T) {
	healthy := newFakeClient("ok", 5, 10)
	broken := newFakeClient("bad", 5, 10)
	broken.listErr = errors.New("connection refused")

	agg := newTestAggregator(t, map[string]Client{"ok": healthy, "bad": broken}, nil)
	results := agg.FetchAllConfigured(context.Background())

	require.Len(t, results, 2)
	require.NoError(t, results["ok"].Err)
	assert.Len(t, results["ok"].Page.Repositories, 5)
	assert.Error(t, results["bad"].Err)
}

func TestFetchAllConfiguredZeroParallelismDoesNotBlock(t *testing.T) {
	fake := newFakeClient("prod", 5, 10)
	cfg := &config.Config{
		Settings:   config.Settings{PageSize: 100, RequestTimeout: 5 * time.Second},
		Registries: map[string]config.Registry{"prod": {ID: "prod", Endpoint: "https://prod.example.com"}},
	}
	agg := New(cfg, func(config.Registry) (Client, error) { return fake, nil })

	done := make(chan map[string]Result, 1)
	go func() { done <- agg.FetchAllConfigured(context.Background()) }()

	select {
	case results := <-done:
		require.NoError(t, results["prod"].Err)
		assert.Len(t, results["prod"].Page.Repositories, 5)
	case <-time.After(2 * time.Second):
		t.Fatal("FetchAllConfigured blocked with unset parallelism")
	}
}

func TestLocalUnavailableYieldsEmptyOKPage(t *testing.T) {
	cfg := &config.Config{
		Settings: testSettings(),
		Registries: map[string]config.Registry{
			"local": {ID: "local", Endpoint: "local://"},
		},
	}
	agg := New(cfg, func(reg config.Registry) (Client, error) {
		return nil, ErrLocalUnavailable
	})

	page, err := agg.FetchCatalogPage(context.Background(), "local", "")
	require.NoError(t, err)
	assert.Empty(t, page.Repositories)
	assert.Zero(t, page.Total)
}

func TestUnknownRegistry(t *testing.T) {
	agg := newTestAggregator(t, map[string]Client{}, nil)

	_, err := agg.FetchCatalogPage(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrUnknownRegistry)
}

func TestLoadMoreAutoLoadsPastThreshold(t *testing.T) {
	fake := newFakeClient("prod", 1500, 500)
	cfg := &config.Config{
		Settings:   config.Settings{PageSize: 500, MaxParallel: 4, RequestTimeout: 5 * time.Second, AutoLoadThreshold: 1000},
		Registries: map[string]config.Registry{"prod": {ID: "prod", Endpoint: "https://prod.example.com"}},
	}
	agg := New(cfg, func(config.Registry) (Client, error) { return fake, nil })

	_, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)
	page, err := agg.LoadMore(context.Background(), "prod")
	require.NoError(t, err)
	assert.Len(t, page.Repositories, 500)
	assert.NotEmpty(t, page.NextCursor)

	// 1000 visible items now: the next LoadMore drains to exhaustion.
	page, err = agg.LoadMore(context.Background(), "prod")
	require.NoError(t, err)
	assert.Len(t, page.Repositories, 500)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, 1500, agg.Seen("prod"))
}

func TestLoadMoreAfterExhaustion(t *testing.T) {
	fake := newFakeClient("prod", 5, 10)
	agg := newTestAggregator(t, map[string]Client{"prod": fake}, nil)

	_, err := agg.FetchCatalogPage(context.Background(), "prod", "")
	require.NoError(t, err)

	page, err := agg.LoadMore(context.Background(), "prod")
	require.NoError(t, err)
	assert.Empty(t, page.Repositories)
	assert.Equal(t, 5, page.Total)
}
