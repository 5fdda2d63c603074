package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cardcat/internal/config"
)

// DefaultAutoLoadThreshold is the visible-item count above which LoadMore keeps
// pulling pages without an explicit request, so large catalogs fill in
// behind the first screen.
const DefaultAutoLoadThreshold = 1000

// ClientFactory builds the backend client for one descriptor. Returning
// ErrLocalUnavailable marks the registry as an empty-but-healthy source.
type ClientFactory func(reg config.Registry) (Client, error)

// fetchSession is the per-registry pagination state for one aggregation
// pass. Guarded by the Aggregator mutex; the generation counter lets
// results from cancelled passes be recognized and dropped on arrival.
type fetchSession struct {
	generation uint64
	cursor     string
	exhausted  bool
	seen       map[string]bool
	total      int
	monitored  int
	visible    int
	started    bool
}

// Aggregator merges the configured registries into one uniform paginated
// catalog view, monitored repositories first.
type Aggregator struct {
	settings config.Settings
	log      zerolog.Logger

	mu          sync.Mutex
	descriptors map[string]config.Registry
	clients     map[string]Client
	unavailable map[string]bool
	sessions    map[string]*fetchSession
}

// New builds an Aggregator over the configured descriptors, constructing
// one client per registry through factory. A factory error other than
// ErrLocalUnavailable disables that registry but never fails construction;
// failures stay isolated per registry.
func New(cfg *config.Config, factory ClientFactory) *Aggregator {
	a := &Aggregator{
		settings:    cfg.Settings,
		log:         log.With().Str("component", "aggregator").Logger(),
		descriptors: make(map[string]config.Registry, len(cfg.Registries)),
		clients:     make(map[string]Client, len(cfg.Registries)),
		unavailable: make(map[string]bool),
		sessions:    make(map[string]*fetchSession),
	}

	for id, reg := range cfg.Registries {
		a.descriptors[id] = reg
		client, err := factory(reg)
		if err != nil {
			if errors.Is(err, ErrLocalUnavailable) {
				a.log.Info().Str("registry", id).Msg("Local runtime not available, registry will serve empty pages")
			} else {
				a.log.Warn().Err(err).Str("registry", id).Msg("Registry client construction failed")
			}
			a.unavailable[id] = true
			continue
		}
		a.clients[id] = client
	}
	return a
}

// RegistryIDs returns the configured registry identifiers in sorted order.
func (a *Aggregator) RegistryIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := config.Config{Settings: a.settings, Registries: a.descriptors}
	ids := make([]string, 0, len(a.descriptors))
	for _, reg := range cfg.Descriptors() {
		ids = append(ids, reg.ID)
	}
	return ids
}

// Client exposes the backend client for one registry, for callers that
// need direct tag or manifest access. Returns ErrUnknownRegistry for ids
// not in the configuration and ErrLocalUnavailable for disabled sources.
func (a *Aggregator) Client(id string) (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.descriptors[id]; !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownRegistry)
	}
	client, ok := a.clients[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrLocalUnavailable)
	}
	return client, nil
}

// FetchCatalogPage returns one merged catalog page for a registry. An
// empty cursor starts a fresh aggregation session: the generation is
// bumped, prior state is discarded, and the registry's monitored
// repositories are fetched and fully resolved ahead of the bulk page.
// Later cursors continue the session and deduplicate against everything
// already returned.
func (a *Aggregator) FetchCatalogPage(ctx context.Context, id, cursor string) (Page, error) {
	a.mu.Lock()
	reg, ok := a.descriptors[id]
	if !ok {
		a.mu.Unlock()
		return Page{}, fmt.Errorf("%s: %w", id, ErrUnknownRegistry)
	}
	client, available := a.clients[id]
	if !available {
		// Absent local runtimes are healthy empty sources.
		a.mu.Unlock()
		return Page{}, nil
	}

	session := a.sessions[id]
	if session == nil || cursor == "" {
		var gen uint64
		if session != nil {
			gen = session.generation + 1
		}
		session = &fetchSession{generation: gen, seen: make(map[string]bool)}
		a.sessions[id] = session
	}
	gen := session.generation
	fresh := !session.started
	session.started = true
	a.mu.Unlock()

	var monitored []Repository
	if fresh && len(reg.Monitored) > 0 {
		monitored = a.resolveMonitored(ctx, id, client, reg.Monitored)
	}

	page, err := client.ListCatalog(ctx, cursor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, ctxErr
		}
		return Page{}, fmt.Errorf("registry %s: %w", id, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.sessions[id]
	if current == nil || current.generation != gen {
		return Page{}, fmt.Errorf("registry %s: %w", id, ErrStaleGeneration)
	}

	merged := Page{}
	for i := range monitored {
		repo := monitored[i]
		if current.seen[repo.Name] {
			continue
		}
		current.seen[repo.Name] = true
		current.monitored++
		merged.Repositories = append(merged.Repositories, repo)
	}
	for _, repo := range page.Repositories {
		if current.seen[repo.Name] {
			continue
		}
		current.seen[repo.Name] = true
		repo.Monitored = containsName(reg.Monitored, repo.Name)
		if repo.Monitored {
			current.monitored++
		}
		merged.Repositories = append(merged.Repositories, repo)
	}

	current.cursor = page.NextCursor
	current.exhausted = page.NextCursor == ""
	current.visible += len(merged.Repositories)
	if page.Total > 0 {
		current.total = page.Total
	}

	merged.NextCursor = page.NextCursor
	merged.Total = current.total
	if merged.Total < len(current.seen) {
		merged.Total = len(current.seen)
	}
	merged.Monitored = current.monitored
	return merged, nil
}

// resolveMonitored fetches full tag data for each monitored repository.
// A failed repository is still listed, flagged failed, so the slot is
// visible rather than silently missing.
func (a *Aggregator) resolveMonitored(ctx context.Context, id string, client Client, names []string) []Repository {
	out := make([]Repository, 0, len(names))
	for _, name := range names {
		repo := Repository{
			RegistryID: id,
			Name:       name,
			Monitored:  true,
			Status:     StatusOK,
		}

		tags, _, err := client.ListTags(ctx, name, "")
		if err != nil {
			a.log.Warn().Err(err).Str("registry", id).Str("repository", name).
				Msg("Monitored repository fetch failed")
			repo.Status = StatusFailed
			out = append(out, repo)
			continue
		}

		for i := range tags {
			if !tags[i].Created.IsZero() {
				continue
			}
			created, err := client.ResolveTagCreated(ctx, name, tags[i].Name)
			if err != nil {
				a.log.Debug().Err(err).Str("repository", name).Str("tag", tags[i].Name).
					Msg("Tag timestamp resolution failed")
				continue
			}
			tags[i].Created = created
		}
		SortTagsByCreated(tags)

		repo.TagCount = len(tags)
		repo.RecentTags = RecentTags(tags, 3)
		if len(tags) > 0 {
			repo.LastUpdated = tags[0].Created
		}
		out = append(out, repo)
	}
	return out
}

// FetchAllConfigured runs one fresh catalog fetch per configured registry
// concurrently, bounded by MaxParallel. Each registry succeeds or fails
// independently; one slow or broken backend never blocks the others.
func (a *Aggregator) FetchAllConfigured(ctx context.Context) map[string]Result {
	ids := a.RegistryIDs()

	var mu sync.Mutex
	results := make(map[string]Result, len(ids))

	limit := a.settings.MaxParallel
	if limit <= 0 {
		limit = config.DefaultMaxParallel
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			page, err := a.FetchCatalogPage(gctx, id, "")
			mu.Lock()
			results[id] = Result{Page: page, Err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Result is one registry's outcome from FetchAllConfigured.
type Result struct {
	Page Page
	Err  error
}

// LoadMore continues pagination from the registry's stored cursor. When
// the visible dataset is still under the auto-load threshold it fetches a
// single page; past the threshold it keeps going until the catalog is
// exhausted, so the caller sees the complete set.
func (a *Aggregator) LoadMore(ctx context.Context, id string) (Page, error) {
	a.mu.Lock()
	session := a.sessions[id]
	if session == nil || !session.started {
		a.mu.Unlock()
		return a.FetchCatalogPage(ctx, id, "")
	}
	if session.exhausted {
		page := Page{Total: session.total, Monitored: session.monitored}
		a.mu.Unlock()
		return page, nil
	}
	cursor := session.cursor
	threshold := a.settings.AutoLoadThreshold
	if threshold <= 0 {
		threshold = DefaultAutoLoadThreshold
	}
	autoLoad := session.visible >= threshold
	a.mu.Unlock()

	merged, err := a.FetchCatalogPage(ctx, id, cursor)
	if err != nil {
		return Page{}, err
	}

	for autoLoad && merged.NextCursor != "" {
		next, err := a.FetchCatalogPage(ctx, id, merged.NextCursor)
		if err != nil {
			return Page{}, err
		}
		merged.Repositories = append(merged.Repositories, next.Repositories...)
		merged.NextCursor = next.NextCursor
		merged.Total = next.Total
		merged.Monitored = next.Monitored
	}
	return merged, nil
}

// Refresh discards the registry's session and starts a new aggregation
// pass from the beginning.
func (a *Aggregator) Refresh(ctx context.Context, id string) (Page, error) {
	a.Cancel(id)
	return a.FetchCatalogPage(ctx, id, "")
}

// Cancel marks the registry's current fetch generation stale. In-flight
// results carrying the old generation are discarded on arrival and never
// mutate visible state.
func (a *Aggregator) Cancel(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	session := a.sessions[id]
	if session == nil {
		return
	}
	a.sessions[id] = &fetchSession{generation: session.generation + 1, seen: make(map[string]bool)}
}

// Seen reports how many deduplicated repositories the current session for
// a registry has returned.
func (a *Aggregator) Seen(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if session := a.sessions[id]; session != nil {
		return len(session.seen)
	}
	return 0
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
