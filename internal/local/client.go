// Package local serves catalog data from a container runtime's image store
// by shelling out to its CLI. It never performs network I/O; every failure
// stays isolated to the local source.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/distribution/reference"
	godigest "github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cardcat/internal/catalog"
	"cardcat/internal/config"
	"cardcat/internal/recorder"
	"cardcat/pkg/manifest"
)

// probeOrder lists runtime binaries tried during auto-detection.
var probeOrder = []string{"podman", "docker"}

// OrphanedRepository groups images with neither tags nor digest references.
const OrphanedRepository = "<orphaned>"

// Client lists images from a detected local container runtime through its
// CLI, shaped identically to the remote catalog model.
type Client struct {
	registryID string
	runtime    string
	run        Runner
	log        zerolog.Logger
}

// New detects the runtime for a local:// descriptor. An empty runtime name
// probes podman before docker. Returns catalog.ErrLocalUnavailable when no
// runtime binary is on PATH; callers render that as an empty source, not an
// error.
func New(reg config.Registry, rec *recorder.Log) (*Client, error) {
	runtime := reg.Runtime()
	if runtime != "" {
		if _, err := LookPath(runtime); err != nil {
			return nil, fmt.Errorf("runtime %q: %w", runtime, catalog.ErrLocalUnavailable)
		}
	} else {
		for _, candidate := range probeOrder {
			if _, err := LookPath(candidate); err == nil {
				runtime = candidate
				break
			}
		}
		if runtime == "" {
			return nil, catalog.ErrLocalUnavailable
		}
	}

	logger := log.With().Str("registry", reg.ID).Str("runtime", runtime).Logger()
	logger.Debug().Msg("Local container runtime detected")

	return &Client{
		registryID: reg.ID,
		runtime:    runtime,
		run:        recordingRunner(execRunner, rec),
		log:        logger,
	}, nil
}

// NewWithRunner builds a client over an injected command runner.
func NewWithRunner(registryID, runtime string, run Runner, rec *recorder.Log) *Client {
	return &Client{
		registryID: registryID,
		runtime:    runtime,
		run:        recordingRunner(run, rec),
		log:        log.With().Str("registry", registryID).Str("runtime", runtime).Logger(),
	}
}

// Runtime reports the detected runtime binary name.
func (c *Client) Runtime() string { return c.runtime }

// image mirrors the fields of `<runtime> images --format json` used here.
// Podman emits a JSON array; docker emits one object per line. Both decode
// into this shape.
type image struct {
	ID          string   `json:"Id"`
	RepoTags    []string `json:"RepoTags"`
	RepoDigests []string `json:"RepoDigests"`
	Names       []string `json:"Names"`
	Size        int64    `json:"Size"`
	Created     int64    `json:"Created"`
}

// taggedImage is one (repository, tag) pair extracted from an image record.
type taggedImage struct {
	repo    string
	tag     string
	digest  godigest.Digest
	size    int64
	created time.Time
	imageID string
}

// ListCatalog returns the whole image store as a single page; local stores
// are small enough that CLI output is never paginated.
func (c *Client) ListCatalog(ctx context.Context, cursor string) (catalog.Page, error) {
	if cursor != "" {
		return catalog.Page{}, nil
	}

	entries, err := c.listImages(ctx)
	if err != nil {
		return catalog.Page{}, err
	}

	grouped := make(map[string][]taggedImage)
	for _, e := range entries {
		grouped[e.repo] = append(grouped[e.repo], e)
	}

	page := catalog.Page{}
	for repo, imgs := range grouped {
		tags := make([]catalog.Tag, 0, len(imgs))
		var lastUpdated time.Time
		for _, img := range imgs {
			tags = append(tags, catalog.Tag{Name: img.tag, Digest: img.digest, Created: img.created, Size: img.size})
			if img.created.After(lastUpdated) {
				lastUpdated = img.created
			}
		}
		catalog.SortTagsByCreated(tags)

		page.Repositories = append(page.Repositories, catalog.Repository{
			RegistryID:  c.registryID,
			Name:        repo,
			TagCount:    len(tags),
			RecentTags:  catalog.RecentTags(tags, 3),
			Status:      catalog.StatusOK,
			LastUpdated: lastUpdated,
		})
	}

	sort.Slice(page.Repositories, func(i, j int) bool {
		return strings.ToLower(page.Repositories[i].Name) < strings.ToLower(page.Repositories[j].Name)
	})
	page.Total = len(page.Repositories)
	return page, nil
}

// ListTags returns the tags of one repository, newest first.
func (c *Client) ListTags(ctx context.Context, repo, cursor string) ([]catalog.Tag, string, error) {
	if cursor != "" {
		return nil, "", nil
	}

	entries, err := c.listImages(ctx)
	if err != nil {
		return nil, "", err
	}

	var tags []catalog.Tag
	for _, e := range entries {
		if e.repo != repo {
			continue
		}
		tags = append(tags, catalog.Tag{
			Name:      e.tag,
			Digest:    e.digest,
			Created:   e.created,
			Size:      e.size,
			MediaType: manifest.DockerManifestMediaType,
		})
	}
	if tags == nil {
		return nil, "", fmt.Errorf("%s: %w", repo, catalog.ErrNotFound)
	}

	catalog.SortTagsByCreated(tags)
	return tags, "", nil
}

// GetManifest synthesizes a manifest from `<runtime> image inspect`, using
// the image config digest and RootFS layer list.
func (c *Client) GetManifest(ctx context.Context, repo, ref string) (*manifest.Manifest, error) {
	entries, err := c.listImages(ctx)
	if err != nil {
		return nil, err
	}

	var target taggedImage
	for _, e := range entries {
		if e.repo == repo && (e.tag == ref || e.imageID == ref || strings.HasPrefix(e.imageID, ref)) {
			target = e
			break
		}
	}
	if target.imageID == "" {
		return nil, fmt.Errorf("%s:%s: %w", repo, ref, catalog.ErrNotFound)
	}

	out, err := c.run(ctx, c.runtime, "image", "inspect", target.imageID)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", target.imageID, err)
	}

	var inspected []struct {
		ID     string `json:"Id"`
		Size   int64  `json:"Size"`
		RootFS struct {
			Layers []string `json:"Layers"`
		} `json:"RootFS"`
		History []struct {
			Size int64 `json:"Size"`
		} `json:"History"`
	}
	if err := json.Unmarshal(out, &inspected); err != nil {
		return nil, &catalog.ParseError{Source: c.runtime + " image inspect", Err: err}
	}
	if len(inspected) == 0 {
		return nil, fmt.Errorf("%s:%s: %w", repo, ref, catalog.ErrNotFound)
	}

	info := inspected[0]
	m := &manifest.Manifest{
		Digest:    imageDigest(info.ID),
		MediaType: manifest.DockerManifestMediaType,
		Config: manifest.Layer{
			Digest:    imageDigest(info.ID),
			MediaType: manifest.DockerConfigMediaType,
		},
	}

	for i, layer := range info.RootFS.Layers {
		dgst, err := godigest.Parse(layer)
		if err != nil {
			c.log.Debug().Str("layer", layer).Msg("Skipping unparsable layer digest")
			continue
		}
		var size int64
		if i < len(info.History) {
			size = info.History[i].Size
		}
		m.Layers = append(m.Layers, manifest.Layer{
			Digest:    dgst,
			MediaType: manifest.DockerLayerMediaType,
			Size:      size,
		})
		m.TotalSize += size
	}
	if m.TotalSize == 0 {
		m.TotalSize = info.Size
	}
	return m, nil
}

// ResolveTagCreated reads the creation time straight from the image store;
// no manifest round trip is needed locally.
func (c *Client) ResolveTagCreated(ctx context.Context, repo, tag string) (time.Time, error) {
	entries, err := c.listImages(ctx)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range entries {
		if e.repo == repo && e.tag == tag {
			return e.created, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s:%s: %w", repo, tag, catalog.ErrNotFound)
}

// listImages runs the image listing command and flattens every tag and
// digest reference into (repo, tag) pairs.
func (c *Client) listImages(ctx context.Context) ([]taggedImage, error) {
	out, err := c.run(ctx, c.runtime, "images", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	images, err := decodeImages(out)
	if err != nil {
		return nil, &catalog.ParseError{Source: c.runtime + " images", Err: err}
	}

	var entries []taggedImage
	for _, img := range images {
		created := time.Unix(img.Created, 0)
		shortID := img.ID
		if len(shortID) > 12 {
			shortID = shortID[:12]
		}

		// Podman reports tag names under Names as well as RepoTags;
		// merge both, first occurrence wins.
		refs := uniqueStrings(append(append([]string{}, img.RepoTags...), img.Names...))

		tagged := false
		for _, r := range refs {
			repo, tag, ok := splitReference(r)
			if !ok {
				c.log.Debug().Str("ref", r).Msg("Skipping unparsable image reference")
				continue
			}
			tagged = true
			entries = append(entries, taggedImage{
				repo:    repo,
				tag:     tag,
				digest:  imageDigest(img.ID),
				size:    img.Size,
				created: created,
				imageID: shortID,
			})
		}

		if !tagged {
			for _, d := range img.RepoDigests {
				repo, dgst, ok := splitDigestReference(d)
				if !ok {
					continue
				}
				tagged = true
				entries = append(entries, taggedImage{
					repo:    repo,
					tag:     shortDigest(dgst),
					digest:  dgst,
					size:    img.Size,
					created: created,
					imageID: shortID,
				})
			}
		}

		if !tagged {
			// <none>:<none> images grouped under one synthetic repository.
			entries = append(entries, taggedImage{
				repo:    OrphanedRepository,
				tag:     shortID,
				digest:  imageDigest(img.ID),
				size:    img.Size,
				created: created,
				imageID: shortID,
			})
		}
	}
	return entries, nil
}

// decodeImages accepts both podman's JSON array and docker's
// one-object-per-line output.
func decodeImages(out []byte) ([]image, error) {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var images []image
		if err := json.Unmarshal([]byte(trimmed), &images); err != nil {
			return nil, err
		}
		return images, nil
	}

	var images []image
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var img image
		if err := json.Unmarshal([]byte(line), &img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// splitReference parses "repo:tag" (possibly with a registry host and port)
// into repository and tag. Digest references are rejected here.
func splitReference(s string) (repo, tag string, ok bool) {
	if strings.Contains(s, "@") || strings.HasPrefix(s, "<none>") {
		return "", "", false
	}
	ref, err := reference.Parse(s)
	if err == nil {
		if named, isNamed := ref.(reference.Named); isNamed {
			repo = named.Name()
			tag = "latest"
			if t, isTagged := ref.(reference.Tagged); isTagged {
				tag = t.Tag()
			}
			return repo, tag, true
		}
	}

	// Localhost-style names can fail strict parsing; fall back to a plain
	// split on the last colon that is not part of a port.
	if i := strings.LastIndex(s, ":"); i > 0 && !strings.Contains(s[i+1:], "/") {
		return s[:i], s[i+1:], true
	}
	if s != "" {
		return s, "latest", true
	}
	return "", "", false
}

// splitDigestReference parses "repo@sha256:..." references.
func splitDigestReference(s string) (repo string, dgst godigest.Digest, ok bool) {
	name, digestPart, found := strings.Cut(s, "@")
	if !found || name == "" {
		return "", "", false
	}
	parsed, err := godigest.Parse(digestPart)
	if err != nil {
		return "", "", false
	}
	return name, parsed, true
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func shortDigest(d godigest.Digest) string {
	encoded := d.Encoded()
	if len(encoded) > 12 {
		return encoded[:12]
	}
	return encoded
}

// imageDigest normalizes a runtime image ID into a digest. Podman and
// docker both report bare sha256 hex strings.
func imageDigest(id string) godigest.Digest {
	if id == "" {
		return ""
	}
	if !strings.Contains(id, ":") {
		id = "sha256:" + id
	}
	dgst, err := godigest.Parse(id)
	if err != nil {
		return ""
	}
	return dgst
}

var _ catalog.Client = (*Client)(nil)
