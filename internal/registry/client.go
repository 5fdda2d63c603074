// Package registry implements a read-only client for the Docker Registry
// HTTP API v2 / OCI Distribution spec: catalog and tag pagination, manifest
// retrieval with content negotiation, and challenge/response authentication.
package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cardcat/internal/catalog"
	"cardcat/internal/config"
	"cardcat/internal/recorder"
	"cardcat/pkg/manifest"
)

// maxBlobSize caps config blob reads; image configs are a few KB, anything
// bigger is a misbehaving server.
const maxBlobSize = 4 << 20

// Client speaks the Distribution API against one configured registry. All
// methods are safe for concurrent use; token refresh is single-flighted
// through the owned authSession.
type Client struct {
	registryID string
	base       *url.URL
	pageSize   int
	httpc      *http.Client
	auth       *authSession
	rec        *recorder.Log
	log        zerolog.Logger

	mu      sync.Mutex
	created map[digest.Digest]time.Time
}

// New builds a client for a remote registry descriptor. Endpoints without a
// scheme default to https.
func New(reg config.Registry, settings config.Settings, rec *recorder.Log) (*Client, error) {
	endpoint := reg.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid registry endpoint %q: %w", reg.Endpoint, err)
	}

	transport := http.DefaultTransport
	if settings.Insecure {
		// Certificate chain validation is deliberately not implemented;
		// insecure endpoints are an explicit opt-in.
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	httpc := &http.Client{
		Timeout:   settings.RequestTimeout,
		Transport: transport,
	}

	logger := log.With().Str("registry", reg.ID).Logger()
	return &Client{
		registryID: reg.ID,
		base:       base,
		pageSize:   settings.PageSize,
		httpc:      httpc,
		auth:       newAuthSession(reg, httpc, logger),
		rec:        rec,
		log:        logger,
		created:    make(map[digest.Digest]time.Time),
	}, nil
}

// Ping checks API v2 support (GET /v2/).
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, c.endpoint("/v2/"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry returned status %d for /v2/", resp.StatusCode)
	}
	return nil
}

// ListCatalog fetches one catalog page. The continuation cursor is the
// absolute URL from the response Link header, replayed verbatim; it stays
// valid across token refreshes because the client never rewrites it.
func (c *Client) ListCatalog(ctx context.Context, cursor string) (catalog.Page, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = c.endpoint("/v2/_catalog") + "?n=" + strconv.Itoa(c.pageSize)
	}

	resp, err := c.do(ctx, pageURL, nil)
	if err != nil {
		return catalog.Page{}, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "catalog"); err != nil {
		return catalog.Page{}, err
	}

	var body struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return catalog.Page{}, &catalog.ParseError{Source: pageURL, Err: err}
	}

	page := catalog.Page{NextCursor: c.nextCursor(resp)}
	for _, name := range body.Repositories {
		page.Repositories = append(page.Repositories, catalog.Repository{
			RegistryID: c.registryID,
			Name:       name,
			Status:     catalog.StatusPending,
		})
	}
	return page, nil
}

// ListTags fetches one page of tags in server order.
func (c *Client) ListTags(ctx context.Context, repo, cursor string) ([]catalog.Tag, string, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = c.endpoint("/v2/"+repo+"/tags/list") + "?n=" + strconv.Itoa(c.pageSize)
	}

	resp, err := c.do(ctx, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, repo); err != nil {
		return nil, "", err
	}

	var body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", &catalog.ParseError{Source: pageURL, Err: err}
	}

	tags := make([]catalog.Tag, 0, len(body.Tags))
	for _, name := range body.Tags {
		tags = append(tags, catalog.Tag{Name: name})
	}
	return tags, c.nextCursor(resp), nil
}

// GetManifest retrieves a manifest by tag or digest, negotiating Docker v2
// and OCI media types. Manifest lists resolve to the current platform's
// entry with one follow-up request.
func (c *Client) GetManifest(ctx context.Context, repo, reference string) (*manifest.Manifest, error) {
	data, contentType, dgst, err := c.fetchManifest(ctx, repo, reference)
	if err != nil {
		return nil, err
	}

	if manifest.IsIndex(contentType) {
		platformDigest, err := manifest.SelectPlatform(data)
		if err != nil {
			return nil, &catalog.ParseError{Source: repo + ":" + reference, Err: err}
		}
		data, contentType, dgst, err = c.fetchManifest(ctx, repo, platformDigest.String())
		if err != nil {
			return nil, err
		}
	}

	m, err := manifest.Parse(data, contentType, dgst)
	if err != nil {
		return nil, &catalog.ParseError{Source: repo + ":" + reference, Err: err}
	}
	return m, nil
}

// ResolveTagCreated resolves a tag's creation time from its manifest config
// blob, memoized per config digest for the client's lifetime.
func (c *Client) ResolveTagCreated(ctx context.Context, repo, tag string) (time.Time, error) {
	m, err := c.GetManifest(ctx, repo, tag)
	if err != nil {
		return time.Time{}, err
	}

	c.mu.Lock()
	created, hit := c.created[m.Config.Digest]
	c.mu.Unlock()
	if hit {
		return created, nil
	}

	blobURL := c.endpoint("/v2/" + repo + "/blobs/" + m.Config.Digest.String())
	resp, err := c.do(ctx, blobURL, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, repo+"@"+m.Config.Digest.String()); err != nil {
		return time.Time{}, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return time.Time{}, &catalog.NetworkError{Op: "read config blob", URL: blobURL, Err: err}
	}

	created, err = manifest.ParseImageConfig(data)
	if err != nil {
		return time.Time{}, &catalog.ParseError{Source: blobURL, Err: err}
	}

	c.mu.Lock()
	c.created[m.Config.Digest] = created
	c.mu.Unlock()
	return created, nil
}

// fetchManifest performs the raw manifest GET and returns payload, media
// type, and the server-declared content digest.
func (c *Client) fetchManifest(ctx context.Context, repo, reference string) ([]byte, string, digest.Digest, error) {
	manifestURL := c.endpoint("/v2/" + repo + "/manifests/" + reference)
	resp, err := c.do(ctx, manifestURL, manifest.AcceptHeader)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, repo+":"+reference); err != nil {
		return nil, "", "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, "", "", &catalog.NetworkError{Op: "read manifest", URL: manifestURL, Err: err}
	}

	var dgst digest.Digest
	if header := resp.Header.Get("Docker-Content-Digest"); header != "" {
		if parsed, err := digest.Parse(header); err == nil {
			dgst = parsed
		} else {
			c.log.Debug().Str("digest", header).Msg("Ignoring malformed Docker-Content-Digest header")
		}
	}
	return data, resp.Header.Get("Content-Type"), dgst, nil
}

// do executes one GET with auth, bounded backoff on transport errors, a
// single retry through re-authentication on 401, and a call record per
// attempt.
func (c *Client) do(ctx context.Context, rawURL string, accept []string) (*http.Response, error) {
	resp, err := c.attempt(ctx, rawURL, accept)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("WWW-Authenticate")
		resp.Body.Close()

		if err := c.auth.handleChallenge(ctx, challenge); err != nil {
			return nil, err
		}

		resp, err = c.attempt(ctx, rawURL, accept)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, &catalog.AuthError{Registry: c.registryID, Reason: "request rejected after re-authentication"}
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, rawURL string, accept []string) (*http.Response, error) {
	var resp *http.Response

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, mediaType := range accept {
			req.Header.Add("Accept", mediaType)
		}
		c.auth.authorize(req)

		start := time.Now()
		resp, err = c.httpc.Do(req)
		duration := time.Since(start)

		if err != nil {
			c.record(rawURL, 0, duration, err)
			return err // transient, retried with backoff
		}
		c.record(rawURL, resp.StatusCode, duration, nil)
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, &catalog.NetworkError{Op: "GET", URL: rawURL, Err: err}
	}
	return resp, nil
}

// checkStatus maps non-2xx, non-401 statuses to the error taxonomy. 401 is
// handled earlier by do.
func (c *Client) checkStatus(resp *http.Response, item string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", item, catalog.ErrNotFound)
	default:
		return fmt.Errorf("%s: registry returned status %d", item, resp.StatusCode)
	}
}

// nextCursor derives the continuation cursor from the Link header, resolved
// to an absolute URL but otherwise opaque.
func (c *Client) nextCursor(resp *http.Response) string {
	next := parseLinkNext(resp.Header.Get("Link"))
	if next == "" {
		return ""
	}
	ref, err := url.Parse(next)
	if err != nil {
		c.log.Debug().Str("link", next).Msg("Ignoring malformed Link header")
		return ""
	}
	return c.base.ResolveReference(ref).String()
}

// parseLinkNext extracts the URL of the rel="next" entry from an RFC 5988
// Link header.
func parseLinkNext(header string) string {
	for _, link := range strings.Split(header, ",") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(parts[0]), "<>")
		for _, param := range parts[1:] {
			if k, v, ok := strings.Cut(strings.TrimSpace(param), "="); ok &&
				strings.TrimSpace(k) == "rel" && strings.Trim(strings.TrimSpace(v), `"`) == "next" {
				return target
			}
		}
	}
	return ""
}

func (c *Client) record(target string, status int, duration time.Duration, err error) {
	if c.rec == nil {
		return
	}
	rec := recorder.Record{
		Method:    http.MethodGet,
		Target:    target,
		Status:    status,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	c.rec.Append(rec)
}

// endpoint joins a path onto the registry base URL. Repository names keep
// their internal slashes as path segments, per the Distribution spec.
func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.base.String(), "/") + path
}

var _ catalog.Client = (*Client)(nil)
