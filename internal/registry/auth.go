package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"cardcat/internal/catalog"
	"cardcat/internal/config"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticating
	stateAuthenticated
	stateFailed
)

// defaultTokenTTL applies when the token endpoint omits expires_in. The
// Distribution spec documents 60s as the minimum; 300s matches what the
// common token servers actually issue.
const defaultTokenTTL = 300 * time.Second

// authSession holds per-registry credential and token state. It is owned by
// exactly one Client; concurrent requests share it only through the
// single-flight refresh guard.
type authSession struct {
	registry string
	method   config.AuthMethod
	username string
	password string
	static   string

	httpc *http.Client
	log   zerolog.Logger

	mu      sync.Mutex
	state   sessionState
	token   string
	expiry  time.Time
	authErr *catalog.AuthError

	group singleflight.Group
}

func newAuthSession(reg config.Registry, httpc *http.Client, log zerolog.Logger) *authSession {
	return &authSession{
		registry: reg.ID,
		method:   reg.Auth,
		username: reg.Username,
		password: reg.Password,
		static:   reg.Token,
		httpc:    httpc,
		log:      log,
	}
}

// authorize attaches credentials to an outgoing request from current state.
func (s *authSession) authorize(req *http.Request) {
	switch s.method {
	case config.AuthBasic:
		req.SetBasicAuth(s.username, s.password)
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+s.static)
	case config.AuthToken:
		s.mu.Lock()
		if s.state == stateAuthenticated && time.Now().Before(s.expiry) {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		s.mu.Unlock()
	}
}

// handleChallenge reacts to a 401. For token exchange, all concurrent
// callers collapse into a single refresh and share its outcome. A nil return
// means the request should be retried once with fresh credentials.
func (s *authSession) handleChallenge(ctx context.Context, wwwAuthenticate string) error {
	switch s.method {
	case config.AuthNone, config.AuthBasic:
		// Credentials were already on the request; the server rejected them.
		return s.fail("credentials rejected")
	case config.AuthBearer:
		// Static tokens are configured, not negotiated. Terminal.
		return s.fail("static bearer token rejected")
	}

	s.mu.Lock()
	if s.state == stateFailed {
		err := s.authErr
		s.mu.Unlock()
		return err
	}
	rejected := s.token
	s.mu.Unlock()

	// The key folds in the rejected token so a caller that raced a completed
	// refresh joins the next one instead of reusing a stale result.
	_, err, _ := s.group.Do("refresh:"+rejected, func() (interface{}, error) {
		s.mu.Lock()
		refreshed := s.state == stateAuthenticated && s.token != rejected && time.Now().Before(s.expiry)
		s.mu.Unlock()
		if refreshed {
			// Another caller already completed the refresh.
			return nil, nil
		}
		return nil, s.exchange(ctx, wwwAuthenticate)
	})
	return err
}

// exchange trades the stored credentials for a scoped token at the realm
// named in the challenge. Network errors are retried with bounded backoff;
// a rejection from the token endpoint is terminal.
func (s *authSession) exchange(ctx context.Context, wwwAuthenticate string) error {
	s.mu.Lock()
	s.state = stateAuthenticating
	s.mu.Unlock()

	challenge, err := parseBearerChallenge(wwwAuthenticate)
	if err != nil {
		return s.fail(err.Error())
	}

	tokenURL, err := url.Parse(challenge.realm)
	if err != nil {
		return s.fail(fmt.Sprintf("invalid realm %q", challenge.realm))
	}
	q := tokenURL.Query()
	if challenge.service != "" {
		q.Set("service", challenge.service)
	}
	if challenge.scope != "" {
		q.Set("scope", challenge.scope)
	}
	tokenURL.RawQuery = q.Encode()

	var tok tokenResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if s.username != "" {
			req.SetBasicAuth(s.username, s.password)
		}

		resp, err := s.httpc.Do(req)
		if err != nil {
			return err // transient, retried
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(s.fail(fmt.Sprintf("token endpoint rejected credentials (status %d)", resp.StatusCode)))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return backoff.Permanent(s.fail(fmt.Sprintf("malformed token response: %v", err)))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var authErr *catalog.AuthError
		if errors.As(err, &authErr) {
			return authErr
		}
		// Exhausted retries on a transient failure; the session stays
		// recoverable for the next request.
		s.mu.Lock()
		s.state = stateUnauthenticated
		s.mu.Unlock()
		return &catalog.NetworkError{Op: "token exchange", URL: tokenURL.String(), Err: err}
	}

	token := tok.Token
	if token == "" {
		token = tok.AccessToken
	}
	if token == "" {
		return s.fail("token endpoint returned an empty token")
	}

	ttl := defaultTokenTTL
	if tok.ExpiresIn > 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}

	s.mu.Lock()
	s.state = stateAuthenticated
	s.token = token
	s.expiry = time.Now().Add(ttl)
	s.mu.Unlock()

	s.log.Debug().Str("registry", s.registry).Dur("ttl", ttl).Msg("Token exchange succeeded")
	return nil
}

// fail transitions to the terminal Failed state and records the error every
// subsequent call will surface until reconfiguration.
func (s *authSession) fail(reason string) *catalog.AuthError {
	authErr := &catalog.AuthError{Registry: s.registry, Reason: reason}
	s.mu.Lock()
	s.state = stateFailed
	s.authErr = authErr
	s.mu.Unlock()
	s.log.Warn().Str("registry", s.registry).Str("reason", reason).Msg("Authentication failed")
	return authErr
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

type bearerChallenge struct {
	realm   string
	service string
	scope   string
}

// parseBearerChallenge extracts realm, service and scope from a
// WWW-Authenticate header like:
//
//	Bearer realm="https://auth.example.com/token",service="registry",scope="repository:foo:pull"
func parseBearerChallenge(header string) (bearerChallenge, error) {
	var c bearerChallenge

	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return c, fmt.Errorf("unsupported auth challenge %q", header)
	}

	for _, part := range splitChallengeParams(rest) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "realm":
			c.realm = value
		case "service":
			c.service = value
		case "scope":
			c.scope = value
		}
	}

	if c.realm == "" {
		return c, fmt.Errorf("auth challenge missing realm")
	}
	return c, nil
}

// splitChallengeParams splits on commas outside quoted strings; scope values
// may contain commas.
func splitChallengeParams(s string) []string {
	var parts []string
	var start int
	inQuotes := false
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
