/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// Package auth manages the bearer token required by the telephony control
// plane: acquisition, durable caching, and explicit invalidation. The
// acquisition endpoint belongs to a third-party provider whose response
// contract is loosely specified, so the token is extracted defensively by
// probing an ordered list of plausible response shapes.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/connectcrm/agentdesk/consolesdk"
)

// ErrAuthenticationFailed is returned when the acquisition endpoint rejects
// the credentials or responds in a shape no extractor recognizes.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// Config holds the configuration for the token manager.
type Config struct {
	// AcquireURL is the full URL of the token acquisition endpoint.
	AcquireURL string

	// AgentID and Secret are the credentials posted to the endpoint.
	AgentID string
	Secret  string

	// StorePath is the path of the durable token store. Empty disables
	// persistence (memory-only caching).
	StorePath string

	// Timeout for acquisition requests. Default: 15s.
	Timeout time.Duration

	// HttpClient overrides the default HTTP client.
	HttpClient *http.Client

	// Logger for token manager operations. Defaults to log.Default().
	Logger consolesdk.Logger
}

// Manager acquires, caches, and invalidates the control-plane bearer token.
// It implements consolesdk.TokenSource. Concurrent callers during an
// acquisition share a single in-flight request.
type Manager struct {
	mu         sync.Mutex
	token      string
	cfg        *Config
	store      *fileStore
	httpClient *http.Client
	logger     consolesdk.Logger
	group      singleflight.Group
}

// New creates a token manager. If a durable store path is configured and a
// token was persisted by a previous process, it is loaded into the cache.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.AcquireURL == "" {
		return nil, fmt.Errorf("auth: acquire URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	httpClient := cfg.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := &Manager{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}

	if cfg.StorePath != "" {
		m.store = newFileStore(cfg.StorePath)
		if tok, err := m.store.Load(); err == nil && tok != "" {
			m.token = tok
		}
	}

	return m, nil
}

// Token returns the cached token if one is present and still plausibly valid,
// acquiring a fresh one otherwise. Implements consolesdk.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	cached := m.token
	m.mu.Unlock()

	if cached != "" && tokenUsable(cached) {
		return cached, nil
	}

	// Near-simultaneous callers share one acquisition request so a slow
	// response cannot be overwritten by a stale concurrent one.
	v, err, _ := m.group.Do("acquire", func() (interface{}, error) {
		return m.acquire(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate clears the cached token from memory and durable storage without
// making any network calls. The next Token call acquires a fresh one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	store := m.store
	m.mu.Unlock()

	if store != nil {
		if err := store.Clear(); err != nil {
			m.logger.Printf("auth: clearing token store: %v", err)
		}
	}
}

// acquire performs one acquisition request and persists the result.
func (m *Manager) acquire(ctx context.Context) (string, error) {
	payload := map[string]string{
		"agentId": m.cfg.AgentID,
		"secret":  m.cfg.Secret,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AcquireURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrAuthenticationFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: endpoint returned %s", ErrAuthenticationFailed, resp.Status)
	}

	token, err := extractToken(respBody)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.token = token
	store := m.store
	m.mu.Unlock()

	if store != nil {
		if err := store.Save(token); err != nil {
			m.logger.Printf("auth: persisting token: %v", err)
		}
	}

	return token, nil
}

// --- Response shape probing ---

// extractor probes one plausible response shape and returns the token string
// it found, or "" if the shape does not match.
type extractor func(body []byte) string

// tokenExtractors is the ordered list of extraction strategies. The first
// non-empty result wins. The provider has shipped at least three of these
// shapes in production; the rest are defensive.
var tokenExtractors = []extractor{
	// Bare JSON string: "abc123"
	func(body []byte) string {
		var s string
		if err := json.Unmarshal(body, &s); err == nil {
			return s
		}
		return ""
	},
	// {"token": "..."}
	fieldExtractor("token"),
	// {"access_token": "..."}
	fieldExtractor("access_token"),
	// {"authToken": "..."}
	fieldExtractor("authToken"),
	// {"data": {"token": "..."}}
	nestedExtractor("data", "token"),
	// {"data": {"access_token": "..."}}
	nestedExtractor("data", "access_token"),
}

func fieldExtractor(key string) extractor {
	return func(body []byte) string {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return ""
		}
		var s string
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
		}
		return ""
	}
}

func nestedExtractor(outer, inner string) extractor {
	return func(body []byte) string {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return ""
		}
		raw, ok := obj[outer]
		if !ok {
			return ""
		}
		return fieldExtractor(inner)(raw)
	}
}

// extractToken tries each extraction strategy in order and returns the first
// non-empty token. A response no strategy matches is an authentication
// failure, never an empty-token success.
func extractToken(body []byte) (string, error) {
	for _, extract := range tokenExtractors {
		if tok := extract(body); tok != "" {
			return tok, nil
		}
	}
	return "", fmt.Errorf("%w: no token found in acquisition response", ErrAuthenticationFailed)
}

// --- Validity probing ---

// jwtSignatureAlgorithms lists the algorithms accepted when probing a token
// that happens to be a JWT. The signature is never verified here; the list
// only gates parsing.
var jwtSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// tokenUsable reports whether a cached token is still plausibly valid.
// Opaque tokens are assumed valid until the control plane rejects them
// (401/403 → Invalidate). Tokens that parse as a JWT with an exp claim in
// the past are treated as absent so a doomed request is skipped.
func tokenUsable(token string) bool {
	parsed, err := jwt.ParseSigned(token, jwtSignatureAlgorithms)
	if err != nil {
		return true // opaque token
	}

	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return true
	}
	if claims.Expiry == nil {
		return true
	}
	return claims.Expiry.Time().After(time.Now().Add(10 * time.Second))
}
