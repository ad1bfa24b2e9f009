/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

package consolesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		tokens      TokenSource
		config      *Config
		expectError bool
	}{
		{
			name:        "valid with config",
			tokens:      StaticToken("valid-token"),
			config:      &Config{BaseURL: "https://api.example.com"},
			expectError: false,
		},
		{
			name:        "nil token source",
			tokens:      nil,
			config:      &Config{BaseURL: "https://api.example.com"},
			expectError: true,
		},
		{
			name:        "missing base URL",
			tokens:      StaticToken("valid-token"),
			config:      &Config{},
			expectError: true,
		},
		{
			name:        "invalid base URL",
			tokens:      StaticToken("valid-token"),
			config:      &Config{BaseURL: ":"},
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(tc.tokens, tc.config)
			if tc.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected non-nil client")
			}
		})
	}
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tok != "abc" {
		t.Errorf("Expected token 'abc', got %q", tok)
	}

	if _, err := StaticToken("").Token(context.Background()); err == nil {
		t.Error("Expected error for empty static token")
	}
}

func TestRequestSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := NewClient(StaticToken("my-token"), &Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Request(http.MethodGet, "ping", nil, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer my-token" {
		t.Errorf("Expected Authorization 'Bearer my-token', got %q", gotAuth)
	}
}

func TestRequestWithRetryTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, err := NewClient(StaticToken("tok"), &Config{
		BaseURL:        srv.URL,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.RequestWithRetry(context.Background(), http.MethodPost, "cmd", nil, nil)
	if err != nil {
		t.Fatalf("RequestWithRetry: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after retries, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestRequestWithRetryDoesNotRetryAuthFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"expired token"}`))
	}))
	defer srv.Close()

	client, err := NewClient(StaticToken("tok"), &Config{
		BaseURL:        srv.URL,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.RequestWithRetry(context.Background(), http.MethodPost, "cmd", nil, nil)
	if err != nil {
		t.Fatalf("RequestWithRetry: %v", err)
	}

	var out struct{}
	err = ParseResponse(resp, &out)
	if !IsAuthError(err) {
		t.Errorf("Expected AuthError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 attempt for 401, got %d", got)
	}
}

func TestParseResponseErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"not allowed"}`))
	}))
	defer srv.Close()

	client, err := NewClient(StaticToken("tok"), &Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Request(http.MethodGet, "thing", nil, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	parseErr := ParseResponse(resp, nil)
	if !IsForbidden(parseErr) {
		t.Fatalf("Expected ForbiddenError, got %v", parseErr)
	}

	var apiErr *APIError
	if !errors.As(parseErr, &apiErr) {
		t.Fatal("Expected APIError in chain")
	}
	if apiErr.Message != "not allowed" {
		t.Errorf("Expected message 'not allowed', got %q", apiErr.Message)
	}
}
