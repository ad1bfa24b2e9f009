/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
agent:
  id: agent-7
  number: "1007"
control_plane:
  base_url: https://telephony.example.com/api
signaling:
  url: wss://signaling.example.com/ws
auth:
  acquire_url: https://auth.example.com/token
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.ControlTimeout() != 30*time.Second {
		t.Errorf("Expected default control timeout 30s, got %v", cfg.ControlTimeout())
	}
	if cfg.ReconnectDelay() != 2*time.Second {
		t.Errorf("Expected default reconnect delay 2s, got %v", cfg.ReconnectDelay())
	}
	if cfg.Signaling.MaxReconnectAttempts != 5 {
		t.Errorf("Expected default max reconnect attempts 5, got %d", cfg.Signaling.MaxReconnectAttempts)
	}
	if cfg.HandshakeTimeout() != 10*time.Second {
		t.Errorf("Expected default handshake timeout 10s, got %v", cfg.HandshakeTimeout())
	}
	if cfg.GraceDelay() != 3*time.Second {
		t.Errorf("Expected default grace delay 3s, got %v", cfg.GraceDelay())
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  id: agent-7
  number: "1007"
control_plane:
  base_url: https://telephony.example.com/api
  timeout_seconds: 5
signaling:
  url: wss://signaling.example.com/ws
auth:
  acquire_url: https://auth.example.com/token
grace_delay_seconds: 7
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.GraceDelay() != 7*time.Second {
		t.Errorf("Expected grace delay 7s, got %v", cfg.GraceDelay())
	}
	if cfg.ControlTimeout() != 5*time.Second {
		t.Errorf("Expected control timeout 5s, got %v", cfg.ControlTimeout())
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		wantErr string
	}{
		{"missing agent id", "  id: agent-7\n", "agent.id"},
		{"missing agent number", "  number: \"1007\"\n", "agent.number"},
		{"missing base url", "  base_url: https://telephony.example.com/api\n", "control_plane.base_url"},
		{"missing signaling url", "  url: wss://signaling.example.com/ws\n", "signaling.url"},
		{"missing acquire url", "  acquire_url: https://auth.example.com/token\n", "auth.acquire_url"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			yml := strings.Replace(minimalYAML, tc.drop, "", 1)
			_, err := Parse([]byte(yml))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error naming %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("agent: [not a mapping")); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentdesk.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("Writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.ID != "agent-7" || cfg.Agent.Number != "1007" {
		t.Errorf("Unexpected agent config %+v", cfg.Agent)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
