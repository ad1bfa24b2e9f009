/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// Package config provides YAML-based configuration loading for the agent
// console binary. The loaded Config is the explicitly constructed context
// object injected into the token manager, transport, and session controller
// at process start; nothing reads configuration ambiently.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level console configuration, loaded from a YAML file.
type Config struct {
	Agent        AgentConfig     `yaml:"agent"`
	ControlPlane ControlConfig   `yaml:"control_plane"`
	Signaling    SignalingConfig `yaml:"signaling"`
	Auth         AuthConfig      `yaml:"auth"`

	// GraceDelaySeconds is how long a finished call stays visible before the
	// console returns to idle.
	GraceDelaySeconds int `yaml:"grace_delay_seconds"`
}

// AgentConfig identifies the local agent.
type AgentConfig struct {
	ID       string `yaml:"id"`
	Number   string `yaml:"number"`
	CallerID string `yaml:"caller_id"`
}

// ControlConfig holds the telephony control-plane endpoint settings.
type ControlConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SignalingConfig holds the event-channel settings.
type SignalingConfig struct {
	URL                     string `yaml:"url"`
	ReconnectDelaySeconds   int    `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts    int    `yaml:"max_reconnect_attempts"`
	HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds"`
}

// AuthConfig holds the token acquisition settings.
type AuthConfig struct {
	AcquireURL string `yaml:"acquire_url"`
	Secret     string `yaml:"secret"`
	StorePath  string `yaml:"store_path"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.ControlPlane.TimeoutSeconds == 0 {
		c.ControlPlane.TimeoutSeconds = 30
	}
	if c.Signaling.ReconnectDelaySeconds == 0 {
		c.Signaling.ReconnectDelaySeconds = 2
	}
	if c.Signaling.MaxReconnectAttempts == 0 {
		c.Signaling.MaxReconnectAttempts = 5
	}
	if c.Signaling.HandshakeTimeoutSeconds == 0 {
		c.Signaling.HandshakeTimeoutSeconds = 10
	}
	if c.GraceDelaySeconds == 0 {
		c.GraceDelaySeconds = 3
	}
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	if c.Agent.ID == "" {
		return fmt.Errorf("config: agent.id is required")
	}
	if c.Agent.Number == "" {
		return fmt.Errorf("config: agent.number is required")
	}
	if c.ControlPlane.BaseURL == "" {
		return fmt.Errorf("config: control_plane.base_url is required")
	}
	if c.Signaling.URL == "" {
		return fmt.Errorf("config: signaling.url is required")
	}
	if c.Auth.AcquireURL == "" {
		return fmt.Errorf("config: auth.acquire_url is required")
	}
	return nil
}

// ControlTimeout returns the control-plane request timeout as a duration.
func (c *Config) ControlTimeout() time.Duration {
	return time.Duration(c.ControlPlane.TimeoutSeconds) * time.Second
}

// ReconnectDelay returns the signaling reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Signaling.ReconnectDelaySeconds) * time.Second
}

// HandshakeTimeout returns the signaling dial timeout as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Signaling.HandshakeTimeoutSeconds) * time.Second
}

// GraceDelay returns the terminal-state grace delay as a duration.
func (c *Config) GraceDelay() time.Duration {
	return time.Duration(c.GraceDelaySeconds) * time.Second
}
