// SPDX-License-Identifier: MIT

// Package config loads harness configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds every knob of the swarm harness.
type Config struct {
	// BaseURL is the root of the game API, e.g. "https://three.arcprize.org".
	BaseURL string
	// APIKey authenticates every request via the X-API-Key header.
	APIKey string

	// RecordDir is where session recordings are written.
	RecordDir string
	// Record toggles recording of live sessions.
	Record bool

	// MaxActions is the local action ceiling per session.
	MaxActions int
	// Concurrency bounds simultaneously active sessions. The server caps
	// concurrent instances per key, so this must never exceed that cap.
	Concurrency int

	// RequestTimeout bounds each transport round-trip.
	RequestTimeout time.Duration
	// MaxAttempts caps retries of transient transport failures.
	MaxAttempts int
	// RequestRate paces outgoing requests (requests per second, 0 = unpaced).
	RequestRate float64

	// MetricsAddr serves /metrics and /healthz while a batch runs ("" = off).
	MetricsAddr string

	// ScorecardSourceURL and ScorecardTags are attached when opening a card.
	ScorecardSourceURL string
	ScorecardTags      []string
}

// FromEnv assembles a Config from environment variables. When no
// explicit base URL is set it is composed from SCHEME/HOST/PORT.
func FromEnv() Config {
	base := ParseString("GRIDSWARM_BASE_URL", "")
	if base == "" {
		scheme := ParseString("SCHEME", "http")
		host := ParseString("HOST", "localhost")
		port := ParseString("PORT", "8001")
		base = fmt.Sprintf("%s://%s:%s", scheme, host, port)
	}
	return Config{
		BaseURL:        base,
		APIKey:         ParseString("ARC_API_KEY", ""),
		RecordDir:      ParseString("GRIDSWARM_RECORD_DIR", "recordings"),
		Record:         ParseBool("GRIDSWARM_RECORD", true),
		MaxActions:     ParseInt("GRIDSWARM_MAX_ACTIONS", 100),
		Concurrency:    ParseInt("GRIDSWARM_CONCURRENCY", 4),
		RequestTimeout: ParseDuration("GRIDSWARM_REQUEST_TIMEOUT", 30*time.Second),
		MaxAttempts:    ParseInt("GRIDSWARM_MAX_ATTEMPTS", 4),
		RequestRate:    ParseFloat("GRIDSWARM_REQUEST_RATE", 0),
		MetricsAddr:    ParseString("GRIDSWARM_METRICS_ADDR", ""),
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base URL must not be empty")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("config: invalid base URL %q: %w", c.BaseURL, err)
	}
	if c.MaxActions <= 0 {
		return fmt.Errorf("config: max actions must be positive, got %d", c.MaxActions)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("config: request rate must not be negative, got %f", c.RequestRate)
	}
	return nil
}
