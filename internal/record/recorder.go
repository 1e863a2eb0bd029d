// SPDX-License-Identifier: MIT

// Package record persists session runs as append-only JSONL logs and
// replays them through the decision-policy contract.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/gridswarm/internal/api"
	"github.com/ManuGH/gridswarm/internal/metrics"
)

// Suffix terminates every recording filename.
const Suffix = ".recording.jsonl"

// Entry is one recording line: a timestamped frame.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Data      *api.FrameData `json:"data,omitempty"`
	Meta      any            `json:"meta,omitempty"`
}

// Meta identifies a recording by the tuple encoded in its filename.
type Meta struct {
	GameID  string
	Policy  string
	Ceiling int
	// Instance is the caller-side run token. The server may assign its
	// own guid on RESET; the filename token stays stable for the run.
	Instance string
}

// Filename renders the canonical recording filename for a run.
func Filename(gameID, policyName string, ceiling int, instance string) string {
	return fmt.Sprintf("%s.%s.%d.%s%s", gameID, policyName, ceiling, instance, Suffix)
}

// ParseName decodes a recording filename back into its run tuple.
func ParseName(name string) (Meta, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Suffix) {
		return Meta{}, fmt.Errorf("record: %q is not a recording filename", name)
	}
	parts := strings.Split(strings.TrimSuffix(base, Suffix), ".")
	if len(parts) < 4 {
		return Meta{}, fmt.Errorf("record: %q does not encode game.policy.ceiling.instance", name)
	}
	ceiling, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return Meta{}, fmt.Errorf("record: %q has a non-numeric action ceiling: %w", name, err)
	}
	return Meta{
		GameID:   parts[0],
		Policy:   strings.Join(parts[1:len(parts)-2], "."),
		Ceiling:  ceiling,
		Instance: parts[len(parts)-1],
	}, nil
}

// GamePrefix extracts the game id from a recording filename, used to
// derive the game when playback runs without a games listing.
func GamePrefix(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

// Recorder appends frames to one write-once log. Lines are never
// rewritten or reordered, so a partially completed run still yields a
// valid, truncated-but-consistent recording.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	path   string
	closed bool
}

// New creates the recording file for a run. The file must not already
// exist; recordings are write-once.
func New(dir, gameID, policyName string, ceiling int, instance string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("record: create directory: %w", err)
	}
	path := filepath.Join(dir, Filename(gameID, policyName, ceiling, instance))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	return &Recorder{f: f, enc: json.NewEncoder(f), path: path}, nil
}

// Path returns the recording's location on disk.
func (r *Recorder) Path() string { return r.path }

// Record appends one frame. Implements the session sink contract.
func (r *Recorder) Record(fd *api.FrameData) error {
	return r.append(Entry{Timestamp: time.Now(), Data: fd})
}

// RecordMeta appends a non-frame line, such as the closing scorecard
// snapshot. Playback skips these.
func (r *Recorder) RecordMeta(v any) error {
	return r.append(Entry{Timestamp: time.Now(), Meta: v})
}

func (r *Recorder) append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("record: %s already closed", r.path)
	}
	if err := r.enc.Encode(e); err != nil {
		return fmt.Errorf("record: append to %s: %w", r.path, err)
	}
	metrics.RecordRecordingLine()
	return nil
}

// Close flushes and closes the log. Further appends fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

// List returns the recording filenames found in dir, sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Suffix) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
