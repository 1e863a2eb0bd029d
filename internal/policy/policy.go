// SPDX-License-Identifier: MIT

// Package policy defines the decision contract a session worker drives,
// and a registry of named policy constructors.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/gridswarm/internal/api"
)

// Policy proposes actions for one session. Implementations read the
// history but never mutate session state directly.
type Policy interface {
	// Name identifies the policy in logs and recording filenames.
	Name() string
	// ChooseAction proposes the next action given the full history and
	// the latest frame.
	ChooseAction(ctx context.Context, history []api.FrameData, latest *api.FrameData) (api.Action, error)
	// IsDone reports whether the policy considers the run finished.
	IsDone(history []api.FrameData, latest *api.FrameData) bool
}

// Initializer is an optional pre-run hook, invoked before the first
// action.
type Initializer interface {
	Setup(ctx context.Context) error
}

// Cleaner is an optional hook invoked exactly once when the worker loop
// ends, on every exit path including failure.
type Cleaner interface {
	Cleanup(ctx context.Context)
}

// Factory constructs a fresh policy instance for one game. Every unit
// of swarm work gets its own instance.
type Factory func(gameID string) (Policy, error)

var (
	regMu    sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a named policy available to New. Panics on duplicates,
// matching the usual driver-registration convention.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("policy: Register called twice for %q", name))
	}
	registry[name] = f
}

// New constructs the named policy for the given game.
func New(name, gameID string) (Policy, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("policy: unknown policy %q (have %v)", name, Names())
	}
	return f(gameID)
}

// Lookup returns the factory for name, if registered.
func Lookup(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names lists the registered policy names, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
