// SPDX-License-Identifier: MIT

package swarm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/gridswarm/internal/api"
	"github.com/ManuGH/gridswarm/internal/policy"
	"github.com/ManuGH/gridswarm/internal/record"
)

// scripted plays RESET then ACTION1 until the server ends the play.
type scripted struct {
	cleanups *atomic.Int64
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) IsDone(history []api.FrameData, latest *api.FrameData) bool {
	return latest.State.Terminal()
}

func (s *scripted) ChooseAction(ctx context.Context, history []api.FrameData, latest *api.FrameData) (api.Action, error) {
	if latest.State.NeedsReset() {
		return api.Action{ID: api.ActionReset}, nil
	}
	return api.Action{ID: api.Action1}, nil
}

func (s *scripted) Cleanup(ctx context.Context) {
	if s.cleanups != nil {
		s.cleanups.Add(1)
	}
}

func scriptedFactory(cleanups *atomic.Int64) policy.Factory {
	return func(gameID string) (policy.Policy, error) {
		return &scripted{cleanups: cleanups}, nil
	}
}

func newTestClient(m *api.MockServer) *api.Client {
	return api.New(m.URL, "test-key", api.Options{Timeout: 5 * time.Second, MaxAttempts: 2})
}

func TestRunAggregatesOutcomes(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	m.SetScript("ls20-locksmith", api.MockScript{WinAfter: 3})
	m.SetScript("ft09-flood", api.MockScript{GameOverAfter: 2})

	var cleanups atomic.Int64
	dir := t.TempDir()
	orch, err := New(newTestClient(m), Options{
		Games:       []string{"ls20-locksmith", "ft09-flood", "ls20-locksmith"},
		Factory:     scriptedFactory(&cleanups),
		PolicyName:  "scripted",
		Concurrency: 2,
		MaxActions:  50,
		RecordDir:   dir,
		Record:      true,
	})
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 3, summary.Played)
	assert.Equal(t, 2, summary.Won)
	assert.NotEmpty(t, summary.CardID)
	assert.EqualValues(t, 3, cleanups.Load(), "every policy is cleaned up exactly once")

	ls := summary.Games["ls20-locksmith"]
	require.NotNil(t, ls)
	assert.Equal(t, 2, ls.Plays)
	require.Len(t, ls.States, 2)
	assert.Equal(t, api.StateWin, ls.States[0])
	assert.Equal(t, api.StateWin, ls.States[1])
	require.Len(t, ls.Scores, 2)
	require.Len(t, ls.Actions, 2)

	fl := summary.Games["ft09-flood"]
	require.NotNil(t, fl)
	require.Len(t, fl.States, 1)
	assert.Equal(t, api.StateGameOver, fl.States[0])

	// Server-side card agrees.
	require.NotNil(t, summary.Card)
	assert.Equal(t, 3, summary.Card.Played)
	assert.Equal(t, 2, summary.Card.Won)

	// One recording per unit, closed with a scorecard snapshot.
	names, err := record.List(dir)
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestConcurrencyBoundIsNeverExceeded(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	m.SetScript("ls20-locksmith", api.MockScript{WinAfter: 2})
	m.SetDispatchDelay(15 * time.Millisecond)

	games := make([]string, 8)
	for i := range games {
		games[i] = "ls20-locksmith"
	}
	orch, err := New(newTestClient(m), Options{
		Games:       games,
		Factory:     scriptedFactory(nil),
		PolicyName:  "scripted",
		Concurrency: 2,
		MaxActions:  20,
	})
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Played)
	assert.LessOrEqual(t, m.MaxInflight(), 2,
		"no more than concurrencyLimit dispatches may ever be in flight")
}

func TestCeilingIsDistinctFromGameOver(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	// A game that never ends on its own.
	m.SetScript("ls20-locksmith", api.MockScript{})

	orch, err := New(newTestClient(m), Options{
		Games:       []string{"ls20-locksmith"},
		Factory:     scriptedFactory(nil),
		PolicyName:  "scripted",
		Concurrency: 1,
		MaxActions:  80,
	})
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Units, 1)

	unit := summary.Units[0]
	assert.Equal(t, OutcomeCeiling, unit.Outcome)
	assert.NoError(t, unit.Err)
	assert.Equal(t, 80, unit.Actions, "stops exactly after the 80th successful apply")
	assert.Equal(t, api.StateNotFinished, unit.State,
		"budget exhaustion must not masquerade as GAME_OVER")
}

// failing errors out of its first decision.
type failing struct{}

func (failing) Name() string                                          { return "failing" }
func (failing) IsDone([]api.FrameData, *api.FrameData) bool           { return false }
func (failing) ChooseAction(context.Context, []api.FrameData, *api.FrameData) (api.Action, error) {
	return api.Action{}, assert.AnError
}

func TestFailedUnitDoesNotCrashSiblings(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	m.SetScript("ls20-locksmith", api.MockScript{WinAfter: 2})

	factory := func(gameID string) (policy.Policy, error) {
		if gameID == "ft09-flood" {
			return failing{}, nil
		}
		return &scripted{}, nil
	}
	orch, err := New(newTestClient(m), Options{
		Games:       []string{"ls20-locksmith", "ft09-flood"},
		Factory:     factory,
		PolicyName:  "mixed",
		Concurrency: 2,
		MaxActions:  20,
	})
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Played, "a crashed unit still counts as played")
	assert.Equal(t, 1, summary.Won)

	fl := summary.Games["ft09-flood"]
	require.NotNil(t, fl)
	assert.Equal(t, 1, fl.Plays)
	assert.Empty(t, fl.States, "a crashed unit must not fabricate a state")
	assert.Empty(t, fl.Scores)

	var failed *UnitResult
	for i := range summary.Units {
		if summary.Units[i].GameID == "ft09-flood" {
			failed = &summary.Units[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, OutcomeError, failed.Outcome)
	assert.Error(t, failed.Err)
}

func TestAuthFailureIsBatchFatal(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	m.RequireAPIKey("secret")

	c := api.New(m.URL, "wrong", api.Options{Timeout: time.Second, MaxAttempts: 2})
	orch, err := New(c, Options{
		Games:       []string{"ls20-locksmith"},
		Factory:     scriptedFactory(nil),
		PolicyName:  "scripted",
		Concurrency: 1,
	})
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.Error(t, err, "a bad key has no meaningful batch to run")
}

func TestCancellationStillClosesScorecard(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	// Endless game, no ceiling: only cancellation stops the unit.
	m.SetScript("ls20-locksmith", api.MockScript{})
	m.SetDispatchDelay(5 * time.Millisecond)

	orch, err := New(newTestClient(m), Options{
		Games:       []string{"ls20-locksmith"},
		Factory:     scriptedFactory(nil),
		PolicyName:  "scripted",
		Concurrency: 1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	summary, err := orch.Run(ctx)
	require.NoError(t, err, "cancellation is not a batch failure")
	require.NotNil(t, summary)
	require.Len(t, summary.Units, 1)
	assert.Equal(t, OutcomeError, summary.Units[0].Outcome)

	// The card was closed on the way out: closing again must fail.
	c := newTestClient(m)
	_, err = c.CloseScorecard(context.Background(), summary.CardID)
	assert.Error(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	m := api.NewMockServer()
	defer m.Close()
	c := newTestClient(m)

	_, err := New(nil, Options{Games: []string{"g"}, Factory: scriptedFactory(nil), Concurrency: 1})
	assert.Error(t, err)
	_, err = New(c, Options{Factory: scriptedFactory(nil), Concurrency: 1})
	assert.Error(t, err)
	_, err = New(c, Options{Games: []string{"g"}, Concurrency: 1})
	assert.Error(t, err)
	_, err = New(c, Options{Games: []string{"g"}, Factory: scriptedFactory(nil)})
	assert.Error(t, err)
}
