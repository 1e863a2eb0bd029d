// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/gridswarm/internal/api"
)

// fakeDispatcher scripts responses without a server.
type fakeDispatcher struct {
	calls  int
	frames int // frames per response
	state  api.GameState
	score  int
	fail   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, a api.Action, gameID, guid, cardID string) (*api.FrameData, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	n := f.frames
	if n <= 0 {
		n = 1
	}
	grids := make([]api.Grid, n)
	for i := range grids {
		grids[i] = api.Grid{{0}}
	}
	state := f.state
	if a.ID == api.ActionReset {
		state = api.StateNotFinished
	}
	return &api.FrameData{
		GameID: gameID,
		GUID:   "guid-1",
		Frame:  grids,
		State:  state,
		Score:  f.score,
	}, nil
}

type captureSink struct {
	frames []api.FrameData
}

func (c *captureSink) Record(fd *api.FrameData) error {
	c.frames = append(c.frames, *fd)
	return nil
}

func TestFirstActionMustBeReset(t *testing.T) {
	d := &fakeDispatcher{state: api.StateNotFinished}
	s := New(d, "ls20-locksmith", "", "", 0, nil)

	_, err := s.Apply(context.Background(), api.Action{ID: api.Action1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.Equal(t, 0, s.Counter(), "a rejected action must not advance the counter")
	assert.Equal(t, 0, d.calls, "a rejected action must not reach the transport")
	assert.Empty(t, s.History())
}

func TestResetStartsHistory(t *testing.T) {
	d := &fakeDispatcher{state: api.StateNotFinished}
	sink := &captureSink{}
	s := New(d, "ls20-locksmith", "", "card-1", 0, sink)

	fd, err := s.Apply(context.Background(), api.Action{ID: api.ActionReset})
	require.NoError(t, err)
	assert.Equal(t, api.StateNotFinished, fd.State)
	assert.Equal(t, 0, fd.Score)
	assert.Equal(t, "guid-1", s.GUID())
	assert.Equal(t, 1, s.Counter())

	require.Len(t, s.History(), 1)
	assert.Equal(t, api.ActionReset, s.History()[0].ActionInput.ID)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, api.ActionReset, sink.frames[0].ActionInput.ID)
}

func TestCounterIncrementsOncePerApplyRegardlessOfFrameCount(t *testing.T) {
	d := &fakeDispatcher{state: api.StateNotFinished, frames: 3}
	s := New(d, "ls20-locksmith", "", "", 0, nil)
	ctx := context.Background()

	_, err := s.Apply(ctx, api.Action{ID: api.ActionReset})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := s.Apply(ctx, api.Action{ID: api.Action2})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, s.Counter())
	assert.Len(t, s.History(), 5)
}

func TestNoActionAfterTerminalState(t *testing.T) {
	for _, terminal := range []api.GameState{api.StateWin, api.StateGameOver} {
		d := &fakeDispatcher{state: terminal}
		s := New(d, "ls20-locksmith", "", "", 0, nil)
		ctx := context.Background()

		_, err := s.Apply(ctx, api.Action{ID: api.ActionReset})
		require.NoError(t, err)
		_, err = s.Apply(ctx, api.Action{ID: api.Action1})
		require.NoError(t, err)
		require.Equal(t, terminal, s.State())

		calls := d.calls
		_, err = s.Apply(ctx, api.Action{ID: api.Action1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrProtocolViolation))
		assert.Equal(t, calls, d.calls)

		// A fresh RESET is the only legal continuation.
		_, err = s.Apply(ctx, api.Action{ID: api.ActionReset})
		require.NoError(t, err)
		assert.Equal(t, api.StateNotFinished, s.State())
	}
}

func TestCeilingStopsWithoutDispatch(t *testing.T) {
	d := &fakeDispatcher{state: api.StateNotFinished}
	s := New(d, "ls20-locksmith", "", "", 3, nil)
	ctx := context.Background()

	_, err := s.Apply(ctx, api.Action{ID: api.ActionReset})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Apply(ctx, api.Action{ID: api.Action1})
		require.NoError(t, err)
	}
	require.True(t, s.CeilingReached())

	calls := d.calls
	_, err = s.Apply(ctx, api.Action{ID: api.Action1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCeilingReached))
	assert.Equal(t, calls, d.calls, "ceiling termination must not send a request")
	assert.Equal(t, 3, s.Counter())
}

func TestDispatchErrorDoesNotMutate(t *testing.T) {
	boom := errors.New("boom")
	d := &fakeDispatcher{fail: boom}
	s := New(d, "ls20-locksmith", "", "", 0, nil)

	_, err := s.Apply(context.Background(), api.Action{ID: api.ActionReset})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, s.Counter())
	assert.Empty(t, s.History())
	assert.Equal(t, api.StateNotPlayed, s.State())
}

func TestPlayActionsResetOnReset(t *testing.T) {
	d := &fakeDispatcher{state: api.StateNotFinished}
	s := New(d, "ls20-locksmith", "", "", 0, nil)
	ctx := context.Background()

	_, err := s.Apply(ctx, api.Action{ID: api.ActionReset})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Apply(ctx, api.Action{ID: api.Action4})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.PlayActions())

	_, err = s.Apply(ctx, api.Action{ID: api.ActionReset})
	require.NoError(t, err)
	assert.Equal(t, 0, s.PlayActions())
	assert.Equal(t, 5, s.Counter(), "the overall counter keeps running across plays")
}

func TestLatestBeforeFirstApply(t *testing.T) {
	s := New(&fakeDispatcher{}, "ls20-locksmith", "", "", 0, nil)
	latest := s.Latest()
	assert.Equal(t, api.StateNotPlayed, latest.State)
	assert.Equal(t, 0, latest.Score)
	assert.Equal(t, api.StateNotPlayed, s.State())
}
