// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionIDNames(t *testing.T) {
	cases := []struct {
		id   ActionID
		name string
	}{
		{ActionReset, "RESET"},
		{Action1, "ACTION1"},
		{Action5, "ACTION5"},
		{Action6, "ACTION6"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.name, tc.id.Name())
		parsed, err := ParseActionID(tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.id, parsed)
	}

	_, err := ParseActionID("ACTION9")
	assert.Error(t, err)
}

func TestActionValidate(t *testing.T) {
	assert.NoError(t, Action{ID: ActionReset}.Validate())
	assert.NoError(t, Action{ID: Action6, X: 0, Y: 63}.Validate())

	err := Action{ID: Action6, X: 64, Y: 0}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	err = Action{ID: Action6, X: 0, Y: -1}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	err = Action{ID: ActionID(42)}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestActionInputRoundTrip(t *testing.T) {
	reasoning := json.RawMessage(`{"desired_action":"ACTION6","my_reason":"RNG said so!"}`)
	orig := Action{ID: Action6, X: 12, Y: 34, Reasoning: reasoning}

	// Simulate the recording round-trip: struct -> JSON -> struct.
	buf, err := json.Marshal(orig.Input())
	require.NoError(t, err)
	var in ActionInput
	require.NoError(t, json.Unmarshal(buf, &in))

	back, err := in.Action()
	require.NoError(t, err)
	assert.Equal(t, orig.ID, back.ID)
	assert.Equal(t, orig.X, back.X)
	assert.Equal(t, orig.Y, back.Y)
	assert.JSONEq(t, string(reasoning), string(back.Reasoning))
}

func TestActionInputSimpleHasNoData(t *testing.T) {
	in := Action{ID: Action3}.Input()
	assert.Equal(t, Action3, in.ID)
	assert.Nil(t, in.Data)
}

func TestGameStateHelpers(t *testing.T) {
	assert.True(t, StateNotPlayed.NeedsReset())
	assert.True(t, StateWin.NeedsReset())
	assert.True(t, StateGameOver.NeedsReset())
	assert.False(t, StateNotFinished.NeedsReset())

	assert.True(t, StateWin.Terminal())
	assert.True(t, StateGameOver.Terminal())
	assert.False(t, StateNotPlayed.Terminal())

	assert.False(t, GameState("LIMBO").Known())
}

func TestFrameDataValidate(t *testing.T) {
	fd := &FrameData{State: StateNotFinished, Score: 0}
	assert.NoError(t, fd.Validate())

	fd = &FrameData{State: StateNotFinished, Score: 255}
	err := fd.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse))

	fd = &FrameData{State: GameState("HALF_WON"), Score: 1}
	err = fd.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse))
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "auth", ErrorClass(&APIError{Sentinel: ErrAuth}))
	assert.Equal(t, "capacity", ErrorClass(&APIError{Sentinel: ErrCapacity}))
	assert.Equal(t, "none", ErrorClass(nil))
	assert.Equal(t, "unknown", ErrorClass(errors.New("boom")))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(&APIError{Sentinel: ErrTimeout}))
	assert.True(t, Transient(&APIError{Sentinel: ErrUpstream}))
	assert.True(t, Transient(&APIError{Sentinel: ErrRateLimited}))
	assert.False(t, Transient(&APIError{Sentinel: ErrAuth}))
	assert.False(t, Transient(&APIError{Sentinel: ErrValidation}))
	assert.False(t, Transient(&APIError{Sentinel: ErrCapacity}))
}
