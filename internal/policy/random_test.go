// SPDX-License-Identifier: MIT

package policy

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/gridswarm/internal/api"
)

func TestRandomResetsWhenProtocolDemandsIt(t *testing.T) {
	p := NewRandom("ls20-locksmith", rand.NewSource(1))
	ctx := context.Background()

	for _, state := range []api.GameState{api.StateNotPlayed, api.StateWin, api.StateGameOver} {
		a, err := p.ChooseAction(ctx, nil, &api.FrameData{State: state})
		require.NoError(t, err)
		assert.Equal(t, api.ActionReset, a.ID, "state %s requires RESET", state)
	}
}

func TestRandomNeverResetsMidPlay(t *testing.T) {
	p := NewRandom("ls20-locksmith", rand.NewSource(1))
	ctx := context.Background()
	latest := &api.FrameData{State: api.StateNotFinished}

	for i := 0; i < 200; i++ {
		a, err := p.ChooseAction(ctx, nil, latest)
		require.NoError(t, err)
		require.NotEqual(t, api.ActionReset, a.ID)
		require.NoError(t, a.Validate())
		if a.ID.Complex() {
			assert.GreaterOrEqual(t, a.X, 0)
			assert.LessOrEqual(t, a.X, api.CoordMax)
			assert.GreaterOrEqual(t, a.Y, 0)
			assert.LessOrEqual(t, a.Y, api.CoordMax)
		}
		assert.NotEmpty(t, a.Reasoning, "random annotates every in-play action")
	}
}

func TestRandomIsDoneOnlyOnWin(t *testing.T) {
	p := NewRandom("ls20-locksmith", rand.NewSource(1))
	assert.True(t, p.IsDone(nil, &api.FrameData{State: api.StateWin}))
	assert.False(t, p.IsDone(nil, &api.FrameData{State: api.StateGameOver}))
	assert.False(t, p.IsDone(nil, &api.FrameData{State: api.StateNotFinished}))
	assert.False(t, p.IsDone(nil, &api.FrameData{State: api.StateNotPlayed}))
}

func TestRandomIsDeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	latest := &api.FrameData{State: api.StateNotFinished}

	p1 := NewRandom("g", rand.NewSource(42))
	p2 := NewRandom("g", rand.NewSource(42))
	for i := 0; i < 20; i++ {
		a1, err := p1.ChooseAction(ctx, nil, latest)
		require.NoError(t, err)
		a2, err := p2.ChooseAction(ctx, nil, latest)
		require.NoError(t, err)
		assert.Equal(t, a1.ID, a2.ID)
		assert.Equal(t, a1.X, a2.X)
		assert.Equal(t, a1.Y, a2.Y)
	}
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), "random")

	p, err := New("random", "ls20-locksmith")
	require.NoError(t, err)
	assert.Equal(t, "random", p.Name())

	_, err = New("does-not-exist", "g")
	assert.Error(t, err)

	_, ok := Lookup("random")
	assert.True(t, ok)
	_, ok = Lookup("does-not-exist")
	assert.False(t, ok)
}
