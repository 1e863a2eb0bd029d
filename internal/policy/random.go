// SPDX-License-Identifier: MIT

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/ManuGH/gridswarm/internal/api"
	xglog "github.com/ManuGH/gridswarm/internal/log"
)

func init() {
	Register("random", func(gameID string) (Policy, error) {
		return NewRandom(gameID, rand.NewSource(time.Now().UnixNano())), nil
	})
}

// Random proposes uniformly random actions. It resets whenever the
// protocol demands it and declares itself done on a WIN.
type Random struct {
	gameID string
	rng    *rand.Rand
}

// NewRandom creates a random policy with the given source, so tests can
// pin the sequence.
func NewRandom(gameID string, src rand.Source) *Random {
	return &Random{gameID: gameID, rng: rand.New(src)}
}

// Name implements Policy.
func (p *Random) Name() string { return "random" }

// IsDone implements Policy: a win ends the run, a GAME_OVER does not —
// the next ChooseAction resets and plays again.
func (p *Random) IsDone(history []api.FrameData, latest *api.FrameData) bool {
	return latest.State == api.StateWin
}

// ChooseAction implements Policy.
func (p *Random) ChooseAction(ctx context.Context, history []api.FrameData, latest *api.FrameData) (api.Action, error) {
	if latest.State.NeedsReset() {
		return api.Action{ID: api.ActionReset}, nil
	}
	id := api.ActionID(1 + p.rng.Intn(6))
	a := api.Action{ID: id}
	if id.Complex() {
		a.X = p.rng.Intn(api.CoordMax + 1)
		a.Y = p.rng.Intn(api.CoordMax + 1)
		a.Reasoning, _ = json.Marshal(map[string]string{
			"desired_action": id.Name(),
			"my_reason":      "RNG said so!",
		})
		return a, nil
	}
	a.Reasoning, _ = json.Marshal(fmt.Sprintf("RNG told me to pick %s", id.Name()))
	return a, nil
}

// Cleanup implements Cleaner.
func (p *Random) Cleanup(ctx context.Context) {
	logger := xglog.FromContext(ctx)
	logger.Debug().
		Str(xglog.FieldPolicy, p.Name()).
		Str(xglog.FieldGameID, p.gameID).
		Msg("policy cleanup")
}
