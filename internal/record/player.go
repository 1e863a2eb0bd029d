// SPDX-License-Identifier: MIT

package record

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"github.com/ManuGH/gridswarm/internal/api"
	xglog "github.com/ManuGH/gridswarm/internal/log"
	"github.com/ManuGH/gridswarm/internal/policy"
)

// PlaybackRate is the default actions-per-second pacing of a replay, so
// a replayed run stays watchable against a live server.
const PlaybackRate = 5

// Player replays a recording through the decision-policy contract: the
// worker loop cannot tell it apart from a live policy. The replayed
// action sequence is byte-identical to the original run, annotations
// included.
type Player struct {
	name    string
	meta    Meta
	actions []api.Action
	idx     int
	pace    *rate.Limiter
}

var _ policy.Policy = (*Player)(nil)

// NewPlayer loads the recording at path. Non-frame lines (metadata,
// scorecard snapshots) are skipped.
func NewPlayer(path string) (*Player, error) {
	meta, err := ParseName(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record: open recording: %w", err)
	}
	defer func() { _ = f.Close() }()

	var actions []api.Action
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	line := 0
	for scanner.Scan() {
		line++
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("record: line %d is not a valid entry: %w", line, err)
		}
		if e.Data == nil || e.Data.GameID == "" {
			continue
		}
		a, err := e.Data.ActionInput.Action()
		if err != nil {
			return nil, fmt.Errorf("record: line %d: %w", line, err)
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("record: read recording: %w", err)
	}

	return &Player{
		name:    Filename(meta.GameID, meta.Policy, meta.Ceiling, meta.Instance),
		meta:    meta,
		actions: actions,
		pace:    rate.NewLimiter(rate.Limit(PlaybackRate), 1),
	}, nil
}

// Meta returns the run tuple decoded from the recording filename.
func (p *Player) Meta() Meta { return p.meta }

// Len returns the number of replayable actions.
func (p *Player) Len() int { return len(p.actions) }

// Name implements Policy; the recording filename is the policy name.
func (p *Player) Name() string { return p.name }

// IsDone implements Policy: true once the log is exhausted.
func (p *Player) IsDone(history []api.FrameData, latest *api.FrameData) bool {
	return p.idx >= len(p.actions)
}

// ChooseAction implements Policy: the next logged action, in order.
func (p *Player) ChooseAction(ctx context.Context, history []api.FrameData, latest *api.FrameData) (api.Action, error) {
	if p.idx >= len(p.actions) {
		return api.Action{}, fmt.Errorf("record: recording exhausted after %d actions", len(p.actions))
	}
	if err := p.pace.Wait(ctx); err != nil {
		return api.Action{}, err
	}
	a := p.actions[p.idx]
	p.idx++
	return a, nil
}

// Rewind restarts the replay from the first action.
func (p *Player) Rewind() { p.idx = 0 }

// SetRate overrides playback pacing; perSecond <= 0 disables pacing.
func (p *Player) SetRate(perSecond float64) {
	if perSecond <= 0 {
		p.pace.SetLimit(rate.Inf)
		return
	}
	p.pace.SetLimit(rate.Limit(perSecond))
}

// Cleanup implements Cleaner.
func (p *Player) Cleanup(ctx context.Context) {
	logger := xglog.FromContext(ctx)
	logger.Debug().
		Str(xglog.FieldPolicy, p.name).
		Int(xglog.FieldCounter, p.idx).
		Msg("playback finished")
}

// PlayerFactory adapts a recording path into a policy factory so the
// orchestrator can treat playback like any other policy.
func PlayerFactory(path string) policy.Factory {
	return func(gameID string) (policy.Policy, error) {
		return NewPlayer(path)
	}
}
