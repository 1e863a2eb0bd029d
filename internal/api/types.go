// SPDX-License-Identifier: MIT

// Package api speaks the remote game service's REST surface: games
// listing, scorecard lifecycle and command dispatch.
package api

import (
	"encoding/json"
	"fmt"
)

// GameState is the server-declared lifecycle state of one game instance.
type GameState string

const (
	StateNotPlayed   GameState = "NOT_PLAYED"
	StateNotFinished GameState = "NOT_FINISHED"
	StateWin         GameState = "WIN"
	StateGameOver    GameState = "GAME_OVER"
)

// Known reports whether s is one of the defined lifecycle states.
func (s GameState) Known() bool {
	switch s {
	case StateNotPlayed, StateNotFinished, StateWin, StateGameOver:
		return true
	}
	return false
}

// Terminal reports whether the server has ended the current play.
func (s GameState) Terminal() bool {
	return s == StateWin || s == StateGameOver
}

// NeedsReset reports whether only RESET is legal from this state.
func (s GameState) NeedsReset() bool {
	return s == StateNotPlayed || s.Terminal()
}

// ActionID identifies one of the seven game commands.
type ActionID int

const (
	ActionReset ActionID = iota
	Action1
	Action2
	Action3
	Action4
	Action5
	Action6
)

// CoordMax is the inclusive upper bound for ACTION6 coordinates.
const CoordMax = 63

// MaxScore is the inclusive upper bound of a play's score.
const MaxScore = 254

var actionNames = [...]string{"RESET", "ACTION1", "ACTION2", "ACTION3", "ACTION4", "ACTION5", "ACTION6"}

// Name returns the wire name used in /api/cmd/{name}.
func (id ActionID) Name() string {
	if id < ActionReset || id > Action6 {
		return fmt.Sprintf("ACTION?%d", int(id))
	}
	return actionNames[id]
}

// Valid reports whether id is a defined command.
func (id ActionID) Valid() bool {
	return id >= ActionReset && id <= Action6
}

// Simple reports whether id is a coordinate-free input command.
func (id ActionID) Simple() bool {
	return id >= Action1 && id <= Action5
}

// Complex reports whether id carries an (x, y) coordinate pair.
func (id ActionID) Complex() bool {
	return id == Action6
}

// ParseActionID resolves a wire name back to its ActionID.
func ParseActionID(name string) (ActionID, error) {
	for i, n := range actionNames {
		if n == name {
			return ActionID(i), nil
		}
	}
	return 0, fmt.Errorf("api: unknown action name %q", name)
}

// Action is one command an agent wants dispatched. Reasoning is an
// opaque caller annotation that is transmitted and recorded verbatim,
// never interpreted.
type Action struct {
	ID        ActionID
	X, Y      int // ACTION6 only
	Reasoning json.RawMessage
}

// Validate rejects undefined commands and out-of-range coordinates
// before anything touches the wire.
func (a Action) Validate() error {
	if !a.ID.Valid() {
		return &APIError{Sentinel: ErrValidation, Operation: "dispatch",
			Err: fmt.Errorf("undefined action id %d", int(a.ID))}
	}
	if a.ID.Complex() {
		if a.X < 0 || a.X > CoordMax || a.Y < 0 || a.Y > CoordMax {
			return &APIError{Sentinel: ErrValidation, Operation: "dispatch",
				Err: fmt.Errorf("coordinates (%d,%d) outside [0,%d]", a.X, a.Y, CoordMax)}
		}
	}
	return nil
}

// Input converts the action into its recorded form.
func (a Action) Input() ActionInput {
	in := ActionInput{ID: a.ID}
	if a.ID.Complex() {
		in.Data = map[string]any{"x": a.X, "y": a.Y}
	}
	if len(a.Reasoning) > 0 {
		if in.Data == nil {
			in.Data = map[string]any{}
		}
		in.Data["reasoning"] = json.RawMessage(a.Reasoning)
	}
	return in
}

// ActionInput is the serialized echo of the action that produced a
// frame, as stored in recordings.
type ActionInput struct {
	ID   ActionID       `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

// Action reconstructs the original Action, annotation included. JSON
// numbers arrive as float64 after a decode round-trip.
func (in ActionInput) Action() (Action, error) {
	a := Action{ID: in.ID}
	if !a.ID.Valid() {
		return a, fmt.Errorf("api: recorded action has undefined id %d", int(in.ID))
	}
	if x, ok := in.Data["x"]; ok {
		a.X = toInt(x)
	}
	if y, ok := in.Data["y"]; ok {
		a.Y = toInt(y)
	}
	if r, ok := in.Data["reasoning"]; ok {
		raw, err := json.Marshal(r)
		if err != nil {
			return a, fmt.Errorf("api: recorded reasoning is not JSON: %w", err)
		}
		a.Reasoning = raw
	}
	return a, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// Grid is one 2D snapshot; cells are colour indices in [0, 15].
type Grid [][]int

// FrameData is the result of one dispatched action. A single response
// may carry several grids when the server chose to reveal intermediate
// states.
type FrameData struct {
	GameID      string      `json:"game_id"`
	GUID        string      `json:"guid"`
	Frame       []Grid      `json:"frame"`
	State       GameState   `json:"state"`
	Score       int         `json:"score"`
	ActionInput ActionInput `json:"action_input"`
	FullReset   bool        `json:"full_reset,omitempty"`
}

// Validate checks the response invariants the client relies on.
func (f *FrameData) Validate() error {
	if !f.State.Known() {
		return &APIError{Sentinel: ErrBadResponse, Operation: "dispatch",
			Err: fmt.Errorf("unknown game state %q", string(f.State))}
	}
	if f.Score < 0 || f.Score > MaxScore {
		return &APIError{Sentinel: ErrBadResponse, Operation: "dispatch",
			Err: fmt.Errorf("score %d outside [0,%d]", f.Score, MaxScore)}
	}
	return nil
}

// GameInfo is one entry of the games listing.
type GameInfo struct {
	GameID string `json:"game_id"`
	Title  string `json:"title"`
}

// CardEntry is the per-game slice of a scorecard. Index within the
// lists is the play index.
type CardEntry struct {
	GameID       string      `json:"game_id"`
	TotalPlays   int         `json:"total_plays"`
	TotalActions int         `json:"total_actions"`
	Scores       []int       `json:"scores"`
	States       []GameState `json:"states"`
	Actions      []int       `json:"actions"`
}

// Scorecard is the server-owned aggregate of plays across games.
type Scorecard struct {
	CardID       string               `json:"card_id"`
	Won          int                  `json:"won"`
	Played       int                  `json:"played"`
	TotalActions int                  `json:"total_actions"`
	Score        int                  `json:"score"`
	SourceURL    string               `json:"source_url,omitempty"`
	Tags         []string             `json:"tags,omitempty"`
	Cards        map[string]CardEntry `json:"cards"`
}
