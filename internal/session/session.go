// SPDX-License-Identifier: MIT

// Package session owns the per-instance protocol state machine: frame
// history, score, lifecycle state and the local action counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/gridswarm/internal/api"
	xglog "github.com/ManuGH/gridswarm/internal/log"
)

// ErrProtocolViolation marks actions that break the interaction
// protocol. Nothing is sent and no state mutates.
var ErrProtocolViolation = errors.New("session: protocol violation")

// ErrCeilingReached marks local termination: the configured action
// ceiling is exhausted. It is an expected terminal condition, distinct
// from a server-declared GAME_OVER.
var ErrCeilingReached = errors.New("session: local action ceiling reached")

// ProtocolViolationError carries the rejected transition.
type ProtocolViolationError struct {
	GameID string
	State  api.GameState
	Action api.ActionID
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("session: %s: action %s is illegal in state %s (RESET required)",
		e.GameID, e.Action.Name(), e.State)
}

func (e *ProtocolViolationError) Unwrap() error { return ErrProtocolViolation }

// Dispatcher is the transport capability a session needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, a api.Action, gameID, guid, cardID string) (*api.FrameData, error)
}

// Sink receives every frame a session produces, in order.
type Sink interface {
	Record(fd *api.FrameData) error
}

// Session drives one (game_id, guid) pair. It is owned by exactly one
// worker and is not safe for concurrent use.
type Session struct {
	gameID  string
	guid    string
	cardID  string
	ceiling int

	client Dispatcher
	sink   Sink
	logger zerolog.Logger

	history     []api.FrameData
	counter     int
	playActions int
	started     time.Time
}

// New creates a session. An empty guid requests a fresh server-assigned
// instance on the first RESET. sink may be nil. ceiling <= 0 disables
// the local action ceiling.
func New(client Dispatcher, gameID, guid, cardID string, ceiling int, sink Sink) *Session {
	return &Session{
		gameID:  gameID,
		guid:    guid,
		cardID:  cardID,
		ceiling: ceiling,
		client:  client,
		sink:    sink,
		logger: xglog.Derive(func(c *zerolog.Context) {
			*c = c.Str(xglog.FieldComponent, "session").Str(xglog.FieldGameID, gameID)
		}),
		started: time.Now(),
	}
}

// GameID returns the game this session plays.
func (s *Session) GameID() string { return s.gameID }

// GUID returns the current instance id ("" before the first RESET of a
// server-assigned instance).
func (s *Session) GUID() string { return s.guid }

// Counter returns the number of successful applies so far.
func (s *Session) Counter() int { return s.counter }

// PlayActions returns the actions taken in the current play, reset on
// each RESET.
func (s *Session) PlayActions() int { return s.playActions }

// History returns the ordered record of all frames received.
func (s *Session) History() []api.FrameData { return s.history }

// Latest returns the most recent frame, or a synthetic NOT_PLAYED frame
// before the first apply.
func (s *Session) Latest() *api.FrameData {
	if len(s.history) == 0 {
		return &api.FrameData{GameID: s.gameID, State: api.StateNotPlayed, Score: 0}
	}
	return &s.history[len(s.history)-1]
}

// State returns the current lifecycle state.
func (s *Session) State() api.GameState { return s.Latest().State }

// Score returns the current play's score.
func (s *Session) Score() int { return s.Latest().Score }

// CeilingReached reports whether the local action ceiling is exhausted.
func (s *Session) CeilingReached() bool {
	return s.ceiling > 0 && s.counter >= s.ceiling
}

// FPS returns actions per second over the session's lifetime.
func (s *Session) FPS() float64 {
	elapsed := time.Since(s.started).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	return float64(s.counter) / elapsed
}

// Apply validates the action against the protocol, dispatches it, and
// folds the response into session state. Exactly one counter increment
// per successful apply, regardless of how many frames came back.
func (s *Session) Apply(ctx context.Context, a api.Action) (*api.FrameData, error) {
	if s.CeilingReached() {
		return nil, fmt.Errorf("%w after %d actions", ErrCeilingReached, s.counter)
	}
	if a.ID != api.ActionReset && s.State().NeedsReset() {
		return nil, &ProtocolViolationError{GameID: s.gameID, State: s.State(), Action: a.ID}
	}

	fd, err := s.client.Dispatch(ctx, a, s.gameID, s.guid, s.cardID)
	if err != nil {
		return nil, err
	}

	// Stamp the triggering action (annotation included) so recordings
	// are replayable.
	fd.ActionInput = a.Input()

	if fd.GUID != "" {
		s.guid = fd.GUID
	}
	if a.ID == api.ActionReset {
		s.playActions = 0
	} else {
		s.playActions++
	}
	s.counter++
	s.history = append(s.history, *fd)

	if s.sink != nil {
		if err := s.sink.Record(fd); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist frame to recording")
		}
	}

	s.logger.Info().
		Str(xglog.FieldAction, a.ID.Name()).
		Int(xglog.FieldCounter, s.counter).
		Int(xglog.FieldScore, fd.Score).
		Str(xglog.FieldState, string(fd.State)).
		Int(xglog.FieldFrames, len(fd.Frame)).
		Float64(xglog.FieldFPS, s.FPS()).
		Msg("action applied")

	return fd, nil
}
