// SPDX-License-Identifier: MIT

// Package swarm runs many session/policy pairs concurrently against one
// scorecard and aggregates their outcomes.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/gridswarm/internal/api"
	xglog "github.com/ManuGH/gridswarm/internal/log"
	"github.com/ManuGH/gridswarm/internal/metrics"
	"github.com/ManuGH/gridswarm/internal/policy"
	"github.com/ManuGH/gridswarm/internal/record"
	"github.com/ManuGH/gridswarm/internal/session"
)

// Outcome classifies how one unit of work ended.
type Outcome string

const (
	// OutcomeWin: the server declared WIN.
	OutcomeWin Outcome = "WIN"
	// OutcomeGameOver: the server declared GAME_OVER and the policy
	// stopped there.
	OutcomeGameOver Outcome = "GAME_OVER"
	// OutcomeDone: the policy declared itself done without a terminal
	// server state (e.g. an exhausted replay).
	OutcomeDone Outcome = "DONE"
	// OutcomeCeiling: the local action ceiling stopped the unit. This
	// is deliberately distinct from GAME_OVER: budget exhaustion on the
	// client is not a server-declared loss.
	OutcomeCeiling Outcome = "CEILING"
	// OutcomeError: the unit failed; it contributes to played but never
	// fabricates a WIN or GAME_OVER.
	OutcomeError Outcome = "ERROR"
)

// Options configures one batch run.
type Options struct {
	// Games lists the game ids to play; repeat an id to play it twice.
	Games []string
	// Factory builds a fresh policy per unit.
	Factory policy.Factory
	// PolicyName labels recordings and logs.
	PolicyName string
	// Concurrency bounds simultaneously active units. The server caps
	// concurrent instances per key; never launch more than this at once.
	Concurrency int
	// MaxActions is the local action ceiling per session (0 = none).
	MaxActions int
	// RecordDir receives recordings; Record toggles them.
	RecordDir string
	Record    bool
	// CardSourceURL and CardTags annotate the opened scorecard.
	CardSourceURL string
	CardTags      []string
}

// UnitResult is the terminal report of one session/policy pair.
type UnitResult struct {
	GameID    string
	GUID      string
	Policy    string
	Outcome   Outcome
	State     api.GameState
	Score     int
	Actions   int
	Recording string
	Err       error
}

// GameSummary is the client-side per-game aggregate, one entry appended
// per settled unit in completion order.
type GameSummary struct {
	GameID       string
	Plays        int
	TotalActions int
	Scores       []int
	States       []api.GameState
	Actions      []int
}

// Summary is the batch aggregate.
type Summary struct {
	RunID        string
	CardID       string
	Played       int
	Won          int
	TotalActions int
	Score        int
	Games        map[string]*GameSummary
	Units        []UnitResult
	// Card is the server's authoritative aggregate from closing the
	// scorecard.
	Card *api.Scorecard
}

// Orchestrator launches units, enforces the concurrency bound, owns the
// scorecard lifecycle and serializes aggregation.
type Orchestrator struct {
	client *api.Client
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	summary *Summary
}

// New validates options and builds an orchestrator.
func New(client *api.Client, opts Options) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("swarm: client must not be nil")
	}
	if len(opts.Games) == 0 {
		return nil, errors.New("swarm: no games to play")
	}
	if opts.Factory == nil {
		return nil, errors.New("swarm: policy factory must not be nil")
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("swarm: concurrency must be positive, got %d", opts.Concurrency)
	}
	if opts.PolicyName == "" {
		opts.PolicyName = "policy"
	}
	return &Orchestrator{
		client: client,
		opts:   opts,
		logger: xglog.WithComponent("swarm"),
	}, nil
}

// Run opens one scorecard, plays every game with a fresh session/policy
// pair under the concurrency bound, closes the card exactly once after
// all units settle, and returns the aggregate.
//
// Unit failures never crash siblings; only authentication failures and
// scorecard lifecycle failures abort the batch. On cancellation,
// in-flight dispatches complete, no further actions are issued, and the
// card is still closed.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	ctx = xglog.ContextWithRunID(ctx, runID)
	logger := xglog.WithContext(ctx, o.logger)

	cardID, err := o.client.OpenScorecard(ctx, o.opts.CardSourceURL, o.opts.CardTags)
	if err != nil {
		return nil, fmt.Errorf("swarm: open scorecard: %w", err)
	}
	logger.Info().
		Str(xglog.FieldCardID, cardID).
		Int("games", len(o.opts.Games)).
		Int("concurrency", o.opts.Concurrency).
		Msg("batch started")

	o.mu.Lock()
	o.summary = &Summary{
		RunID:  runID,
		CardID: cardID,
		Games:  make(map[string]*GameSummary),
	}
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for _, gameID := range o.opts.Games {
		g.Go(func() error {
			res := o.runUnit(gctx, cardID, gameID)
			o.merge(res)
			if res.Err != nil && errors.Is(res.Err, api.ErrAuth) {
				// Bad key fails every sibling identically; abort the batch.
				return res.Err
			}
			return nil
		})
	}
	batchErr := g.Wait()

	// Close even when aborted, to avoid leaking a live card.
	card, closeErr := o.client.CloseScorecard(context.WithoutCancel(ctx), cardID)
	if closeErr != nil {
		closeErr = fmt.Errorf("swarm: close scorecard: %w", closeErr)
	}

	o.mu.Lock()
	summary := o.summary
	summary.Card = card
	o.mu.Unlock()

	logger.Info().
		Str(xglog.FieldCardID, cardID).
		Int("played", summary.Played).
		Int("won", summary.Won).
		Int("total_actions", summary.TotalActions).
		Msg("batch finished")

	if batchErr != nil {
		return summary, batchErr
	}
	return summary, closeErr
}

// runUnit plays one game with one fresh policy instance until a
// terminal outcome. It never panics the batch: every failure is folded
// into the UnitResult.
func (o *Orchestrator) runUnit(ctx context.Context, cardID, gameID string) UnitResult {
	metrics.UnitStarted()
	defer metrics.UnitFinished()

	ctx = xglog.ContextWithGameID(ctx, gameID)
	logger := xglog.WithContext(ctx, o.logger)
	res := UnitResult{GameID: gameID, Policy: o.opts.PolicyName}

	pol, err := o.opts.Factory(gameID)
	if err != nil {
		res.Outcome = OutcomeError
		res.Err = fmt.Errorf("construct policy: %w", err)
		return res
	}
	defer func() {
		if c, ok := pol.(policy.Cleaner); ok {
			c.Cleanup(context.WithoutCancel(ctx))
		}
	}()

	var sink session.Sink
	var rec *record.Recorder
	_, isPlayback := pol.(*record.Player)
	if o.opts.Record && !isPlayback {
		instance := uuid.NewString()
		rec, err = record.New(o.opts.RecordDir, gameID, o.opts.PolicyName, o.opts.MaxActions, instance)
		if err != nil {
			res.Outcome = OutcomeError
			res.Err = err
			return res
		}
		sink = rec
		res.Recording = rec.Path()
		defer func() { _ = rec.Close() }()
	}

	sess := session.New(o.client, gameID, "", cardID, o.opts.MaxActions, sink)

	if init, ok := pol.(policy.Initializer); ok {
		if err := init.Setup(ctx); err != nil {
			res.Outcome = OutcomeError
			res.Err = fmt.Errorf("policy setup: %w", err)
			return res
		}
	}

	res.Outcome, res.Err = o.loop(ctx, sess, pol)
	res.GUID = sess.GUID()
	res.State = sess.State()
	res.Score = sess.Score()
	res.Actions = sess.Counter()

	if rec != nil {
		// Append the unit's final scorecard view, as the recording's
		// closing entry.
		if card, err := o.client.GetScorecard(context.WithoutCancel(ctx), cardID, gameID); err != nil {
			logger.Warn().Err(err).Msg("could not snapshot scorecard into recording")
		} else if err := rec.RecordMeta(card); err != nil {
			logger.Warn().Err(err).Msg("could not append scorecard snapshot")
		}
	}

	event := logger.Info()
	if res.Err != nil {
		event = logger.Error().Err(res.Err)
	}
	event.
		Str(xglog.FieldOutcome, string(res.Outcome)).
		Str(xglog.FieldState, string(res.State)).
		Int(xglog.FieldScore, res.Score).
		Int(xglog.FieldCounter, res.Actions).
		Float64(xglog.FieldFPS, sess.FPS()).
		Msg("unit settled")
	return res
}

// loop is the worker loop: while the policy is not done and the ceiling
// holds, propose and apply. Cancellation takes effect between actions;
// an in-flight dispatch always completes.
func (o *Orchestrator) loop(ctx context.Context, sess *session.Session, pol policy.Policy) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return OutcomeError, fmt.Errorf("batch aborted: %w", err)
		}
		latest := sess.Latest()
		if pol.IsDone(sess.History(), latest) {
			switch latest.State {
			case api.StateWin:
				return OutcomeWin, nil
			case api.StateGameOver:
				return OutcomeGameOver, nil
			default:
				return OutcomeDone, nil
			}
		}
		if sess.CeilingReached() {
			return OutcomeCeiling, nil
		}

		a, err := pol.ChooseAction(ctx, sess.History(), latest)
		if err != nil {
			return OutcomeError, fmt.Errorf("choose action: %w", err)
		}
		if _, err := sess.Apply(context.WithoutCancel(ctx), a); err != nil {
			if errors.Is(err, session.ErrCeilingReached) {
				return OutcomeCeiling, nil
			}
			return OutcomeError, err
		}
	}
}

// merge folds one settled unit into the running aggregate. Units settle
// concurrently, so this is the single serialized touch point.
func (o *Orchestrator) merge(res UnitResult) {
	outcome := string(res.Outcome)
	metrics.RecordPlay(res.GameID, outcome)

	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.summary
	s.Units = append(s.Units, res)
	g := s.Games[res.GameID]
	if g == nil {
		g = &GameSummary{GameID: res.GameID}
		s.Games[res.GameID] = g
	}

	s.Played++
	g.Plays++
	if res.Outcome == OutcomeError {
		// A crashed unit must not fabricate a result; its completed
		// actions live on in the recording only.
		return
	}
	if res.Outcome == OutcomeWin {
		s.Won++
	}
	s.TotalActions += res.Actions
	s.Score += res.Score
	g.TotalActions += res.Actions
	g.Scores = append(g.Scores, res.Score)
	g.States = append(g.States, res.State)
	g.Actions = append(g.Actions, res.Actions)
}
