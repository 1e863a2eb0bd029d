// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/gridswarm/internal/log"
	"github.com/ManuGH/gridswarm/internal/metrics"
)

// Client is a stateless wrapper over the authenticated game API.
type Client struct {
	base        string
	apiKey      string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
}

// Options tunes timeouts, retries and pacing.
type Options struct {
	// Timeout bounds every round-trip; expiry is a transient failure.
	Timeout time.Duration
	// MaxAttempts caps total tries per call (first attempt included).
	MaxAttempts int
	// RequestRate paces requests per second across the client; 0 disables pacing.
	RequestRate float64
}

// New creates a game API client for the given base URL and API key.
func New(base, apiKey string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	var limiter *rate.Limiter
	if opts.RequestRate > 0 {
		burst := int(opts.RequestRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestRate), burst)
	}
	return &Client{
		base:        strings.TrimRight(base, "/"),
		apiKey:      apiKey,
		http:        &http.Client{Timeout: opts.Timeout},
		limiter:     limiter,
		maxAttempts: opts.MaxAttempts,
	}
}

// ListGames returns the available games.
func (c *Client) ListGames(ctx context.Context) ([]GameInfo, error) {
	var games []GameInfo
	if err := c.call(ctx, http.MethodGet, "/api/games", nil, &games, "list_games"); err != nil {
		return nil, err
	}
	return games, nil
}

// OpenScorecard opens a fresh scorecard and returns its card ID.
func (c *Client) OpenScorecard(ctx context.Context, sourceURL string, tags []string) (string, error) {
	body := map[string]any{}
	if sourceURL != "" {
		body["source_url"] = sourceURL
	}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	var out struct {
		CardID string `json:"card_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/scorecard/open", body, &out, "open_scorecard"); err != nil {
		return "", err
	}
	if out.CardID == "" {
		return "", &APIError{Sentinel: ErrBadResponse, Operation: "open_scorecard",
			Err: errors.New("response carried no card_id")}
	}
	return out.CardID, nil
}

// CloseScorecard closes the card and returns its final aggregate.
func (c *Client) CloseScorecard(ctx context.Context, cardID string) (*Scorecard, error) {
	body := map[string]any{"card_id": cardID}
	var card Scorecard
	if err := c.call(ctx, http.MethodPost, "/api/scorecard/close", body, &card, "close_scorecard"); err != nil {
		return nil, err
	}
	return &card, nil
}

// GetScorecard reads the card, optionally restricted to one game.
func (c *Client) GetScorecard(ctx context.Context, cardID, gameID string) (*Scorecard, error) {
	path := "/api/scorecard/" + url.PathEscape(cardID)
	if gameID != "" {
		path += "/" + url.PathEscape(gameID)
	}
	var card Scorecard
	if err := c.call(ctx, http.MethodGet, path, nil, &card, "get_scorecard"); err != nil {
		return nil, err
	}
	return &card, nil
}

// Dispatch submits one action and returns the resulting frame. A RESET
// with an empty guid asks the server for a fresh instance; cardID is
// only attached to RESET.
func (c *Client) Dispatch(ctx context.Context, a Action, gameID, guid, cardID string) (*FrameData, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	body := map[string]any{"game_id": gameID}
	if a.ID == ActionReset && cardID != "" {
		body["card_id"] = cardID
	}
	if guid != "" {
		body["guid"] = guid
	}
	if a.ID.Complex() {
		body["x"] = a.X
		body["y"] = a.Y
	}
	if len(a.Reasoning) > 0 {
		body["reasoning"] = json.RawMessage(a.Reasoning)
	}

	start := time.Now()
	var frame FrameData
	if err := c.call(ctx, http.MethodPost, "/api/cmd/"+a.ID.Name(), body, &frame, "dispatch"); err != nil {
		return nil, err
	}
	metrics.ObserveDispatch("dispatch", time.Since(start).Seconds())
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if len(frame.Frame) == 0 {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "dispatch",
			Err: errors.New("response carried no frames")}
	}
	metrics.RecordAction(gameID, a.ID.Name())
	return &frame, nil
}

// call runs one API operation with pacing and bounded retry. Transient
// failures (timeouts, 5xx, rate limiting) back off exponentially up to
// the attempt ceiling; everything else propagates immediately.
func (c *Client) call(ctx context.Context, method, path string, body, out any, op string) error {
	logger := xglog.WithContext(ctx, xglog.WithComponent("api"))

	operation := func() (struct{}, error) {
		err := c.once(ctx, method, path, body, out, op)
		if err != nil && !Transient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RecordRetry(op)
			logger.Warn().Err(err).
				Str(xglog.FieldOperation, op).
				Dur("retry_in", next).
				Msg("transient failure, retrying")
		}),
	)
	if err != nil {
		metrics.RecordTransportError(op, ErrorClass(err))
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, body, out any, op string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &APIError{Sentinel: ErrValidation, Operation: op, Err: err}
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &APIError{Sentinel: ErrValidation, Operation: op, Err: err}
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
		}
		return &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Operation: op, Status: res.StatusCode, Err: err}
	}

	if res.StatusCode != http.StatusOK {
		return &APIError{
			Sentinel:  classifyStatus(res.StatusCode),
			Operation: op,
			Status:    res.StatusCode,
			Body:      clip(raw),
		}
	}

	// The server reports some failures as 200 with an error envelope.
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return &APIError{
			Sentinel:  classifyMessage(envelope.Error),
			Operation: op,
			Status:    res.StatusCode,
			Body:      envelope.Error,
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Sentinel: ErrBadResponse, Operation: op,
				Status: res.StatusCode, Body: clip(raw), Err: err}
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusConflict:
		return ErrCapacity
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrUpstream
	default:
		return ErrValidation
	}
}

// classifyMessage maps error-envelope text onto the taxonomy. The
// capacity case matters most: it must not be retried.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized"):
		return ErrAuth
	case strings.Contains(lower, "limit") && strings.Contains(lower, "instance"):
		return ErrCapacity
	case strings.Contains(lower, "rate"):
		return ErrRateLimited
	default:
		return ErrValidation
	}
}

func clip(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max]
	}
	return s
}
