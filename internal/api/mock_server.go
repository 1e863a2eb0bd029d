// SPDX-License-Identifier: MIT
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockScript describes how a mock game behaves per instance.
type MockScript struct {
	WinAfter      int // total actions until WIN (0 = never)
	GameOverAfter int // total actions until GAME_OVER (0 = never)
	LevelEvery    int // actions per level: score++ and an extra frame on the boundary
}

// MockServer is a configurable in-process game service for testing the
// client, session and swarm layers against realistic wire behavior.
type MockServer struct {
	*httptest.Server

	mu           sync.Mutex
	apiKey       string
	games        []GameInfo
	scripts      map[string]MockScript
	instances    map[string]*mockInstance
	cards        map[string]*mockCard
	failures     map[string]int // operation path prefix -> remaining 500s
	maxInstances int

	dispatchDelay time.Duration
	inflight      int
	maxInflight   int
}

type mockInstance struct {
	gameID  string
	guid    string
	cardID  string
	score   int
	actions int
	state   GameState
}

type mockCard struct {
	id      string
	open    bool
	entries map[string]*CardEntry
}

// NewMockServer starts a mock game service with two playable games.
func NewMockServer() *MockServer {
	m := &MockServer{
		games: []GameInfo{
			{GameID: "ls20-locksmith", Title: "LockSmith"},
			{GameID: "ft09-flood", Title: "Flood"},
		},
		scripts: map[string]MockScript{
			"ls20-locksmith": {WinAfter: 6, LevelEvery: 3},
			"ft09-flood":     {GameOverAfter: 4},
		},
		instances:    make(map[string]*mockInstance),
		cards:        make(map[string]*mockCard),
		failures:     make(map[string]int),
		maxInstances: 16,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/games", m.handleGames)
	mux.HandleFunc("/api/scorecard/open", m.handleOpen)
	mux.HandleFunc("/api/scorecard/close", m.handleClose)
	mux.HandleFunc("/api/scorecard/", m.handleGet)
	mux.HandleFunc("/api/cmd/", m.handleCmd)

	m.Server = httptest.NewServer(mux)
	return m
}

// RequireAPIKey makes the server reject requests without the given key.
func (m *MockServer) RequireAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = key
}

// SetScript replaces the behavior script for one game.
func (m *MockServer) SetScript(gameID string, s MockScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[gameID] = s
}

// FailNext makes the next n requests whose path starts with prefix
// return HTTP 500.
func (m *MockServer) FailNext(prefix string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = n
}

// SetMaxInstances caps concurrently live (non-terminal) instances.
func (m *MockServer) SetMaxInstances(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxInstances = n
}

// SetDispatchDelay makes every command handler sleep, forcing request
// overlap so concurrency bounds are observable.
func (m *MockServer) SetDispatchDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchDelay = d
}

// MaxInflight reports the highest number of overlapping command
// dispatches observed so far.
func (m *MockServer) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

func (m *MockServer) authorized(r *http.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiKey == "" || r.Header.Get("X-API-Key") == m.apiKey
}

func (m *MockServer) injectFailure(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix, n := range m.failures {
		if n > 0 && strings.HasPrefix(path, prefix) {
			m.failures[prefix] = n - 1
			return true
		}
	}
	return false
}

func (m *MockServer) handleGames(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	if m.injectFailure(r.URL.Path) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, m.games)
}

func (m *MockServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	if m.injectFailure(r.URL.Path) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	m.mu.Lock()
	card := &mockCard{id: uuid.NewString(), open: true, entries: make(map[string]*CardEntry)}
	m.cards[card.id] = card
	m.mu.Unlock()
	writeJSON(w, map[string]string{"card_id": card.id})
}

func (m *MockServer) handleClose(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	var body struct {
		CardID string `json:"card_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	m.mu.Lock()
	card, ok := m.cards[body.CardID]
	if !ok || !card.open {
		m.mu.Unlock()
		writeJSON(w, map[string]string{"error": "scorecard not open"})
		return
	}
	card.open = false
	out := m.snapshotLocked(card, "")
	m.mu.Unlock()
	writeJSON(w, out)
}

func (m *MockServer) handleGet(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/scorecard/")
	parts := strings.SplitN(rest, "/", 2)
	cardID := parts[0]
	gameID := ""
	if len(parts) == 2 {
		gameID = parts[1]
	}
	m.mu.Lock()
	card, ok := m.cards[cardID]
	if !ok {
		m.mu.Unlock()
		writeJSON(w, map[string]string{"error": "unknown scorecard"})
		return
	}
	out := m.snapshotLocked(card, gameID)
	m.mu.Unlock()
	writeJSON(w, out)
}

func (m *MockServer) snapshotLocked(card *mockCard, gameID string) Scorecard {
	out := Scorecard{CardID: card.id, Cards: make(map[string]CardEntry)}
	for gid, e := range card.entries {
		if gameID != "" && gid != gameID {
			continue
		}
		out.Cards[gid] = *e
		out.Played += e.TotalPlays
		out.TotalActions += e.TotalActions
		for _, s := range e.States {
			if s == StateWin {
				out.Won++
			}
		}
		for _, s := range e.Scores {
			out.Score += s
		}
	}
	return out
}

func (m *MockServer) handleCmd(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(r) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	if m.injectFailure(r.URL.Path) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	m.mu.Lock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.dispatchDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	name := strings.TrimPrefix(r.URL.Path, "/api/cmd/")
	id, err := ParseActionID(name)
	if err != nil {
		writeJSON(w, map[string]string{"error": "unknown action " + name})
		return
	}
	var body struct {
		GameID string `json:"game_id"`
		GUID   string `json:"guid"`
		CardID string `json:"card_id"`
		X      *int   `json:"x"`
		Y      *int   `json:"y"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if id.Complex() {
		if body.X == nil || body.Y == nil || *body.X < 0 || *body.X > CoordMax || *body.Y < 0 || *body.Y > CoordMax {
			writeJSON(w, map[string]string{"error": "coordinates out of range"})
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id == ActionReset {
		inst := m.instances[body.GUID]
		if inst == nil {
			if m.liveInstancesLocked() >= m.maxInstances {
				writeJSON(w, map[string]string{"error": "concurrent instance limit exceeded"})
				return
			}
			inst = &mockInstance{gameID: body.GameID, guid: uuid.NewString(), cardID: body.CardID}
			m.instances[inst.guid] = inst
		}
		inst.state = StateNotFinished
		inst.score = 0
		inst.actions = 0
		if body.CardID != "" {
			inst.cardID = body.CardID
		}
		writeJSON(w, m.frameLocked(inst, 1))
		return
	}

	inst := m.instances[body.GUID]
	if inst == nil {
		writeJSON(w, map[string]string{"error": "unknown guid, RESET first"})
		return
	}
	if inst.state != StateNotFinished {
		writeJSON(w, map[string]string{"error": "game is not in progress, RESET first"})
		return
	}

	inst.actions++
	frames := 1
	script := m.scripts[inst.gameID]
	if script.LevelEvery > 0 && inst.actions%script.LevelEvery == 0 {
		inst.score++
		frames = 2 // level transition reveals an intermediate state
	}
	switch {
	case script.WinAfter > 0 && inst.actions >= script.WinAfter:
		inst.state = StateWin
	case script.GameOverAfter > 0 && inst.actions >= script.GameOverAfter:
		inst.state = StateGameOver
	}
	if inst.state.Terminal() {
		m.recordPlayLocked(inst)
	}
	writeJSON(w, m.frameLocked(inst, frames))
}

func (m *MockServer) liveInstancesLocked() int {
	n := 0
	for _, inst := range m.instances {
		if inst.state == StateNotFinished {
			n++
		}
	}
	return n
}

func (m *MockServer) recordPlayLocked(inst *mockInstance) {
	card, ok := m.cards[inst.cardID]
	if !ok {
		return
	}
	e := card.entries[inst.gameID]
	if e == nil {
		e = &CardEntry{GameID: inst.gameID}
		card.entries[inst.gameID] = e
	}
	e.TotalPlays++
	e.TotalActions += inst.actions
	e.Scores = append(e.Scores, inst.score)
	e.States = append(e.States, inst.state)
	e.Actions = append(e.Actions, inst.actions)
}

func (m *MockServer) frameLocked(inst *mockInstance, frames int) FrameData {
	grids := make([]Grid, frames)
	for i := range grids {
		g := make(Grid, 8)
		for row := range g {
			g[row] = make([]int, 8)
			g[row][0] = inst.score % 16
		}
		grids[i] = g
	}
	return FrameData{
		GameID: inst.gameID,
		GUID:   inst.guid,
		Frame:  grids,
		State:  inst.state,
		Score:  inst.score,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
