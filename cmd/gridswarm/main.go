// SPDX-License-Identifier: MIT

// Command gridswarm drives decision policies through a remote game
// service, records every session, and aggregates results on one
// scorecard.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/gridswarm/internal/api"
	"github.com/ManuGH/gridswarm/internal/config"
	xglog "github.com/ManuGH/gridswarm/internal/log"
	"github.com/ManuGH/gridswarm/internal/policy"
	"github.com/ManuGH/gridswarm/internal/record"
	"github.com/ManuGH/gridswarm/internal/swarm"
	"github.com/ManuGH/gridswarm/internal/version"
)

func main() {
	// Best-effort .env loading; a local .env overrides the example file.
	_ = godotenv.Load(".env-example")
	_ = godotenv.Overload(".env")

	xglog.Configure(xglog.Config{Service: "gridswarm"})
	logger := xglog.WithComponent("main")

	cfg := config.FromEnv()

	var (
		policyName  string
		gameFilter  string
		plays       int
		concurrency int
		maxActions  int
		reportPath  string
		showVersion bool
	)
	flag.StringVar(&policyName, "policy", "", "policy to run (a *.recording.jsonl filename activates playback); one of: "+strings.Join(policy.Names(), ", "))
	flag.StringVar(&gameFilter, "game", "", "comma-separated game id prefixes to restrict the batch to")
	flag.IntVar(&plays, "plays", 1, "units to launch per selected game")
	flag.IntVar(&concurrency, "concurrency", cfg.Concurrency, "maximum simultaneously active sessions")
	flag.IntVar(&maxActions, "max-actions", cfg.MaxActions, "local action ceiling per session")
	flag.StringVar(&reportPath, "report", "", "write the batch summary JSON to this file")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("gridswarm %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	if policyName == "" {
		logger.Error().Msg("a policy must be specified (-policy)")
		os.Exit(2)
	}
	cfg.Concurrency = concurrency
	cfg.MaxActions = maxActions
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	client := api.New(cfg.BaseURL, cfg.APIKey, api.Options{
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.MaxAttempts,
		RequestRate: cfg.RequestRate,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	games, factory, err := resolveRun(ctx, client, policyName, gameFilter)
	if err != nil {
		logger.Error().Err(err).Msg("could not resolve games and policy")
		os.Exit(1)
	}
	units := make([]string, 0, len(games)*plays)
	for range plays {
		units = append(units, games...)
	}
	logger.Info().
		Strs("games", games).
		Str(xglog.FieldPolicy, policyName).
		Int("units", len(units)).
		Msg("starting batch")

	orch, err := swarm.New(client, swarm.Options{
		Games:         units,
		Factory:       factory,
		PolicyName:    policyLabel(policyName),
		Concurrency:   cfg.Concurrency,
		MaxActions:    cfg.MaxActions,
		RecordDir:     cfg.RecordDir,
		Record:        cfg.Record,
		CardSourceURL: cfg.ScorecardSourceURL,
		CardTags:      cfg.ScorecardTags,
	})
	if err != nil {
		logger.Error().Err(err).Msg("could not build orchestrator")
		os.Exit(1)
	}

	summary, runErr := orch.Run(ctx)
	if summary != nil {
		printSummary(summary, reportPath)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error().Err(runErr).Msg("batch failed")
		os.Exit(1)
	}
}

// resolveRun determines the game list and policy factory. A recording
// filename as policy selector activates playback; its game id is
// derived from the filename so playback works without a games listing.
func resolveRun(ctx context.Context, client *api.Client, policyName, gameFilter string) ([]string, policy.Factory, error) {
	logger := xglog.WithComponent("main")

	if strings.HasSuffix(policyName, record.Suffix) {
		meta, err := record.ParseName(policyName)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().
			Str(xglog.FieldGameID, meta.GameID).
			Msg("using game derived from playback recording filename")
		return []string{meta.GameID}, record.PlayerFactory(policyName), nil
	}

	if _, ok := policy.Lookup(policyName); !ok {
		return nil, nil, fmt.Errorf("unknown policy %q (have %v)", policyName, policy.Names())
	}
	factory := func(gameID string) (policy.Policy, error) {
		return policy.New(policyName, gameID)
	}

	infos, err := client.ListGames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list games: %w", err)
	}
	games := make([]string, 0, len(infos))
	for _, g := range infos {
		games = append(games, g.GameID)
	}
	if gameFilter != "" {
		prefixes := strings.Split(gameFilter, ",")
		filtered := games[:0]
		for _, gid := range games {
			for _, p := range prefixes {
				if strings.HasPrefix(gid, strings.TrimSpace(p)) {
					filtered = append(filtered, gid)
					break
				}
			}
		}
		games = filtered
	}
	if len(games) == 0 {
		return nil, nil, errors.New("no games available to play; check API connection or -game filter")
	}
	return games, factory, nil
}

func policyLabel(policyName string) string {
	if strings.HasSuffix(policyName, record.Suffix) {
		return "playback"
	}
	return policyName
}

func printSummary(summary *swarm.Summary, reportPath string) {
	logger := xglog.WithComponent("main")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.Error().Err(err).Msg("could not marshal summary")
		return
	}
	fmt.Println(string(data))
	if reportPath != "" {
		if err := os.WriteFile(reportPath, data, 0o600); err != nil {
			logger.Error().Err(err).Str(xglog.FieldPath, reportPath).Msg("could not write report")
		}
	}
}

// serveMetrics exposes /metrics and /healthz while the batch runs.
func serveMetrics(ctx context.Context, addr string) {
	logger := xglog.WithComponent("metrics")

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}
