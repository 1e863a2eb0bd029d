// SPDX-License-Identifier: MIT

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	runIDKey  ctxKey = "run_id"
	gameIDKey ctxKey = "game_id"
	guidKey   ctxKey = "guid"
)

// ContextWithRunID stores the batch run ID in the context.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// ContextWithGameID stores the game ID in the context.
func ContextWithGameID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, gameIDKey, id)
}

// ContextWithGUID stores the game instance GUID in the context.
func ContextWithGUID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, guidKey, id)
}

// RunIDFromContext extracts the run ID from context if present.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// GameIDFromContext extracts the game ID from context if present.
func GameIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(gameIDKey).(string); ok {
		return v
	}
	return ""
}

// GUIDFromContext extracts the instance GUID from context if present.
func GUIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(guidKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if rid := RunIDFromContext(ctx); rid != "" {
		builder = builder.Str(FieldRunID, rid)
		added = true
	}
	if gid := GameIDFromContext(ctx); gid != "" {
		builder = builder.Str(FieldGameID, gid)
		added = true
	}
	if guid := GUIDFromContext(ctx); guid != "" {
		builder = builder.Str(FieldGUID, guid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// FromContext returns the base logger enriched with correlation fields from context.
func FromContext(ctx context.Context) zerolog.Logger {
	return WithContext(ctx, Base())
}
