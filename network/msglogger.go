package network

import (
	"context"
	"log/slog"
)

// MsgLogger is a hook that logs payloads as they go across a connection.
type MsgLogger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewMsgLogger returns a MsgLogger that writes debug records into logger.
func NewMsgLogger(logger *slog.Logger) *MsgLogger {
	return &MsgLogger{logger: logger, level: slog.LevelDebug}
}

// Func writes the connection event into the logger.
func (h *MsgLogger) Func(ctx HookCtx) {
	named, ok := ctx.Domain.(Named)
	if !ok {
		return
	}

	attrs := []any{
		"connection", named.Name(),
		"pos", ctx.Pos.Name,
		"payload", ctx.Item,
	}
	if ctx.Detail != nil {
		attrs = append(attrs, "detail", ctx.Detail)
	}

	h.logger.Log(context.Background(), h.level, "connection event", attrs...)
}
