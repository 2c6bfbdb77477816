// Package delivery implements the channels a notification can leave the
// process through.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Channel delivers one message to one recipient.
type Channel interface {
	Deliver(ctx context.Context, recipient, message string) error
}

// LogChannel writes deliveries to the structured log.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Deliver(_ context.Context, recipient, message string) error {
	if l.logger != nil {
		l.logger.Info("notification", "recipient", recipient, "message", message)
	}
	return nil
}

// Router sends URL recipients to the webhook channel, "log" recipients to
// the log channel, and everything else (subscriber ids, named sinks) to the
// default channel.
type Router struct {
	webhook  Channel
	log      Channel
	fallback Channel
}

func NewRouter(webhook, log, fallback Channel) *Router {
	return &Router{webhook: webhook, log: log, fallback: fallback}
}

func (r *Router) Deliver(ctx context.Context, recipient, message string) error {
	ch := r.route(recipient)
	if ch == nil {
		return errors.New("no delivery channel for " + recipient)
	}
	return ch.Deliver(ctx, recipient, message)
}

func (r *Router) route(recipient string) Channel {
	lower := strings.ToLower(strings.TrimSpace(recipient))
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return r.webhook
	case lower == "log":
		return r.log
	}
	return r.fallback
}
