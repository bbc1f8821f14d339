// Package events publishes state-change notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// Sender is the transport, satisfied by *rabbitmq.Client
type Sender interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitPublisher encodes events as JSON and routes them by type
type RabbitPublisher struct {
	sender Sender
	prefix string
}

// NewRabbitPublisher creates a publisher. prefix is prepended to the event
// type to form the routing key, e.g. "earnings." + "analysis.completed".
func NewRabbitPublisher(sender Sender, prefix string) *RabbitPublisher {
	return &RabbitPublisher{sender: sender, prefix: prefix}
}

// Publish sends one event
func (p *RabbitPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.sender.Publish(ctx, p.prefix+event.Type, body, "application/json")
}

// LogPublisher only logs events; used when no broker is configured
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a new LogPublisher instance
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event at debug level
func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	p.logger.Debug("Event",
		slog.String("type", event.Type),
		slog.String("event_id", event.ID),
		slog.Int64("stock_id", event.StockID),
		slog.Int64("analysis_id", event.AnalysisID),
	)
	return nil
}
