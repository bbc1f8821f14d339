// Package queue is the durable multi-topic message store workers poll.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// Store is a durable FIFO-ish queue with delayed visibility and atomic
// claim-and-remove dequeue. Each message is returned to exactly one caller.
type Store interface {
	// Enqueue stores payload on topic, visible after delay
	Enqueue(ctx context.Context, topic string, payload any, delay time.Duration) error
	// Dequeue claims the oldest visible message, polling until timeout.
	// It returns nil, nil when nothing became visible in time.
	Dequeue(ctx context.Context, topic string, timeout time.Duration) (*Message, error)
	// Length counts messages on topic, visible or not
	Length(ctx context.Context, topic string) (int64, error)
	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) bool
}

// Message is a claimed queue message
type Message struct {
	ID          int64           `db:"id"`
	Topic       string          `db:"topic"`
	Payload     json.RawMessage `db:"payload"`
	AvailableAt time.Time       `db:"available_at"`
}

// Decode unmarshals the payload into v
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// Options tunes polling and busy-retry behaviour
type Options struct {
	PollInterval time.Duration
	BusyRetries  int
	BusyDelay    time.Duration
}

// DefaultOptions returns the options used when a field is left zero
func DefaultOptions() Options {
	return Options{
		PollInterval: 250 * time.Millisecond,
		BusyRetries:  5,
		BusyDelay:    25 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.BusyRetries <= 0 {
		o.BusyRetries = d.BusyRetries
	}
	if o.BusyDelay <= 0 {
		o.BusyDelay = d.BusyDelay
	}
	return o
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return data, nil
	}
}

// poll calls try until it yields a message or an error, sleeping between
// empty attempts. A lost race is retried at once.
func poll(ctx context.Context, timeout, interval time.Duration, try func(context.Context) (*Message, error)) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := try(ctx)
		switch {
		case errors.Is(err, errLostRace):
			continue
		case err != nil:
			return nil, err
		case msg != nil:
			return msg, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
