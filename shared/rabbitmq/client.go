// Package rabbitmq publishes messages to a topic exchange.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	// URL wins over the discrete fields when set
	URL               string
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	Exchange          string
	ExchangeType      string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// DSN returns the AMQP connection string
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// Client is a publish-only RabbitMQ client safe for concurrent use
type Client struct {
	config  *Config
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewClient connects and declares the exchange
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.ExchangeType == "" {
		config.ExchangeType = amqp.ExchangeTopic
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{config: config, logger: logger}
	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic. Callers hold mu
// or own the client exclusively.
func (c *Client) connect() error {
	var err error
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.RetryAttempts),
		)

		c.conn, err = amqp.DialConfig(c.config.DSN(), amqpConfig)
		if err == nil {
			break
		}
		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < c.config.RetryAttempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.config.RetryAttempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		c.config.Exchange,     // name
		c.config.ExchangeType, // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized", slog.String("exchange", c.config.Exchange))
	return nil
}

// Publish sends body with routingKey, reconnecting once per attempt when the
// connection dropped. Attempts back off exponentially from PublishRetryDelay.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	retries := c.config.PublishRetries
	if retries < 0 {
		retries = 0
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if lastErr = c.publishOnce(ctx, routingKey, body, contentType); lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("routing_key", routingKey),
				slog.Int("body_size", len(body)),
			)
			return nil
		}
		if attempt == retries {
			break
		}

		wait := delay << attempt
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", wait),
			slog.Any("error", lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("failed to publish message after %d attempts: %w", retries+1, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, routingKey string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		if err := c.connect(); err != nil {
			return err
		}
	}

	return c.channel.PublishWithContext(
		ctx,
		c.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}
