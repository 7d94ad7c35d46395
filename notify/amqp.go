package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/hearth/dispatch"
	"github.com/Keksclan/hearth/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel used by [AMQPSender].
type Publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// AMQPConfig holds RabbitMQ connection settings for [DialAMQP].
type AMQPConfig struct {
	URL          string
	Exchange     string
	ExchangeType string
	Heartbeat    time.Duration
	DialAttempts int
	DialBackoff  time.Duration
}

// message is the JSON body published for each delivery.
type message struct {
	JobID        string         `json:"job_id"`
	UserID       string         `json:"user_id"`
	TemplateKey  string         `json:"template_key"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	Priority     int            `json:"priority"`
	PublishedAt  time.Time      `json:"published_at"`
}

// AMQPSender publishes deliveries to a RabbitMQ exchange. When the channel is
// in confirm mode a delivery only succeeds once the broker acks it.
type AMQPSender struct {
	pub      Publisher
	exchange string
	logger   *slog.Logger
	nowFunc  func() time.Time

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSender wraps an existing channel. The caller keeps ownership of it.
func NewAMQPSender(pub Publisher, exchange string, logger *slog.Logger) *AMQPSender {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AMQPSender{pub: pub, exchange: exchange, logger: logger, nowFunc: time.Now}
}

// DialAMQP connects to RabbitMQ, declares the exchange and puts the channel
// into confirm mode. Dialing is retried with exponential backoff.
func DialAMQP(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*AMQPSender, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeTopic
	}

	attempt := 0
	conn, err := retry.Do(ctx, retry.Config{
		MaxAttempts: max(cfg.DialAttempts, 1),
		BaseDelay:   cfg.DialBackoff,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}, func(context.Context) (*amqp.Connection, error) {
		attempt++
		logger.Info("connecting to rabbitmq", slog.Int("attempt", attempt))
		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Heartbeat: cfg.Heartbeat, Locale: "en_US"})
		if err != nil {
			logger.Warn("rabbitmq dial failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		}
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq after %d attempts: %w", attempt, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,     // name
		cfg.ExchangeType, // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	logger.Info("rabbitmq sender ready",
		slog.String("exchange", cfg.Exchange),
		slog.String("exchange_type", cfg.ExchangeType),
	)

	s := NewAMQPSender(ch, cfg.Exchange, logger)
	s.conn, s.ch = conn, ch
	return s, nil
}

// Send publishes d and waits for the broker confirmation.
func (s *AMQPSender) Send(ctx context.Context, d dispatch.Delivery) (dispatch.Result, error) {
	body, err := json.Marshal(message{
		JobID:        d.JobID,
		UserID:       d.UserID,
		TemplateKey:  d.TemplateKey,
		TemplateData: d.TemplateData,
		Priority:     d.Priority,
		PublishedAt:  s.nowFunc().UTC(),
	})
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("encode delivery: %w", err)
	}

	key := RoutingKey(d.TemplateKey)
	dc, err := s.pub.PublishWithDeferredConfirmWithContext(ctx,
		s.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    d.JobID,
			Timestamp:    s.nowFunc(),
			Body:         body,
		},
	)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("publish to %s: %w", key, err)
	}
	if dc == nil {
		// Channel not in confirm mode.
		return dispatch.Result{Success: true}, nil
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("await publisher confirm: %w", err)
	}
	if !acked {
		s.logger.Warn("broker nacked delivery", slog.String("job_id", d.JobID), slog.String("routing_key", key))
		return dispatch.Result{Success: false, Error: "broker nacked delivery"}, nil
	}
	return dispatch.Result{Success: true}, nil
}

// Close closes the channel and connection opened by [DialAMQP]. It is a
// no-op for senders built with [NewAMQPSender].
func (s *AMQPSender) Close() error {
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
