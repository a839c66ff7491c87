// Package broker consumes OTLP payloads from a RabbitMQ stream queue.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultInactivityTimeout bounds a single consume call so the pipeline keeps
// making progress when the queue is idle.
const DefaultInactivityTimeout = 500 * time.Millisecond

// reconnectGate paces connection attempts: exponential from 1s up to 30s,
// reset on a successful connect.
type reconnectGate struct {
	bo   *backoff.ExponentialBackOff
	next time.Time
}

func newReconnectGate() *reconnectGate {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	bo.Reset()
	return &reconnectGate{bo: bo}
}

func (g *reconnectGate) Allow(now time.Time) bool {
	return !now.Before(g.next)
}

func (g *reconnectGate) Failure(now time.Time) time.Duration {
	wait := g.bo.NextBackOff()
	g.next = now.Add(wait)
	return wait
}

func (g *reconnectGate) Success() {
	g.bo.Reset()
	g.next = time.Time{}
}

// Source is a pull-based consumer of a RabbitMQ stream queue. It declares
// the queue idempotently, consumes from the first offset with manual acks
// and prefetch 1, and survives broker restarts by reconnecting with
// exponential backoff.
//
// Source is not safe for concurrent use; the pipeline drives it from a
// single goroutine.
type Source struct {
	url               string
	queue             string
	logger            *slog.Logger
	inactivityTimeout time.Duration

	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery

	gate *reconnectGate

	// attempted marks that at least one connection attempt has been made,
	// so later attempts count as reconnects even when the previous attempt
	// never produced a connection.
	attempted bool

	// OnReconnectAttempt, if set, is called before each connection attempt
	// that follows a failure. Used to count reconnects.
	OnReconnectAttempt func()

	// OnDecodeError, if set, is called for each message dropped as
	// undecodable.
	OnDecodeError func()
}

// NewSource builds a source for the given AMQP URL and stream queue name.
func NewSource(url, queue string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		url:               url,
		queue:             queue,
		logger:            logger,
		inactivityTimeout: DefaultInactivityTimeout,
		gate:              newReconnectGate(),
	}
}

func (s *Source) setup(ctx context.Context) {
	if s.conn != nil && !s.conn.IsClosed() {
		return
	}

	now := time.Now()
	if !s.gate.Allow(now) {
		return
	}

	if s.attempted && s.OnReconnectAttempt != nil {
		s.OnReconnectAttempt()
	}
	s.attempted = true

	s.logger.InfoContext(ctx, "Connecting to RabbitMQ",
		"queue", s.queue,
	)

	if err := s.connect(); err != nil {
		wait := s.gate.Failure(now)
		s.logger.ErrorContext(ctx, "Failed to set up RabbitMQ consumer",
			"queue", s.queue,
			"error", err,
			"retry_in", wait.String(),
		)
		s.teardown()
		return
	}

	s.gate.Success()
	s.logger.InfoContext(ctx, "RabbitMQ consumer ready", "queue", s.queue)
}

func (s *Source) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	s.channel = channel

	// Declare as a stream queue so a fresh broker does not NOT_FOUND us.
	// The declare is idempotent against an existing stream queue.
	_, err = channel.QueueDeclare(s.queue, true, false, false, false, amqp.Table{
		"x-queue-type": "stream",
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", s.queue, err)
	}

	// Stream queues require a prefetch with manual acks.
	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := channel.Consume(s.queue, "", false, false, false, false, amqp.Table{
		"x-stream-offset": "first",
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.queue, err)
	}
	s.deliveries = deliveries

	return nil
}

func (s *Source) teardown() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.channel = nil
	s.deliveries = nil
}

// NextBatch returns the next batch of decoded-valid JSON payloads. An empty
// batch means the inactivity timeout elapsed or the source is waiting out a
// reconnect backoff; malformed messages are dropped after acknowledgement.
func (s *Source) NextBatch(ctx context.Context) ([][]byte, error) {
	s.setup(ctx)
	if s.deliveries == nil {
		// Not connected; yield an empty batch so the caller keeps control.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.inactivityTimeout):
			return nil, nil
		}
	}

	timer := time.NewTimer(s.inactivityTimeout)
	defer timer.Stop()

	select {
	case delivery, ok := <-s.deliveries:
		if !ok {
			// Connection lost; reconnect on the next call.
			s.logger.WarnContext(ctx, "RabbitMQ delivery channel closed, resetting", "queue", s.queue)
			s.teardown()
			return nil, nil
		}

		// Ack immediately; stream queues ignore nack and reject.
		if err := delivery.Ack(false); err != nil {
			s.logger.WarnContext(ctx, "Failed to ack delivery", "queue", s.queue, "error", err)
		}

		if !json.Valid(delivery.Body) {
			s.logger.WarnContext(ctx, "Discarding non-JSON message", "queue", s.queue, "bytes", len(delivery.Body))
			if s.OnDecodeError != nil {
				s.OnDecodeError()
			}
			return nil, nil
		}
		return [][]byte{delivery.Body}, nil

	case <-timer.C:
		return nil, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run pumps payloads into out until ctx is cancelled.
func (s *Source) Run(ctx context.Context, out chan<- []byte) error {
	defer s.Close()

	for {
		batch, err := s.NextBatch(ctx)
		if err != nil {
			return err
		}
		for _, payload := range batch {
			select {
			case out <- payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close releases the broker connection.
func (s *Source) Close() {
	if s.conn != nil && !s.conn.IsClosed() {
		s.logger.Info("Closing RabbitMQ connection", "queue", s.queue)
	}
	s.teardown()
}
