package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// publishTimeout bounds a single publish so a stuck broker cannot hold up a
// request.
const publishTimeout = 5 * time.Second

const reconnectDelay = 5 * time.Second

// RabbitMQ publishes events to a durable topic exchange, using the event
// kind as routing key.
type RabbitMQ struct {
	url      string
	exchange string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done chan struct{}
}

// NewRabbitMQ connects to the broker and declares the exchange.
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, channel, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}

	p := &RabbitMQ{
		url:      url,
		exchange: exchange,
		conn:     conn,
		channel:  channel,
		done:     make(chan struct{}),
	}
	go p.handleReconnect()

	log.Info().Str("exchange", exchange).Msg("RabbitMQ publisher initialized")
	return p, nil
}

func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to RabbitMQ: %w", err)
	}

	channel, err := openChannel(conn, exchange)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, channel, nil
}

// openChannel opens a channel on conn and declares the exchange on it.
func openChannel(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	return channel, nil
}

// Publish implements Publisher.
func (p *RabbitMQ) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.RLock()
	channel := p.channel
	p.mu.RUnlock()
	if channel == nil {
		return errors.New("RabbitMQ channel is not open")
	}

	err = channel.PublishWithContext(ctx,
		p.exchange, // exchange
		e.Kind,     // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    e.At,
			MessageId:    uuid.NewString(),
		},
	)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", e.Kind, err)
	}

	log.Debug().
		Str("routing_key", e.Kind).
		Str("item_id", e.ItemID).
		Int("body_size", len(body)).
		Msg("event published to RabbitMQ")
	return nil
}

// recovery is what the publisher does after a close notification.
type recovery int

const (
	recoverStop recovery = iota
	recoverChannel
	recoverConnection
)

// nextRecovery waits for the publisher to be closed or for the connection
// or channel to fail. A notification without an error is a deliberate close.
func nextRecovery(done <-chan struct{}, connClosed, chanClosed <-chan *amqp.Error) (recovery, *amqp.Error) {
	select {
	case <-done:
		return recoverStop, nil
	case err, ok := <-connClosed:
		if !ok || err == nil {
			return recoverStop, nil
		}
		return recoverConnection, err
	case err, ok := <-chanClosed:
		if !ok || err == nil {
			return recoverStop, nil
		}
		return recoverChannel, err
	}
}

// handleReconnect keeps the publisher usable until Close is called. Channel
// errors reopen the channel on the live connection; a lost connection is
// redialed.
func (p *RabbitMQ) handleReconnect() {
	for {
		p.mu.RLock()
		conn := p.conn
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		p.mu.RUnlock()

		if !p.superviseChannel(conn, connClosed) {
			return
		}

		p.mu.Lock()
		p.channel = nil
		p.mu.Unlock()
		if !conn.IsClosed() {
			conn.Close()
		}

		if !p.redial() {
			return
		}
	}
}

// superviseChannel reopens the channel after channel-level errors. It
// returns true once the connection has to be redialed and false when the
// publisher is closed.
func (p *RabbitMQ) superviseChannel(conn *amqp.Connection, connClosed <-chan *amqp.Error) bool {
	for {
		p.mu.RLock()
		chanClosed := p.channel.NotifyClose(make(chan *amqp.Error, 1))
		p.mu.RUnlock()

		action, closeErr := nextRecovery(p.done, connClosed, chanClosed)
		switch action {
		case recoverStop:
			return false
		case recoverConnection:
			log.Error().Err(closeErr).Msg("RabbitMQ connection closed, reconnecting")
			return true
		}

		log.Warn().Err(closeErr).Msg("RabbitMQ channel closed, reopening")
		p.mu.Lock()
		p.channel = nil
		p.mu.Unlock()

		if conn.IsClosed() {
			return true
		}
		channel, err := openChannel(conn, p.exchange)
		if err != nil {
			log.Error().Err(err).Msg("reopening RabbitMQ channel, reconnecting")
			return true
		}

		p.mu.Lock()
		p.channel = channel
		p.mu.Unlock()
		log.Info().Msg("RabbitMQ channel reopened")
	}
}

// redial connects again after reconnectDelay until it succeeds. It reports
// false when the publisher is closed first.
func (p *RabbitMQ) redial() bool {
	for {
		select {
		case <-p.done:
			return false
		case <-time.After(reconnectDelay):
		}

		conn, channel, err := dial(p.url, p.exchange)
		if err != nil {
			log.Error().Err(err).Msg("reconnecting to RabbitMQ")
			continue
		}

		p.mu.Lock()
		select {
		case <-p.done:
			p.mu.Unlock()
			conn.Close()
			return false
		default:
		}
		p.conn = conn
		p.channel = channel
		p.mu.Unlock()

		log.Info().Msg("reconnected to RabbitMQ")
		return true
	}
}

// HealthCheck reports whether the broker connection is usable.
func (p *RabbitMQ) HealthCheck() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("RabbitMQ connection is closed")
	}
	if p.channel == nil {
		return errors.New("RabbitMQ channel is not open")
	}
	return nil
}

// Close stops reconnecting and closes the connection.
func (p *RabbitMQ) Close() error {
	close(p.done)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Error().Err(err).Msg("closing RabbitMQ channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("closing RabbitMQ connection: %w", err)
		}
	}
	log.Info().Msg("RabbitMQ publisher closed")
	return nil
}
