package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventPublisher announces committed measure changes
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event interface{}) error
}

// amqpChannel is the subset of *amqp.Channel the publisher needs
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// MeasureCreatedEvent is published after a reading has been stored
type MeasureCreatedEvent struct {
	MeasureUUID     string    `json:"measure_uuid"`
	CustomerCode    string    `json:"customer_code"`
	MeasureType     string    `json:"measure_type"`
	MeasureDatetime time.Time `json:"measure_datetime"`
	InitialValue    float64   `json:"initial_value"`
	ImageURL        string    `json:"image_url"`
}

// MeasureConfirmedEvent is published after a reading has been confirmed
type MeasureConfirmedEvent struct {
	MeasureUUID      string    `json:"measure_uuid"`
	CustomerCode     string    `json:"customer_code"`
	MeasureType      string    `json:"measure_type"`
	PreviousValue    float64   `json:"previous_value"`
	ConfirmedValue   float64   `json:"confirmed_value"`
	ConfirmedBy      string    `json:"confirmed_by"`
	ConfirmationDate time.Time `json:"confirmation_date"`
}

// Publisher handles event publishing to RabbitMQ
type Publisher struct {
	mu       sync.Mutex
	channel  amqpChannel
	exchange string
	logger   *zap.Logger
}

// NewPublisher opens a channel and declares the events exchange
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return newPublisher(ch, exchange, logger)
}

func newPublisher(ch amqpChannel, exchange string, logger *zap.Logger) (*Publisher, error) {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends event as a persistent JSON message
func (p *Publisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published measure event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// NopPublisher drops every event. Used when RABBITMQ_URL is empty.
type NopPublisher struct{}

// Publish implements EventPublisher
func (NopPublisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	return nil
}
