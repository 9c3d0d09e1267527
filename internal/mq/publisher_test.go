package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeChannel struct {
	declareErr error
	publishErr error
	declared   []string
	messages   []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{exchange: exchange, routingKey: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newPublisher(ch, "meter-reading.events.exchange", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"meter-reading.events.exchange:topic"}, ch.declared)

	event := MeasureCreatedEvent{
		MeasureUUID:     "3f1c8c1e-5d7a-4f55-9f7e-0d8f0b7a8c11",
		CustomerCode:    "CUST001",
		MeasureType:     "WATER",
		MeasureDatetime: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		InitialValue:    123.45,
		ImageURL:        "https://storage.example.com/3f1c8c1e-5d7a-4f55-9f7e-0d8f0b7a8c11.jpg",
	}

	require.NoError(t, publisher.Publish(context.Background(), "measure.created", event))

	require.Len(t, ch.messages, 1)
	msg := ch.messages[0]
	assert.Equal(t, "meter-reading.events.exchange", msg.exchange)
	assert.Equal(t, "measure.created", msg.routingKey)
	assert.Equal(t, "application/json", msg.msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.msg.DeliveryMode)
	assert.NotEmpty(t, msg.msg.MessageId)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.msg.Body, &decoded))
	assert.Equal(t, "CUST001", decoded["customer_code"])
	assert.Equal(t, 123.45, decoded["initial_value"])
}

func TestPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	publisher, err := newPublisher(ch, "events", zap.NewNop())
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), "measure.confirmed", MeasureConfirmedEvent{})
	assert.ErrorContains(t, err, "channel closed")
}

func TestPublisher_DeclareFailureClosesChannel(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}

	_, err := newPublisher(ch, "events", zap.NewNop())

	assert.Error(t, err)
	assert.True(t, ch.closed)
}

func TestNopPublisher(t *testing.T) {
	var publisher EventPublisher = NopPublisher{}
	assert.NoError(t, publisher.Publish(context.Background(), "measure.created", MeasureCreatedEvent{}))
}
