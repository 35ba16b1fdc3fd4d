package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// Envelope is the JSON document published on the alert bus.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Alert      Alert     `json:"alert"`
}

const envelopeType = "nexusguard.alert.v1"

// BusSink publishes alerts to a RabbitMQ topic exchange with routing key
// "alert.<source>", for downstream consumers such as ticketing.
type BusSink struct {
	conn     *amqp091.Connection
	exchange string
	publish  func(ctx context.Context, key string, p amqp091.Publishing) error
	logger   *pkgLogger.Logger
}

// NewBusSink dials url and declares the exchange. An empty url returns a
// disabled sink.
func NewBusSink(url, exchange string, logger *pkgLogger.Logger) (*BusSink, error) {
	s := &BusSink{exchange: exchange, logger: logger.WithComponent("alert-bus")}
	if url == "" {
		return s, nil
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial alert bus")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to open alert bus channel")
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to declare exchange %s", exchange)
	}

	s.conn = conn
	s.publish = s.publishOnChannel
	return s, nil
}

func (s *BusSink) Name() string  { return "bus" }
func (s *BusSink) Enabled() bool { return s.publish != nil }

func (s *BusSink) Send(ctx context.Context, a Alert) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       envelopeType,
		OccurredAt: a.DetectedAt,
		Alert:      a,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode alert envelope")
	}

	key := "alert." + a.Source
	err = s.publish(ctx, key, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.ID,
		Type:         envelopeType,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish alert")
	}
	s.logger.Debug("published", slog.String("key", key), slog.String("exchange", s.exchange))
	return nil
}

func (s *BusSink) publishOnChannel(ctx context.Context, key string, p amqp091.Publishing) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx, s.exchange, key, false, false, p)
}

// Close closes the bus connection, if any.
func (s *BusSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
