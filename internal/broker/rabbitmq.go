// Package broker wraps the RabbitMQ connections: a classic channel for the
// offline-push fanout exchange and a stream environment for the event
// archive. Both are optional; the process runs without a broker.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"comm_core/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	streamamqp "github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

const (
	ExchangePush = "comm.push"

	pushQueue = "push_notifications"
)

type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	StreamEnv *stream.Environment
}

// NewClient connects to RabbitMQ and declares the push exchange. streamURI
// may be empty, in which case the stream environment stays nil and the
// event archive is disabled.
func NewClient(amqpURL, streamURI string) (*Client, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangePush, // name
		"fanout",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare push exchange: %w", err)
	}

	c := &Client{conn: conn, channel: ch}

	if streamURI != "" {
		env, err := stream.NewEnvironment(stream.NewEnvironmentOptions().SetUri(streamURI))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream environment: %w", err)
		}
		c.StreamEnv = env
	}

	return c, nil
}

func (c *Client) Close() {
	if c.StreamEnv != nil {
		c.StreamEnv.Close()
	}
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// PushNotification is the payload handed to the push worker for a user with
// no live connection.
type PushNotification struct {
	UserID  int64           `json:"user_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PublishPush hands an event for an offline user to the push exchange.
func (c *Client) PublishPush(ctx context.Context, userID int64, name string, payload any) error {
	inner, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}
	body, err := json.Marshal(PushNotification{UserID: userID, Event: name, Payload: inner})
	if err != nil {
		return fmt.Errorf("failed to marshal push notification: %w", err)
	}

	return c.channel.PublishWithContext(ctx,
		ExchangePush,
		fmt.Sprintf("user.%d", userID), // routing key (informational on a fanout)
		false,                          // mandatory
		false,                          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// ConsumePushQueue binds the durable push queue to the exchange and starts
// consuming it.
func (c *Client) ConsumePushQueue() (<-chan amqp.Delivery, error) {
	q, err := c.channel.QueueDeclare(
		pushQueue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare push queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, "#", ExchangePush, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind push queue: %w", err)
	}

	return c.channel.Consume(q.Name, "", true, false, false, false, nil)
}

// StreamSink appends lifecycle events to a RabbitMQ stream for audit/replay
// consumers. Appends are best-effort; the caller logs failures and moves on.
type StreamSink struct {
	producer *stream.Producer
}

func NewStreamSink(c *Client, streamName string) (*StreamSink, error) {
	if c.StreamEnv == nil {
		return nil, fmt.Errorf("stream environment not configured")
	}

	err := c.StreamEnv.DeclareStream(streamName,
		stream.NewStreamOptions().SetMaxLengthBytes(stream.ByteCapacity{}.GB(2)))
	if err != nil {
		return nil, fmt.Errorf("failed to declare stream: %w", err)
	}

	producer, err := c.StreamEnv.NewProducer(streamName, stream.NewProducerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}
	return &StreamSink{producer: producer}, nil
}

func (s *StreamSink) Append(_ context.Context, rec domain.EventRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}
	if err := s.producer.Send(streamamqp.NewMessage(body)); err != nil {
		return fmt.Errorf("failed to append to stream: %w", err)
	}
	return nil
}

func (s *StreamSink) Close() error {
	return s.producer.Close()
}
