package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes raw payloads to a topic
type Producer struct {
	w *kafka.Writer
}

// NewProducer creates a producer. Messages are spread over partitions by
// least bytes since payloads carry no natural key.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish writes the payloads, one message each
func (p *Producer) Publish(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(payloads))
	for i, v := range payloads {
		msgs[i] = kafka.Message{Value: v}
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close flushes pending writes
func (p *Producer) Close() error {
	return p.w.Close()
}

// TopicConfig describes a topic to create
type TopicConfig struct {
	Topic             string
	NumPartitions     int
	ReplicationFactor int
}

// CreateTopics creates topics through the cluster controller. Topics that
// already exist are left untouched.
func CreateTopics(ctx context.Context, brokers []string, configs ...TopicConfig) error {
	conn, err := dialAny(ctx, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find controller: %w", err)
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to connect to controller: %w", err)
	}
	defer ctrlConn.Close()

	topics := make([]kafka.TopicConfig, 0, len(configs))
	for _, c := range configs {
		topics = append(topics, kafka.TopicConfig{
			Topic:             c.Topic,
			NumPartitions:     c.NumPartitions,
			ReplicationFactor: c.ReplicationFactor,
		})
	}
	if err := ctrlConn.CreateTopics(topics...); err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	return nil
}
