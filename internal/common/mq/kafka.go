package mq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-ts"
)

// KafkaConfig defines configuration for the Kafka producer.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaProducer implements Producer using Kafka.
type KafkaProducer struct {
	config KafkaConfig
	writer *kafka.Writer

	mu     sync.Mutex
	closed bool
}

// NewKafkaProducer creates a Kafka-backed producer.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	transport := &kafka.Transport{
		DialTimeout: cfg.DialTimeout,
		ClientID:    cfg.ClientID,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  cfg.Compression,
		Transport:    transport,
	}

	return &KafkaProducer{config: cfg, writer: writer}, nil
}

// Publish publishes a message to the specified topic.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if message == nil {
		return errors.New("message is required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("producer is closed")
	}
	p.mu.Unlock()

	return p.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// Ping verifies the broker connection by requesting cluster metadata.
func (p *KafkaProducer) Ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Brokers()
	return err
}

// Close closes the producer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

func toKafkaMessage(topic string, m *Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers)+2)
	if m.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(m.ID)})
	}
	if !m.Timestamp.IsZero() {
		headers = append(headers, kafka.Header{
			Key:   headerTimestamp,
			Value: []byte(m.Timestamp.UTC().Format(time.RFC3339Nano)),
		})
	}
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.ID),
		Value:   m.Body,
		Headers: headers,
	}
}
