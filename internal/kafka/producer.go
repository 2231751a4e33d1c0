// Package kafka publishes stored analyses to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/mbd888/accountcheck/internal/analysis"
)

// ErrNoBrokers is returned when the producer is built without seed brokers.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// PublishTimeout bounds a single Publish call, including broker retries.
const PublishTimeout = 5 * time.Second

// client is the subset of *kgo.Client the producer needs.
type client interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Producer writes analysis records to a topic, keyed by username so every
// record for an account lands on the same partition.
type Producer struct {
	client  client
	topic   string
	logger  *slog.Logger
	timeout time.Duration
}

// NewProducer connects a franz-go client to the given brokers.
func NewProducer(brokers []string, topic string, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("accountcheck"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(PublishTimeout),
		kgo.ProduceRequestTimeout(PublishTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newProducer(cl, topic, logger), nil
}

func newProducer(cl client, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{client: cl, topic: topic, logger: logger, timeout: PublishTimeout}
}

// Name implements analysis.Publisher.
func (p *Producer) Name() string { return "kafka" }

// Publish implements analysis.Publisher.
func (p *Producer) Publish(ctx context.Context, rec *analysis.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka publish: marshal: %w", err)
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(rec.Username),
		Value:     data,
		Timestamp: rec.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: "status", Value: []byte(rec.Result.Status)},
		},
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	p.logger.Debug("published analysis", "topic", p.topic, "username", rec.Username, "id", rec.ID)
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close releases the client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
