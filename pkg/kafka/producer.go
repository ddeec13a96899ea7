package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProspectEvent is a lifecycle event about a prospect record.
type ProspectEvent struct {
	EventType  string          `json:"event_type"` // prospect.merged, prospect.deleted
	RunID      string          `json:"run_id"`
	ProspectID int64           `json:"prospect_id"`
	SurvivorID int64           `json:"survivor_id,omitempty"`
	GroupKey   string          `json:"group_key"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Producer publishes prospect events to a single topic.
type Producer struct {
	writer Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter creates a producer around an existing writer.
func NewProducerWithWriter(writer Writer, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Topic returns the destination topic.
func (p *Producer) Topic() string {
	return p.topic
}

// PublishProspectEvents publishes events in one batch, keyed by prospect id so that events about
// the same record land on the same partition.
func (p *Producer) PublishProspectEvents(ctx context.Context, events []*ProspectEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishProspectEvents")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.Int("messaging.batch_size", len(events)),
	)

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		msg, err := buildMessage(ctx, event)
		if err != nil {
			tracing.Fail(span, err, fmt.Sprintf("failed to marshal event %d", i))
			return fmt.Errorf("failed to marshal event %d: %w", i, err)
		}
		messages[i] = msg
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		tracing.Fail(span, err, "failed to publish batch")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %d prospect events to Kafka topic %s", len(events), p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "batch published")
	p.logger.WithContext(ctx).Debugf("Published %d prospect events to Kafka", len(events))
	return nil
}

func buildMessage(ctx context.Context, event *ProspectEvent) (kafka.Message, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "run_id", Value: []byte(event.RunID)},
	}
	if traceID := tracing.TraceID(ctx); traceID != "" {
		headers = append(headers, kafka.Header{Key: "trace_id", Value: []byte(traceID)})
	}

	return kafka.Message{
		Key:     []byte(strconv.FormatInt(event.ProspectID, 10)),
		Value:   data,
		Headers: headers,
	}, nil
}
