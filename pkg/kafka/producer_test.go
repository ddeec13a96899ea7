package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logging"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}

func TestPublishProspectEvents(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "prospect-events", logging.Discard())

	err := p.PublishProspectEvents(context.Background(), []*ProspectEvent{
		{EventType: "prospect.merged", RunID: "r1", ProspectID: 42, SurvivorID: 7, GroupKey: "Acme"},
		{EventType: "prospect.deleted", RunID: "r1", ProspectID: 42, GroupKey: "Acme"},
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 2)

	msg := w.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "prospect.merged", string(msg.Headers[0].Value))

	var decoded ProspectEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(7), decoded.SurvivorID)
	assert.False(t, decoded.Timestamp.IsZero(), "timestamp is filled in")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishProspectEvents_Empty(t *testing.T) {
	w := &recordingWriter{err: errors.New("should not be called")}
	p := NewProducerWithWriter(w, "t", logging.Discard())

	assert.NoError(t, p.PublishProspectEvents(context.Background(), nil))
}

func TestPublishProspectEvents_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "t", logging.Discard())

	err := p.PublishProspectEvents(context.Background(), []*ProspectEvent{{EventType: "prospect.deleted", ProspectID: 1}})
	assert.EqualError(t, err, "broker down")
}

func TestNewProducer(t *testing.T) {
	p := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "prospect-events", Compression: "gzip"}, logging.Discard())

	assert.Equal(t, "prospect-events", p.Topic())
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.Gzip, w.Compression)
	assert.True(t, w.AllowAutoTopicCreation)
}
