package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pattern-persistence/internal/eventstream"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(Config{Topic: "pps"})
	assert.Error(t, err)

	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "pps"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestPublishEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "pps")

	ev := eventstream.NewEvent(eventstream.EventTypeCrystalCreated, "alpha")
	ev.Crystal = &eventstream.CrystalMeta{ID: "abc", StartSeq: 1, EndSeq: 50, Slot: 1}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "alpha", string(w.msgs[0].Key))
	assert.Equal(t, eventstream.EventTypeCrystalCreated, string(w.msgs[0].Headers[0].Value))

	var got eventstream.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, int64(50), got.Crystal.EndSeq)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	p := newPublisher(&fakeWriter{err: errors.New("broker down")}, "pps")

	assert.ErrorIs(t, p.Publish(context.Background(), nil), eventstream.ErrNilEvent)

	err := p.Publish(context.Background(), eventstream.NewEvent(eventstream.EventTypePassUnhealthy, ""))
	assert.ErrorContains(t, err, "broker down")
}
