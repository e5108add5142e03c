package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	moodevents "workspace-mood-monitor/internal/mood/application/events"
	mood "workspace-mood-monitor/internal/mood/domain"
)

type stubWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error { return nil }

func TestPublisher_WritesRecordKeyedByRoom(t *testing.T) {
	writer := &stubWriter{}
	pub, err := NewPublisher(writer, nil)
	require.NoError(t, err)

	observed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := mood.MoodRecord{ParentPath: "/p", ContentID: "cin-1", Room: "room1", Desk: "desk1", Score: 81, Label: mood.LabelFocus, ObservedAt: observed}
	require.NoError(t, pub.HandleMoodScored(context.Background(), moodevents.MoodScored{EventID: "e1", Record: rec}))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "room1", string(msg.Key))
	assert.Equal(t, observed, msg.Time)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "e1", headers["event_id"])
	assert.Equal(t, "cin-1", headers["content_id"])
	assert.Contains(t, headers["event_type"], "MoodScored")

	var got mood.MoodRecord
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, 81, got.Score)
	assert.Equal(t, "cin-1", got.ContentID)
}

func TestPublisher_PropagatesWriteError(t *testing.T) {
	pub, err := NewPublisher(&stubWriter{err: errors.New("broker down")}, nil)
	require.NoError(t, err)
	err = pub.HandleMoodScored(context.Background(), &moodevents.MoodScored{Record: mood.MoodRecord{Room: "r"}})
	assert.ErrorContains(t, err, "broker down")
}

func TestPublisher_RejectsOtherEvents(t *testing.T) {
	pub, err := NewPublisher(&stubWriter{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, pub.HandleMoodScored(context.Background(), struct{}{}), moodevents.ErrUnexpectedEvent)
}

func TestNewWriter_RequiresBrokers(t *testing.T) {
	_, err := NewWriter(nil, "")
	assert.Error(t, err)

	w, err := NewWriter([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, w.Topic)
}
