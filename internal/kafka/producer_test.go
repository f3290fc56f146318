package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lms-api/internal/domain"
	"github.com/spec-kit/lms-api/internal/events"
)

type recordingWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerSendEncodesEvent(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, nil)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Send(context.Background(), events.Event{
		ID:        "evt-1",
		Type:      events.EventAccessDenied,
		Actor:     events.Actor{SubjectID: "u-1", Role: domain.RoleStudent, IP: "10.0.0.1"},
		Timestamp: ts,
		Payload:   events.AccessDeniedPayload{Resource: "course_material", CourseID: "c-1", Reason: "enrollment_inactive"},
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "u-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "access_denied", string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "evt-1", decoded["id"])
	assert.Equal(t, "access_denied", decoded["event_type"])
	assert.Equal(t, "2024-03-01T12:00:00Z", decoded["timestamp"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "c-1", payload["course_id"])

	p.Close()
	assert.True(t, w.closed)
}

func TestProducerKeysAnonymousEventsByIP(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, nil)

	require.NoError(t, p.Send(context.Background(), events.Event{
		Type:  events.EventRolePromoted,
		Actor: events.Actor{IP: "192.0.2.4"},
	}))
	assert.Equal(t, "192.0.2.4", string(w.messages[0].Key))
}
