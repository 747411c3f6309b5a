package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/careguard/internal/config"
	"github.com/BradenHooton/careguard/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaEventReporter_Report(t *testing.T) {
	w := &fakeWriter{}
	r := NewKafkaEventReporterWithWriter(w, testLogger())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := r.Report(context.Background(), models.SecurityEvent{
		ID:        "evt-1",
		Type:      models.EventLoginFailed,
		Timestamp: at,
		Actor:     "ada@example.com",
		Payload:   models.LoginFailed{Identity: "ada@example.com", Reason: "invalid credentials"},
	})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "ada@example.com", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("LOGIN_FAILED")}}, msg.Headers)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "evt-1", decoded["id"])
	assert.Equal(t, "invalid credentials", decoded["details"].(map[string]any)["reason"])
}

func TestKafkaEventReporter_SystemEventKey(t *testing.T) {
	w := &fakeWriter{}
	r := NewKafkaEventReporterWithWriter(w, testLogger())

	require.NoError(t, r.Report(context.Background(), models.SecurityEvent{
		Type:    models.EventServiceUnhealthy,
		Payload: models.ServiceUnhealthy{Service: "redis", Error: "timeout"},
	}))

	require.Len(t, w.messages, 1)
	assert.Equal(t, "SERVICE_UNHEALTHY", string(w.messages[0].Key))
}

func TestKafkaEventReporter_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	r := NewKafkaEventReporterWithWriter(w, testLogger())

	err := r.Report(context.Background(), models.SecurityEvent{Type: models.EventAPICall, Payload: models.APICall{}})
	assert.ErrorContains(t, err, "leader not available")

	require.NoError(t, r.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaEventReporter_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaEventReporter(config.KafkaConfig{EventsTopic: "security-events"}, testLogger())
	assert.Error(t, err)

	_, err = NewKafkaEventReporter(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, testLogger())
	assert.Error(t, err)

	r, err := NewKafkaEventReporter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, EventsTopic: "security-events"}, testLogger())
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return client, server
}

func TestRedisAlertPublisher_Publish(t *testing.T) {
	client, _ := newTestRedis(t)
	p := NewRedisAlertPublisher(client, "", testLogger())
	assert.Equal(t, DefaultAlertChannel, p.Channel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, p.Channel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p.Publish(models.Alert{
		ID:       "alert-1",
		ThreatID: "threat-1",
		Type:     models.ThreatBruteForce,
		Severity: models.SeverityHigh,
		Status:   models.AlertActive,
		Actions:  models.RecommendedActions(models.SeverityHigh),
	})

	select {
	case msg := <-sub.Channel():
		var got models.Alert
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "alert-1", got.ID)
		assert.Equal(t, models.ThreatBruteForce, got.Type)
	case <-ctx.Done():
		t.Fatal("alert was not published")
	}
}

func TestRedisAlertPublisher_Ping(t *testing.T) {
	client, server := newTestRedis(t)
	p := NewRedisAlertPublisher(client, "alerts", testLogger())

	require.NoError(t, p.Ping(context.Background()))

	server.Close()
	assert.Error(t, p.Ping(context.Background()))
	assert.Error(t, p.PublishContext(context.Background(), models.Alert{ID: "alert-2"}))
}
