package loki

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/bootlog/internal/logging"
)

func testConfig(url string, retries int) Config {
	return Config{
		URL:          url,
		MaxRetries:   retries,
		NodeName:     "node-1",
		RetryBackoff: time.Millisecond,
	}
}

func TestLokiSender_SendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/loki/api/v1/push", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload Payload
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)

		if assert.Equal(t, 1, len(payload.Streams)) {
			assert.Equal(t, "test-pod", payload.Streams[0].Stream["pod"])
			assert.Equal(t, "node-1", payload.Streams[0].Stream["node"])
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewLokiSender(testConfig(server.URL+"/", 3), nil)

	events := []logging.LogEvent{
		{
			Timestamp: time.Now(),
			Message:   "test message 1",
			Labels:    map[string]string{"pod": "test-pod", "container": "test-container"},
		},
	}

	assert.NoError(t, sender.SendBatch(events))
	assert.NoError(t, sender.SendBatch(nil))
}

func TestLokiSender_SendBatch_Retry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewLokiSender(testConfig(server.URL, 3), nil)

	err := sender.SendBatch([]logging.LogEvent{{Timestamp: time.Now(), Message: "test message"}})
	assert.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestLokiSender_SendBatch_AllRetriesFail(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "ingester unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sender := NewLokiSender(testConfig(server.URL, 2), nil)

	err := sender.SendBatch([]logging.LogEvent{{Timestamp: time.Now(), Message: "test message"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingester unavailable")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestLokiSender_CreatePayload(t *testing.T) {
	sender := NewLokiSender(testConfig("http://test:3100", 3), nil)

	now := time.Now()
	events := []logging.LogEvent{
		{
			Timestamp: now,
			Message:   "message 1",
			Labels:    map[string]string{"pod": "pod-1", "container": "container-1"},
		},
		{
			Timestamp: now.Add(time.Second),
			Message:   "message 2",
			Labels:    map[string]string{"pod": "pod-1", "container": "container-1"},
		},
		{
			Timestamp: now.Add(2 * time.Second),
			Level:     zapcore.ErrorLevel,
			Message:   "message 3",
			Labels:    map[string]string{"pod": "pod-1", "container": "container-1"},
		},
		{
			Timestamp: now.Add(3 * time.Second),
			Message:   "message 4",
			Labels:    map[string]string{"pod": "pod-2", "container": "container-2"},
		},
	}

	payload := sender.createPayload(events)
	require.Equal(t, 3, len(payload.Streams))

	// streams keep first-seen order
	assert.Equal(t, "pod-1", payload.Streams[0].Stream["pod"])
	assert.Equal(t, "info", payload.Streams[0].Stream["level"])
	assert.Len(t, payload.Streams[0].Values, 2)
	assert.Equal(t, "error", payload.Streams[1].Stream["level"])
	assert.Equal(t, "pod-2", payload.Streams[2].Stream["pod"])
	assert.Len(t, payload.Streams[2].Values, 1)
}

func TestLokiSender_InstanceLabel(t *testing.T) {
	sender := NewLokiSender(testConfig("http://test:3100", 1), nil)
	_, err := uuid.Parse(sender.InstanceID())
	require.NoError(t, err)

	labels := sender.createLabels(logging.LogEvent{Logger: "boot"})
	assert.Equal(t, sender.InstanceID(), labels["instance"])
	assert.Equal(t, "boot", labels["logger"])
	assert.Equal(t, "bootlog-agent", labels["job"])

	fixed := NewLokiSender(Config{URL: "http://test", InstanceID: "agent-7"}, nil)
	assert.Equal(t, "agent-7", fixed.InstanceID())
}

func TestFormatLine(t *testing.T) {
	assert.Equal(t, "plain", formatLine(logging.LogEvent{Message: "plain"}))

	line := formatLine(logging.LogEvent{
		Message: "config loaded",
		Fields:  map[string]any{"path": "/etc/bootlog.toml", "attempt": 2},
		Err:     errors.New("partial"),
	})
	assert.Equal(t, `config loaded attempt=2 path=/etc/bootlog.toml error="partial"`, line)
}
