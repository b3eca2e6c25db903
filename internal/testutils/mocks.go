package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/bootlog/internal/logging"
)

// MemorySink records appended events.
type MemorySink struct {
	mu          sync.Mutex
	Events      []logging.LogEvent
	AppendDelay time.Duration
}

func (m *MemorySink) Append(event logging.LogEvent) {
	if m.AppendDelay > 0 {
		time.Sleep(m.AppendDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

func (m *MemorySink) Snapshot() []logging.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.LogEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

type MockBatchSender struct {
	SentBatches [][]logging.LogEvent
	mu          sync.Mutex
	ShouldFail  bool
	Delay       time.Duration
}

func (m *MockBatchSender) SendBatch(events []logging.LogEvent) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return fmt.Errorf("mock send failed")
	}

	m.SentBatches = append(m.SentBatches, events)
	return nil
}

func (m *MockBatchSender) GetSentBatches() [][]logging.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SentBatches
}

func (m *MockBatchSender) TotalEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, b := range m.SentBatches {
		total += len(b)
	}
	return total
}

// Messages returns the messages of events in order.
func Messages(events []logging.LogEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Message
	}
	return out
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "log content 1\nline 2\n",
		"default_pod-1_uid123/container-2/app.log":          "log content 2\nerror log\n",
		"kube-system_pod-2_uid456/container/app.log":        "log content 3\ninfo message\n",
		"default_pod-3_uid789/container/app.log":            "log content 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
		"monitoring_pod-4_uid101/prometheus/config.yaml":    "scrape_interval: 15s\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
