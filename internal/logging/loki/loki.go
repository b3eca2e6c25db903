package loki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chichichkin/bootlog/internal/logging"
)

const pushPath = "/loki/api/v1/push"

type Config struct {
	URL          string
	MaxRetries   int
	NodeName     string
	InstanceID   string // defaults to a random UUID
	Timeout      time.Duration
	RetryBackoff time.Duration // multiplied by the attempt number
}

type Sender struct {
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	nodeName     string
	instanceID   string
	logger       *zap.Logger
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type Payload struct {
	Streams []Stream `json:"streams"`
}

func NewLokiSender(cfg Config, logger *zap.Logger) *Sender {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		nodeName:     cfg.NodeName,
		instanceID:   cfg.InstanceID,
		logger:       logger,
	}
}

func (ls *Sender) InstanceID() string {
	return ls.instanceID
}

func (ls *Sender) SendBatch(events []logging.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(ls.createPayload(events))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for i := 0; i < ls.maxRetries; i++ {
		err = ls.sendRequest(body)
		if err == nil {
			ls.logger.Debug("Sent batch to Loki", zap.Int("events", len(events)))
			return nil
		}

		if i < ls.maxRetries-1 {
			ls.logger.Warn("Retrying Loki push",
				zap.Int("attempt", i+1),
				zap.Int("max_retries", ls.maxRetries),
				zap.Error(err))
			time.Sleep(time.Duration(i+1) * ls.retryBackoff)
		}
	}

	return fmt.Errorf("failed to send batch after %d attempts: %w", ls.maxRetries, err)
}

func (ls *Sender) createPayload(events []logging.LogEvent) Payload {
	streams := make(map[string]*Stream)
	var order []string

	for _, event := range events {
		labels := ls.createLabels(event)
		key := streamKey(labels)
		stream, ok := streams[key]
		if !ok {
			stream = &Stream{Stream: labels, Values: [][2]string{}}
			streams[key] = stream
			order = append(order, key)
		}

		timestamp := fmt.Sprintf("%d", event.Timestamp.UnixNano())
		stream.Values = append(stream.Values, [2]string{timestamp, formatLine(event)})
	}

	payload := Payload{Streams: make([]Stream, 0, len(streams))}
	for _, key := range order {
		payload.Streams = append(payload.Streams, *streams[key])
	}
	return payload
}

func (ls *Sender) createLabels(event logging.LogEvent) map[string]string {
	labels := map[string]string{
		"job":      "bootlog-agent",
		"instance": ls.instanceID,
		"level":    event.Level.String(),
	}
	if ls.nodeName != "" {
		labels["node"] = ls.nodeName
	}
	if event.Logger != "" {
		labels["logger"] = event.Logger
	}

	for k, v := range event.Labels {
		labels[k] = v
	}
	return labels
}

func streamKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

// formatLine renders the message followed by sorted key=value fields.
func formatLine(event logging.LogEvent) string {
	if len(event.Fields) == 0 && event.Err == nil {
		return event.Message
	}

	var b strings.Builder
	b.WriteString(event.Message)

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, event.Fields[k])
	}
	if event.Err != nil {
		fmt.Fprintf(&b, " error=%q", event.Err.Error())
	}
	return b.String()
}

func (ls *Sender) sendRequest(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, ls.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := ls.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("loki returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	return nil
}
