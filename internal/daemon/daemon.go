package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/bootlog/internal/logging"
)

type Config struct {
	LogRootPath   string
	Pattern       string // matched against the file name, default "*.log"
	ScanInterval  time.Duration
	Workers       int
	FileQueueSize int
	NodeName      string
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	MetricsInterval time.Duration
}

// TailService discovers log files under a root directory and tails each of
// them on a fixed pool of workers, appending every line to an EventSink.
type TailService struct {
	config        Config
	sink          logging.EventSink
	logger        *zap.Logger
	fileQueue     chan string
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *Metrics
	stopOnce      sync.Once

	activeMu sync.Mutex
	active   map[string]struct{}

	seenFiles map[string]struct{}
}

func NewTailService(ctx context.Context, config Config, sink logging.EventSink, logger *zap.Logger) *TailService {
	if config.Pattern == "" {
		config.Pattern = "*.log"
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.FileQueueSize <= 0 {
		config.FileQueueSize = config.Workers
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nCtx, cancel := context.WithCancel(ctx)
	return &TailService{
		config:    config,
		sink:      sink,
		logger:    logger,
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		metrics: &Metrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		active:    make(map[string]struct{}),
		seenFiles: make(map[string]struct{}),
	}
}

func (s *TailService) Start() {
	s.logger.Info("Starting tail service",
		zap.String("root", s.config.LogRootPath),
		zap.String("pattern", s.config.Pattern),
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.FileQueueSize))

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
	}

	s.subServicesWg.Add(2)
	go s.scanner()
	go s.metricsReporter()
}

func (s *TailService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping tail service")
		s.cancel()

		s.subServicesWg.Wait()
		close(s.fileQueue)
		s.workersWg.Wait()

		s.logger.Info("Tail service stopped", zap.Int("lines_read", s.metrics.Snapshot().LinesRead))
	})
}

func (s *TailService) Metrics() Metrics {
	return s.metrics.Snapshot()
}

func (s *TailService) worker(id int) {
	defer s.workersWg.Done()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecQueuedFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(s.ctx, filePath)
			s.metrics.DecWorkersBusy()
			s.release(filePath)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailService) processFile(ctx context.Context, filePath string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("File processing panicked", zap.String("file", filePath), zap.Any("panic", r))
			s.metrics.IncFilesFailed()
		}
	}()

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.logger.Warn("Failed to tail file", zap.String("file", filePath), zap.Error(err))
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()
	s.metrics.IncFilesTailed()

	labels := s.extractLabels(filePath)
	checkTicker := time.NewTicker(time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line := <-t.Lines:
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.logger.Debug("Error reading line", zap.String("file", filePath), zap.Error(line.Err))
				continue
			}

			s.sink.Append(logging.LogEvent{
				Timestamp: line.Time,
				Level:     parseLevel(line.Text),
				Logger:    "tail",
				Message:   line.Text,
				Labels:    labels,
			})
			s.metrics.IncLinesRead()
			lastActivity = time.Now()

		case <-checkTicker.C:
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.logger.Debug("Stopped idle file", zap.String("file", filePath))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *TailService) scanner() {
	defer s.subServicesWg.Done()

	s.scanFiles()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.logger.Warn("Error discovering log files", zap.Error(err))
		return
	}

	for _, file := range files {
		if _, ok := s.seenFiles[file]; !ok {
			s.metrics.IncFilesDiscovered()
			s.seenFiles[file] = struct{}{}
		}
		if !s.claim(file) {
			continue
		}

		select {
		case s.fileQueue <- file:
			s.metrics.IncQueuedFiles()
		case <-s.ctx.Done():
			s.release(file)
			return
		default:
			s.release(file)
			s.metrics.IncFilesSkipped()
			s.logger.Debug("File queue full, skipping file",
				zap.String("file", file),
				zap.Int("queued", len(s.fileQueue)),
				zap.Int("capacity", cap(s.fileQueue)))
		}
	}
}

// claim marks file as queued or being tailed; it fails if it already is.
func (s *TailService) claim(file string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, ok := s.active[file]; ok {
		return false
	}
	s.active[file] = struct{}{}
	return true
}

func (s *TailService) release(file string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, file)
}

func (s *TailService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := s.metrics.Snapshot()
			s.logger.Info("Tail metrics",
				zap.Int("workers", s.config.Workers),
				zap.Int("workers_busy", m.WorkersBusy),
				zap.Int("queued", m.QueuedFiles),
				zap.Int("queue_usage_pct", int(s.metrics.QueueUsage()*100)),
				zap.Int("files_discovered", m.FilesDiscovered),
				zap.Int("files_tailed", m.FilesTailed),
				zap.Int("files_failed", m.FilesFailed),
				zap.Int("lines_read", m.LinesRead))

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.Debug("Error accessing path", zap.String("path", path), zap.Error(err))
			return nil
		}

		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(s.config.Pattern, info.Name()); ok {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

// extractLabels reads Kubernetes pod metadata from paths shaped like
// /var/log/pods/<namespace>_<pod>_<uid>/<container>/<n>.log.
func (s *TailService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"file": filepath.Base(filePath),
	}
	if s.config.NodeName != "" {
		labels["node"] = s.config.NodeName
	}

	parts := strings.Split(filePath, "/")
	if len(parts) >= 5 {
		podParts := strings.Split(parts[4], "_")
		if len(podParts) >= 3 {
			labels["namespace"] = podParts[0]
			labels["pod"] = podParts[1]
			labels["pod_uid"] = podParts[2]
		}

		if len(parts) >= 6 {
			labels["container"] = parts[5]
		}
	}

	return labels
}

var levelMarkers = []struct {
	marker string
	level  zapcore.Level
}{
	{"fatal", zapcore.FatalLevel},
	{"panic", zapcore.PanicLevel},
	{"error", zapcore.ErrorLevel},
	{"warn", zapcore.WarnLevel},
	{"debug", zapcore.DebugLevel},
}

// parseLevel guesses the severity of a raw line; unknown lines are info.
func parseLevel(line string) zapcore.Level {
	lower := strings.ToLower(line)
	for _, m := range levelMarkers {
		if strings.Contains(lower, m.marker) {
			return m.level
		}
	}
	return zapcore.InfoLevel
}
