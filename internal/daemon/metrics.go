package daemon

import (
	"sync"
)

type Metrics struct {
	FilesDiscovered    int
	FilesTailed        int
	FilesFailed        int
	FilesSkipped       int
	QueuedFiles        int
	FilesQueueCapacity int
	WorkersBusy        int
	LinesRead          int
	mu                 sync.RWMutex
}

func (m *Metrics) IncFilesDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesDiscovered++
}

func (m *Metrics) IncFilesTailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesTailed++
}

func (m *Metrics) IncFilesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesFailed++
}

func (m *Metrics) IncFilesSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesSkipped++
}

func (m *Metrics) IncQueuedFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedFiles++
}

func (m *Metrics) DecQueuedFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedFiles--
}

func (m *Metrics) IncWorkersBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersBusy++
}

func (m *Metrics) DecWorkersBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersBusy--
}

func (m *Metrics) IncLinesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesRead++
}

// Snapshot returns a copy that is safe to read without locking.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		FilesDiscovered:    m.FilesDiscovered,
		FilesTailed:        m.FilesTailed,
		FilesFailed:        m.FilesFailed,
		FilesSkipped:       m.FilesSkipped,
		QueuedFiles:        m.QueuedFiles,
		FilesQueueCapacity: m.FilesQueueCapacity,
		WorkersBusy:        m.WorkersBusy,
		LinesRead:          m.LinesRead,
	}
}

func (m *Metrics) QueueUsage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FilesQueueCapacity == 0 {
		return 0
	}
	return float64(m.QueuedFiles) / float64(m.FilesQueueCapacity)
}
