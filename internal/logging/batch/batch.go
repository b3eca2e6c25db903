package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Chichichkin/bootlog/internal/logging"
)

// Processor groups events into batches and hands them to a BatchSender from
// a single goroutine. Batches are cut by size or by BatchTimeout.
type Processor struct {
	ctx        context.Context
	stopCtx    context.CancelFunc
	sender     logging.BatchSender
	config     logging.BatchConfig
	logger     *zap.Logger
	batch      []logging.LogEvent
	batchMutex sync.Mutex
	batchChan  chan []logging.LogEvent
	wg         sync.WaitGroup
	stopOnce   sync.Once

	sentEvents    atomic.Uint64
	failedEvents  atomic.Uint64
	droppedEvents atomic.Uint64
}

type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

func NewBatchProcessor(ctx context.Context, sender logging.BatchSender, config logging.BatchConfig, logger *zap.Logger) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nCtx, cancel := context.WithCancel(ctx)
	return &Processor{
		ctx:       nCtx,
		stopCtx:   cancel,
		sender:    sender,
		config:    config,
		logger:    logger,
		batchChan: make(chan []logging.LogEvent, config.QueueSize),
	}
}

func (bp *Processor) Append(event logging.LogEvent) {
	bp.batchMutex.Lock()
	defer bp.batchMutex.Unlock()

	bp.batch = append(bp.batch, event)
	if len(bp.batch) >= bp.config.BatchSize {
		bp.flushBatch()
	}
}

// Consume adapts the processor to a dispatcher consumer.
func (bp *Processor) Consume(event logging.LogEvent) error {
	bp.Append(event)
	return nil
}

func (bp *Processor) Start() {
	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.processBatches()
}

// Stop ends the background goroutines and sends whatever is still pending
// from the calling goroutine.
func (bp *Processor) Stop() {
	bp.stopOnce.Do(func() {
		bp.stopCtx()
		bp.wg.Wait()

		bp.batchMutex.Lock()
		pending := bp.batch
		bp.batch = nil
		bp.batchMutex.Unlock()

	drain:
		for {
			select {
			case batch := <-bp.batchChan:
				bp.send(batch)
			default:
				break drain
			}
		}
		if len(pending) > 0 {
			bp.send(pending)
		}
	})
}

func (bp *Processor) Stats() Stats {
	return Stats{
		Sent:    bp.sentEvents.Load(),
		Failed:  bp.failedEvents.Load(),
		Dropped: bp.droppedEvents.Load(),
	}
}

func (bp *Processor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.batchMutex.Lock()
			bp.flushBatch()
			bp.batchMutex.Unlock()
		case <-bp.ctx.Done():
			return
		}
	}
}

func (bp *Processor) processBatches() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.batchChan:
			bp.send(batch)
		case <-bp.ctx.Done():
			return
		}
	}
}

func (bp *Processor) send(batch []logging.LogEvent) {
	if err := bp.sender.SendBatch(batch); err != nil {
		bp.failedEvents.Add(uint64(len(batch)))
		bp.logger.Error("Failed to send batch", zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	bp.sentEvents.Add(uint64(len(batch)))
}

// flushBatch requires batchMutex.
func (bp *Processor) flushBatch() {
	if len(bp.batch) == 0 {
		return
	}

	batchToSend := make([]logging.LogEvent, len(bp.batch))
	copy(batchToSend, bp.batch)
	bp.batch = bp.batch[:0]

	select {
	case bp.batchChan <- batchToSend:
		bp.logger.Debug("Queued batch for sending", zap.Int("events", len(batchToSend)))
	default:
		total := bp.droppedEvents.Add(uint64(len(batchToSend)))
		bp.logger.Warn("Batch queue full, dropping batch",
			zap.Int("events", len(batchToSend)),
			zap.Uint64("dropped_total", total))
	}
}
