package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"boardhub/internal/metrics"
	"boardhub/pkg/interfaces"
	"boardhub/pkg/types"
)

var (
	ErrWriterAlreadyRunning = errors.New("status writer is already running")
	ErrWriterNotRunning     = errors.New("status writer is not running")
)

// Writer persists online/offline presence off the real-time path.
// FUNCTIONAL DISCOVERY: Online and Offline never block; a full queue drops
// the update and logs it, since the next transition overwrites it anyway
type Writer struct {
	sinks        []interfaces.StatusSink
	queue        chan types.StatusUpdate
	writeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	wg      sync.WaitGroup
	stop    chan struct{}
	running bool
	mu      sync.Mutex
}

// NewWriter creates a stopped writer over sinks.
func NewWriter(queueSize int, writeTimeout time.Duration, logger *zap.Logger, sinks ...interfaces.StatusSink) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		sinks:        sinks,
		queue:        make(chan types.StatusUpdate, queueSize),
		writeTimeout: writeTimeout,
		logger:       logger,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrWriterAlreadyRunning
	}
	w.running = true

	w.wg.Add(1)
	go w.run(ctx)

	names := make([]string, 0, len(w.sinks))
	for _, s := range w.sinks {
		names = append(names, s.Name())
	}
	w.logger.Info("Status writer started", zap.Strings("sinks", names))
	return nil
}

// Stop flushes queued updates and waits for the drain goroutine.
func (w *Writer) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return ErrWriterNotRunning
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Status writer stopped")
	return nil
}

// Online records that userID is present in whiteboardID.
func (w *Writer) Online(whiteboardID, userID string) {
	w.enqueue(whiteboardID, userID, types.StatusOnline)
}

// Offline records that userID has no connection left in whiteboardID.
func (w *Writer) Offline(whiteboardID, userID string) {
	w.enqueue(whiteboardID, userID, types.StatusOffline)
}

func (w *Writer) enqueue(whiteboardID, userID, status string) {
	update := types.StatusUpdate{
		WhiteboardID: whiteboardID,
		UserID:       userID,
		Status:       status,
		At:           w.now(),
	}
	select {
	case w.queue <- update:
	default:
		w.logger.Warn("Status queue full, dropping update",
			zap.String("whiteboard_id", whiteboardID),
			zap.String("user_id", userID),
			zap.String("status", status))
		metrics.StatusWriteFailure("queue")
	}
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case update := <-w.queue:
			w.write(ctx, update)
		case <-w.stop:
			w.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Writer) drain(ctx context.Context) {
	for {
		select {
		case update := <-w.queue:
			w.write(ctx, update)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, update types.StatusUpdate) {
	for _, sink := range w.sinks {
		writeCtx, cancel := ctx, context.CancelFunc(func() {})
		if w.writeTimeout > 0 {
			writeCtx, cancel = context.WithTimeout(ctx, w.writeTimeout)
		}
		err := sink.WriteStatus(writeCtx, update)
		cancel()

		if err != nil {
			metrics.StatusWriteFailure(sink.Name())
			w.logger.Warn("Status write failed",
				zap.String("sink", sink.Name()),
				zap.String("whiteboard_id", update.WhiteboardID),
				zap.String("user_id", update.UserID),
				zap.String("status", update.Status),
				zap.Error(err))
		}
	}
}
