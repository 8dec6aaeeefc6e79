// Package tracker buffers location fixes on the device and uploads them to
// the TrekMate API in batches. Batching keeps the radio quiet on the trail:
// fixes accumulate locally and go out either when the buffer is full or on a
// periodic flush, whichever comes first.
package tracker

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"trekmate/internal/types"
)

// DefaultMaxChunkSize is the maximum number of fixes per upload request.
// Buffers exceeding this are split into multiple chunks.
const DefaultMaxChunkSize = 100

// DefaultMaxBuffered bounds the local buffer while the network is down.
// When full, the oldest fixes are dropped first; a fresh fix is always worth
// more than a stale one.
const DefaultMaxBuffered = 1000

// Sink receives upload batches. Implementations must respect ctx.Done() so a
// flush aborts cleanly on shutdown.
type Sink interface {
	UploadLocations(ctx context.Context, trekID string, batchID string, points []types.LocationPoint) error
}

// UploaderConfig holds the tunables for one upload loop.
type UploaderConfig struct {
	// TrekID is the active trek the fixes belong to.
	TrekID string
	// FlushSize triggers an immediate flush when the buffer reaches it.
	FlushSize int
	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration
	// MaxChunkSize caps fixes per request. Zero means DefaultMaxChunkSize.
	MaxChunkSize int
	// MaxBuffered caps the local buffer. Zero means DefaultMaxBuffered.
	MaxBuffered int

	Sink   Sink
	Logger *slog.Logger
}

// Uploader accumulates location fixes and flushes them to the Sink. It is
// safe for concurrent use; a single background goroutine handles the
// periodic flush.
type Uploader struct {
	cfg    UploaderConfig
	logger *slog.Logger

	mu     sync.Mutex
	buf    []types.LocationPoint
	closed bool

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewUploader creates an Uploader. Start must be called before fixes flow.
func NewUploader(cfg UploaderConfig) *Uploader {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultMaxBuffered
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		cfg:     cfg,
		logger:  logger,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (u *Uploader) Start(ctx context.Context) {
	u.wg.Add(1)
	go u.run(ctx)
}

// Stop flushes the remaining buffer and stops the loop. It blocks until the
// final flush attempt completes.
func (u *Uploader) Stop() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	u.mu.Unlock()

	close(u.done)
	u.wg.Wait()
}

// Record appends a fix to the buffer, dropping the oldest fix when the
// buffer is at capacity. Reaching FlushSize schedules an immediate flush.
func (u *Uploader) Record(p types.LocationPoint) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	if len(u.buf) >= u.cfg.MaxBuffered {
		u.buf = u.buf[1:]
		u.logger.Warn("location buffer full, dropping oldest fix", "trek_id", u.cfg.TrekID)
	}
	u.buf = append(u.buf, p)
	full := u.cfg.FlushSize > 0 && len(u.buf) >= u.cfg.FlushSize
	u.mu.Unlock()

	if full {
		select {
		case u.flushCh <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the number of fixes waiting for upload.
func (u *Uploader) Buffered() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buf)
}

func (u *Uploader) run(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			u.flush(ctx)
		case <-u.flushCh:
			u.flush(ctx)
		case <-u.done:
			// Final drain with a bounded deadline so shutdown cannot hang
			// on a dead network.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			u.flush(drainCtx)
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// flush takes the whole buffer and uploads it in MaxChunkSize chunks. Every
// chunk of one flush shares a batch ID so the server can correlate them. On
// failure the unsent fixes go back to the front of the buffer for the next
// attempt.
func (u *Uploader) flush(ctx context.Context) {
	u.mu.Lock()
	if len(u.buf) == 0 {
		u.mu.Unlock()
		return
	}
	pending := u.buf
	u.buf = nil
	u.mu.Unlock()

	batchID := uuid.New().String()
	chunks := int(math.Ceil(float64(len(pending)) / float64(u.cfg.MaxChunkSize)))

	for c := 0; c < chunks; c++ {
		lo := c * u.cfg.MaxChunkSize
		hi := lo + u.cfg.MaxChunkSize
		if hi > len(pending) {
			hi = len(pending)
		}
		if err := u.cfg.Sink.UploadLocations(ctx, u.cfg.TrekID, batchID, pending[lo:hi]); err != nil {
			u.logger.Warn("location upload failed, re-buffering",
				"trek_id", u.cfg.TrekID,
				"batch_id", batchID,
				"pending", len(pending)-lo,
				"error", err,
			)
			u.requeue(pending[lo:])
			return
		}
	}

	u.logger.Debug("location batch uploaded",
		"trek_id", u.cfg.TrekID,
		"batch_id", batchID,
		"fixes", len(pending),
		"chunks", chunks,
	)
}

// requeue puts unsent fixes back ahead of anything recorded during the
// flush, preserving chronological order, then re-applies the buffer cap.
func (u *Uploader) requeue(unsent []types.LocationPoint) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.buf = append(append([]types.LocationPoint{}, unsent...), u.buf...)
	if over := len(u.buf) - u.cfg.MaxBuffered; over > 0 {
		u.buf = u.buf[over:]
	}
}
