// internal/ingest/writer.go
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/logging"
	"github.com/tamzrod/pzem-poller/internal/sink"
	"github.com/tamzrod/pzem-poller/internal/status"
)

// ErrBatchDropped is returned by Flush when the retry budget ran out.
var ErrBatchDropped = errors.New("ingest: batch dropped after retry budget")

// WriterConfig is the minimal runtime config the writer needs.
type WriterConfig struct {
	FlushInterval     time.Duration
	FinalFlushTimeout time.Duration
	Retry             RetryPolicy

	Measurement       string
	StatusMeasurement string // empty disables status points
	Tags              map[string]string
}

// Writer drains the Buffer into the sink.
// Exactly one batch is in flight at a time; the buffer keeps
// accumulating into a fresh batch meanwhile.
type Writer struct {
	cfg  WriterConfig
	buf  *Buffer
	sink sink.Writer
	emit events.Emitter
	log  *logging.Logger

	status func() []status.Snapshot
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	newID  func() string

	// flushMu serializes flushes and guards held.
	flushMu sync.Mutex
	held    *heldBatch
}

// heldBatch is a batch whose retries were interrupted by shutdown.
type heldBatch struct {
	id     string
	points []sink.Point
}

// NewWriter validates cfg.
func NewWriter(cfg WriterConfig, buf *Buffer, w sink.Writer, emit events.Emitter, log *logging.Logger) (*Writer, error) {
	if cfg.FlushInterval <= 0 {
		return nil, errors.New("ingest: flush interval must be > 0")
	}
	if cfg.FinalFlushTimeout <= 0 {
		return nil, errors.New("ingest: final flush timeout must be > 0")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, errors.New("ingest: retry max attempts must be >= 1")
	}
	if cfg.Retry.InitialDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		return nil, errors.New("ingest: retry delays must satisfy 0 < initial <= max")
	}
	if cfg.Measurement == "" {
		return nil, errors.New("ingest: measurement name required")
	}
	if buf == nil || w == nil {
		return nil, errors.New("ingest: buffer and sink required")
	}
	if emit == nil {
		emit = events.Nop{}
	}
	if log == nil {
		log = logging.Discard()
	}

	return &Writer{
		cfg:   cfg,
		buf:   buf,
		sink:  w,
		emit:  emit,
		log:   log.With("component", "ingest"),
		sleep: sleepCtx,
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// SetStatusSource adds device health points to every flush.
func (w *Writer) SetStatusSource(src func() []status.Snapshot) {
	w.status = src
}

// Run flushes on the timer or on the buffer threshold, whichever comes
// first, until ctx is done. Then it makes one final bounded flush.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finalFlush()
			return nil
		case <-ticker.C:
			_ = w.Flush(ctx)
		case <-w.buf.Ready():
			_ = w.Flush(ctx)
		}
	}
}

// Flush swaps the pending batch out and delivers it within the retry budget.
// It returns nil on success or when there was nothing to write,
// ErrBatchDropped when the budget ran out, or ctx's error when
// interrupted (the batch is then held for the final flush).
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	if w.held != nil {
		// shutdown already interrupted a batch; only finalFlush may write
		return ctx.Err()
	}

	points := w.collect()
	if len(points) == 0 {
		return nil
	}
	return w.deliver(ctx, w.newID(), points)
}

func (w *Writer) collect() []sink.Point {
	batch := w.buf.swap()
	points := make([]sink.Point, 0, len(batch))
	for _, m := range batch {
		points = append(points, MeasurementPoint(w.cfg.Measurement, w.cfg.Tags, m))
	}

	if w.status != nil && w.cfg.StatusMeasurement != "" {
		now := w.now()
		for _, s := range w.status() {
			points = append(points, StatusPoint(w.cfg.StatusMeasurement, w.cfg.Tags, s, now))
		}
	}
	return points
}

// deliver holds points across attempts. Caller holds flushMu.
func (w *Writer) deliver(ctx context.Context, id string, points []sink.Point) error {
	for attempt := 1; ; attempt++ {
		err := w.sink.Write(ctx, points)
		if err == nil {
			w.log.Debug().Str("batch_id", id).Int("points", len(points)).Int("attempt", attempt).Msg("batch flushed")
			w.emitBatch(events.FlushSucceeded, id, len(points), attempt, nil)
			return nil
		}

		w.log.Warn().
			Str("batch_id", id).
			Int("points", len(points)).
			Int("attempt", attempt).
			Int("max_attempts", w.cfg.Retry.MaxAttempts).
			Stringer("kind", sink.KindOf(err)).
			Err(err).
			Msg("batch flush failed")
		w.emitBatch(events.FlushFailed, id, len(points), attempt, err)

		if ctx.Err() != nil {
			// shutdown cut the attempt short; the final flush owns the batch now
			w.held = &heldBatch{id: id, points: points}
			return ctx.Err()
		}
		if attempt >= w.cfg.Retry.MaxAttempts {
			w.drop(id, len(points), attempt, err)
			return ErrBatchDropped
		}

		if serr := w.sleep(ctx, w.cfg.Retry.Delay(attempt)); serr != nil {
			w.held = &heldBatch{id: id, points: points}
			return serr
		}
	}
}

// finalFlush makes one attempt with whatever is held and pending.
func (w *Writer) finalFlush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	id := w.newID()
	var points []sink.Point
	if w.held != nil {
		id = w.held.id
		points = w.held.points
		w.held = nil
	}
	points = append(points, w.collect()...)
	if len(points) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FinalFlushTimeout)
	defer cancel()

	if err := w.sink.Write(ctx, points); err != nil {
		w.emitBatch(events.FlushFailed, id, len(points), 1, err)
		w.drop(id, len(points), 1, err)
		return
	}
	w.log.Info().Str("batch_id", id).Int("points", len(points)).Msg("final batch flushed")
	w.emitBatch(events.FlushSucceeded, id, len(points), 1, nil)
}

func (w *Writer) drop(id string, n, attempts int, err error) {
	w.log.Error().
		Str("batch_id", id).
		Int("points", n).
		Int("attempts", attempts).
		Err(err).
		Msg("batch dropped, data lost")
	w.emitBatch(events.BatchDropped, id, n, attempts, err)
}

func (w *Writer) emitBatch(kind events.Kind, id string, n, attempt int, err error) {
	w.emit.Emit(events.Event{
		Kind:    kind,
		At:      w.now(),
		BatchID: id,
		Count:   n,
		Attempt: attempt,
		Err:     err,
	})
}
