package game

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 4096                   // pending records before the oldest is dropped
	MaxEventsPerSec    = 50000                  // global rate limit
	MaxEventsPerType   = 20000                  // per event type, per second
	BatchFlushSize     = 256                    // records per batch write
	BatchFlushInterval = 100 * time.Millisecond // how often to flush
)

// eventRecord is one line of the event log.
type eventRecord struct {
	Sequence uint64 `json:"seq,omitempty"`
	Tick     int    `json:"tick"`
	Type     string `json:"type"`
	Payload  any    `json:"payload,omitempty"`
}

// EventLog is a Listener that appends engine events to a newline-delimited
// JSON file. Writes happen on a background goroutine; when the writer falls
// behind or a rate limit trips, records are dropped and counted instead of
// stalling the engine. Match start and end records are never rate limited.
type EventLog struct {
	mu      sync.Mutex
	buffer  [EventBufferSize]eventRecord
	head    uint64 // next write position
	tail    uint64 // next read position
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once

	globalLimiter *rate.Limiter
	typeLimiters  map[EventType]*rate.Limiter

	out    *bufio.Writer
	closer io.Closer

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
	writeErr     atomic.Pointer[error]
}

// NewEventLog starts a log writing to w. If w is an io.Closer it is closed
// by Stop.
func NewEventLog(w io.Writer) *EventLog {
	el := &EventLog{
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		typeLimiters:  make(map[EventType]*rate.Limiter),
		out:           bufio.NewWriter(w),
	}
	if c, ok := w.(io.Closer); ok {
		el.closer = c
	}
	go el.writerLoop()
	return el
}

// OpenEventLog creates (or truncates) the file at path, creating its
// directory, and starts a log writing to it.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return NewEventLog(f), nil
}

// HandleEvent implements Listener.
func (el *EventLog) HandleEvent(e Event) {
	if !el.globalLimiter.Allow() || !el.typeLimiter(e.Type).Allow() {
		el.droppedCount.Add(1)
		return
	}
	el.push(eventRecord{Sequence: e.Sequence, Tick: e.Tick, Type: e.Type.String(), Payload: e.Payload})
}

// HandleMatchStart implements MatchStartListener.
func (el *EventLog) HandleMatchStart(info MatchInfo) {
	el.push(eventRecord{Type: "match_start", Payload: map[string]any{
		"width":  info.Width,
		"height": info.Height,
		"teams":  info.Teams,
		"ships":  len(info.Ships),
		"seed":   info.Seed,
	}})
}

// HandleMatchEnd implements MatchEndListener.
func (el *EventLog) HandleMatchEnd(r Results) {
	el.push(eventRecord{Tick: r.Ticks, Type: "match_end", Payload: r})
}

func (el *EventLog) typeLimiter(t EventType) *rate.Limiter {
	l, ok := el.typeLimiters[t]
	if !ok {
		l = rate.NewLimiter(MaxEventsPerType, MaxEventsPerType/10)
		el.typeLimiters[t] = l
	}
	return l
}

func (el *EventLog) push(rec eventRecord) {
	el.mu.Lock()
	if el.head-el.tail >= EventBufferSize {
		// Drop oldest; the writer is behind.
		el.tail++
		el.droppedCount.Add(1)
	}
	el.buffer[el.head%EventBufferSize] = rec
	el.head++
	pending := el.head - el.tail
	el.mu.Unlock()

	el.totalCount.Add(1)
	if pending >= BatchFlushSize {
		select {
		case el.wake <- struct{}{}:
		default:
		}
	}
}

// Stop flushes pending records, closes the output and waits for the
// writer. It returns the first write error, if any.
func (el *EventLog) Stop() error {
	el.stopped.Do(func() {
		close(el.stop)
		<-el.done
		if el.closer != nil {
			if err := el.closer.Close(); err != nil {
				el.setErr(err)
			}
		}
	})
	if p := el.writeErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (el *EventLog) writerLoop() {
	defer close(el.done)

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]eventRecord, 0, BatchFlushSize)
	for {
		select {
		case <-el.stop:
			for {
				batch = el.collectBatch(batch[:0])
				if len(batch) == 0 {
					break
				}
				el.flushBatch(batch)
			}
			return
		case <-ticker.C:
		case <-el.wake:
		}
		batch = el.collectBatch(batch[:0])
		if len(batch) > 0 {
			el.flushBatch(batch)
		}
	}
}

// collectBatch moves up to BatchFlushSize pending records into batch.
func (el *EventLog) collectBatch(batch []eventRecord) []eventRecord {
	el.mu.Lock()
	defer el.mu.Unlock()
	for el.tail < el.head && len(batch) < BatchFlushSize {
		i := el.tail % EventBufferSize
		batch = append(batch, el.buffer[i])
		el.buffer[i] = eventRecord{}
		el.tail++
	}
	return batch
}

// flushBatch writes one JSON object per line.
func (el *EventLog) flushBatch(batch []eventRecord) {
	if el.writeErr.Load() != nil {
		el.droppedCount.Add(uint64(len(batch)))
		return
	}
	enc := json.NewEncoder(el.out)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			el.setErr(err)
			return
		}
	}
	if err := el.out.Flush(); err != nil {
		el.setErr(err)
	}
}

func (el *EventLog) setErr(err error) {
	el.writeErr.CompareAndSwap(nil, &err)
}

// Stats returns counters for monitoring.
func (el *EventLog) Stats() map[string]uint64 {
	el.mu.Lock()
	pending := el.head - el.tail
	el.mu.Unlock()
	return map[string]uint64{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": pending,
	}
}

// Dropped returns the number of records that were not written.
func (el *EventLog) Dropped() uint64 {
	return el.droppedCount.Load()
}
