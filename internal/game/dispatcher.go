package game

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Sophie-Williams/BerryBots/internal/game"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Listener receives every event raised by the engine. Implementations run
// synchronously on the engine goroutine and must not modify engine state.
type Listener interface {
	HandleEvent(Event)
}

// MatchStartListener is implemented by listeners that need the stage layout
// and ship roster before the first tick.
type MatchStartListener interface {
	HandleMatchStart(MatchInfo)
}

// TickListener is implemented by listeners that sample ship state at the end
// of every tick. The slice is reused between calls.
type TickListener interface {
	HandleTick(tick int, ships []ShipState)
}

// MatchEndListener is implemented by listeners that want the final results.
type MatchEndListener interface {
	HandleMatchEnd(Results)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Dispatcher fans events out to listeners in registration order.
type Dispatcher struct {
	listeners []Listener
	sequence  uint64

	dispatched metric.Int64Counter
	attrs      map[EventType]metric.AddOption
}

// NewDispatcher creates an empty dispatcher. Uses the global OTel meter for
// metrics (no-op if not configured).
func NewDispatcher() (*Dispatcher, error) {
	counter, err := meter().Int64Counter(
		"game.events.dispatched",
		metric.WithDescription("Total engine events delivered to listeners"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}
	return &Dispatcher{
		dispatched: counter,
		attrs:      make(map[EventType]metric.AddOption),
	}, nil
}

// Add registers a listener. Listeners are called in the order they were
// added.
func (d *Dispatcher) Add(l Listener) {
	d.listeners = append(d.listeners, l)
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int { return len(d.listeners) }

// Dispatch stamps e with the next sequence number and delivers it to every
// listener exactly once.
func (d *Dispatcher) Dispatch(e Event) Event {
	d.sequence++
	e.Sequence = d.sequence
	for _, l := range d.listeners {
		l.HandleEvent(e)
	}

	opt, ok := d.attrs[e.Type]
	if !ok {
		opt = metric.WithAttributes(attribute.String("type", e.Type.String()))
		d.attrs[e.Type] = opt
	}
	d.dispatched.Add(context.Background(), 1, opt)
	return e
}

func (d *Dispatcher) matchStart(info MatchInfo) {
	for _, l := range d.listeners {
		if ml, ok := l.(MatchStartListener); ok {
			ml.HandleMatchStart(info)
		}
	}
}

func (d *Dispatcher) tick(tick int, ships []ShipState) {
	for _, l := range d.listeners {
		if tl, ok := l.(TickListener); ok {
			tl.HandleTick(tick, ships)
		}
	}
}

func (d *Dispatcher) matchEnd(r Results) {
	for _, l := range d.listeners {
		if ml, ok := l.(MatchEndListener); ok {
			ml.HandleMatchEnd(r)
		}
	}
}
