package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// Emitter is handed to the producing goroutine. Sends after the stream has
// finished are dropped.
type Emitter struct {
	ch   chan Event
	stop chan struct{}
	once sync.Once
}

func newEmitter(buffer int) *Emitter {
	return &Emitter{ch: make(chan Event, buffer), stop: make(chan struct{})}
}

func (e *Emitter) emit(ev Event) {
	if e == nil {
		return
	}
	select {
	case <-e.stop:
	case e.ch <- ev:
	}
}

func (e *Emitter) close() { e.once.Do(func() { close(e.stop) }) }

// Fields emits every present wine field of r in stable order. Confidence is
// not included; it is sent once the final result is known.
func (e *Emitter) Fields(r model.IdentificationResult) {
	for _, f := range model.WineFields {
		if r.Has(f) {
			e.emit(Event{Type: EventField, Data: FieldData{Field: f, Value: r.Value(f)}})
		}
	}
}

// Escalating announces a move from one tier to the next.
func (e *Emitter) Escalating(from, to string, confidence float64) {
	e.emit(Event{Type: EventEscalating, Data: EscalatingData{From: from, To: to, Confidence: confidence}})
}

// Final is what a producer returns on success.
type Final struct {
	Confidence float64
	Payload    any
}

// Run produces a final result, emitting progress as it goes.
type Run func(ctx context.Context, em *Emitter) (*Final, error)

// Sink writes events to a client.
type Sink interface {
	Send(ev Event) error
}

// Serve runs fn and writes its events to sink as the only writer. The stream
// carries its own timeout; on timeout, cancellation or failure it ends with
// error then done. On success it ends with the confidence field, result and
// done.
func Serve(ctx context.Context, sink Sink, requestID string, timeout time.Duration, fn Run) error {
	log := zap.L().With(zap.String("component", "stream"), zap.String("request_id", requestID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	em := newEmitter(64)
	defer em.close()

	type outcome struct {
		final *Final
		err   error
	}
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- outcome{err: resilience.Errorf(resilience.KindUnknown, "stream: producer panic: %v", p)}
			}
		}()
		f, err := fn(runCtx, em)
		results <- outcome{final: f, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var sendErr error
	send := func(ev Event) {
		if sendErr != nil {
			return
		}
		if err := sink.Send(ev); err != nil {
			sendErr = eris.Wrapf(err, "stream: send %s", ev.Type)
			log.Debug("client write failed", zap.Error(err))
			cancel()
		}
	}
	fail := func(err error) error {
		send(ErrorEvent(err))
		send(Event{Type: EventDone, Data: DoneData{RequestID: requestID}})
		return sendErr
	}

	for {
		select {
		case ev := <-em.ch:
			send(ev)

		case out := <-results:
			for drained := false; !drained; {
				select {
				case ev := <-em.ch:
					send(ev)
				default:
					drained = true
				}
			}
			if out.err != nil {
				log.Debug("stream ended with error", zap.Error(out.err))
				return fail(out.err)
			}
			if out.final == nil {
				return fail(resilience.Errorf(resilience.KindUnknown, "stream: producer returned no result"))
			}
			send(Event{Type: EventField, Data: FieldData{Field: model.FieldConfidence, Value: out.final.Confidence}})
			send(Event{Type: EventResult, Data: out.final.Payload})
			send(Event{Type: EventDone, Data: DoneData{RequestID: requestID}})
			return sendErr

		case <-timer:
			log.Warn("stream timed out", zap.Duration("timeout", timeout))
			cancel()
			return fail(resilience.Errorf(resilience.KindTimeout, "stream: no result within %s", timeout))

		case <-ctx.Done():
			return fail(resilience.NewError(resilience.KindCanceled, eris.Wrap(ctx.Err(), "stream: client went away")))
		}
	}
}
