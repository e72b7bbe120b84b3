package turn

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"convbridge/pkg/channel"
	"convbridge/pkg/logger"
)

// DefaultMaxConcurrency bounds turns handled at the same time.
const DefaultMaxConcurrency = 16

// Handler handles one event to completion.
type Handler interface {
	Handle(ctx context.Context, ev channel.InboundEvent) Result
}

// Dispatcher runs every event in its own goroutine. Events are independent:
// there is no ordering between them and one event's failure never affects another.
type Dispatcher struct {
	handler Handler
	sem     chan struct{}
	wg      sync.WaitGroup

	// mu orders wg.Add in Dispatch against Close.
	mu     sync.Mutex
	closed bool
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher. A non-positive limit means DefaultMaxConcurrency.
func NewDispatcher(h Handler, maxConcurrency int) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Dispatcher{
		handler: h,
		sem:     make(chan struct{}, maxConcurrency),
		log:     logger.Component("dispatcher"),
	}
}

// Dispatch schedules ev and returns immediately. It matches channel.EventHandler.
// The turn outlives ctx so a stopping transport does not strand placeholders.
func (d *Dispatcher) Dispatch(ctx context.Context, ev channel.InboundEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Debug().Str("ts", ev.TS).Msg("dispatcher closed, dropping event")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	turnCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		defer func() {
			if rec := recover(); rec != nil {
				d.log.Error().
					Interface("panic", rec).
					Str("stack", string(debug.Stack())).
					Str("channel", ev.ChannelID).
					Str("ts", ev.TS).
					Msg("PANIC in event handler")
			}
		}()
		d.handler.Handle(turnCtx, ev)
	}()
}

// Close stops accepting events. In-flight turns keep running.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait closes the dispatcher and blocks until in-flight turns finish or ctx
// is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.Close()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
