package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"options-engine/internal/model"
)

const inboxSize = 4096

// actor owns every record of one instrument. All mutations of those
// records run on its goroutine, in arrival order.
type actor struct {
	e      *Impl
	symbol string
	inbox  chan func()
	quit   chan struct{}
	done   chan struct{}

	symbols   map[string]*model.MonitoredSymbol
	positions map[string]*model.ActivePosition
	// gens ties in-flight intents to the record that issued them.
	gens map[string]uint64

	// tags holds the client tag of the current entry or exit attempt per
	// record so retries and resubmits reuse it.
	tags map[string]string
	// entryReplace tracks HMA-driven cancel-and-replace cycles by symbol id.
	entryReplace map[string]*replacement
	// slReplace tracks stop order cancel-and-replace cycles by position id.
	slReplace map[string]*replacement
	// slPending marks positions with a stop order submission in flight.
	slPending map[string]bool
	// exitAfterCancel marks positions whose exit waits on the stop order
	// cancel.
	exitAfterCancel map[string]bool
}

// replacement remembers the order being replaced.
type replacement struct {
	oldOrderID string
	oldHMA     float64
	oldPrice   float64
	reason     string
	submitted  bool
}

func newActor(e *Impl, symbol string) *actor {
	return &actor{
		e:               e,
		symbol:          symbol,
		inbox:           make(chan func(), inboxSize),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		symbols:         make(map[string]*model.MonitoredSymbol),
		positions:       make(map[string]*model.ActivePosition),
		gens:            make(map[string]uint64),
		tags:            make(map[string]string),
		entryReplace:    make(map[string]*replacement),
		slReplace:       make(map[string]*replacement),
		slPending:       make(map[string]bool),
		exitAfterCancel: make(map[string]bool),
	}
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case fn := <-a.inbox:
			a.safe(fn)
		case <-a.quit:
			for {
				select {
				case fn := <-a.inbox:
					a.safe(fn)
				default:
					return
				}
			}
		}
	}
}

// safe runs one message; a panic is logged and the actor keeps serving.
func (a *actor) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.e.metrics.IncrementErrors()
			log.Error().Str("symbol", a.symbol).Interface("panic", r).Bytes("stack", debug.Stack()).
				Msg("engine: actor recovered from panic")
		}
	}()
	fn()
}

// post queues fn without waiting. It drops fn when the inbox is full.
func (a *actor) post(fn func()) bool {
	select {
	case a.inbox <- fn:
		return true
	default:
		return false
	}
}

// send queues fn, waiting for inbox space.
func (a *actor) send(fn func()) {
	select {
	case a.inbox <- fn:
	case <-a.done:
	}
}

// call runs fn on the actor and waits for it.
func (a *actor) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("engine: %v", r)
				panic(r)
			}
		}()
		errc <- fn()
	}
	select {
	case a.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}
}

func (a *actor) stop() {
	close(a.quit)
	<-a.done
}

func (a *actor) empty() bool {
	return len(a.symbols) == 0 && len(a.positions) == 0
}

// track registers a record under a fresh generation.
func (a *actor) track(id string) uint64 {
	g := a.e.gen.Add(1)
	a.gens[id] = g
	return g
}

func (a *actor) forget(id string) {
	delete(a.gens, id)
	delete(a.tags, id)
	delete(a.entryReplace, id)
	delete(a.slReplace, id)
	delete(a.slPending, id)
	delete(a.exitAfterCancel, id)
}
