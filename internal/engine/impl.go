package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
	"options-engine/internal/gateway"
	"options-engine/internal/hma"
	"options-engine/internal/lifecycle"
	"options-engine/internal/model"
	"options-engine/internal/monitor"
	"options-engine/internal/order"
	"options-engine/internal/persistence"
	"options-engine/internal/reconciliation"
	"options-engine/internal/state"
	"options-engine/pkg/cache"
	"options-engine/pkg/clock"
	"options-engine/pkg/db"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/i18n"
)

// IntentQueue buffers order intents ahead of the executor. Both
// order.Queue and order.PersistentQueue satisfy it.
type IntentQueue interface {
	Enqueue(in order.Intent) bool
	MarkComplete(id string)
	Drain(ctx context.Context, handler func(order.Intent))
	Len() int
	Close()
}

// Subscriber is the market feed's subscription surface.
type Subscriber interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// Impl implements Service with one actor per instrument.
type Impl struct {
	db        *db.Database
	gateways  *gateway.Manager
	queue     IntentQueue
	executor  *order.AsyncExecutor
	tracker   *order.Tracker
	state     *state.Manager
	machine   *lifecycle.Machine
	scheduler *hma.Scheduler
	recon     *reconciliation.Service
	snapshots *persistence.BatchWriter[db.LTPSnapshot]
	feed      Subscriber
	bus       *events.Bus
	quotes    *cache.Quotes
	clock     clock.Clock
	metrics   *monitor.SystemMetrics
	cfg       Config

	gen atomic.Uint64

	mu     sync.RWMutex
	actors map[string]*actor

	started   time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	routed    chan struct{}
	stopOnce  sync.Once
	isStopped atomic.Bool
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	DB       *db.Database
	Gateways *gateway.Manager
	// Queue defaults to an in-memory queue.
	Queue   IntentQueue
	HMA     hma.Client
	Feed    Subscriber
	Bus     *events.Bus
	Quotes  *cache.Quotes
	Clock   clock.Clock
	Metrics *monitor.SystemMetrics
	Meta    Meta

	Timers      lifecycle.Timers
	HMAConfig   hma.Config
	DefaultMode model.TradingMode

	Workers        int
	NetworkTimeout time.Duration
	Policy         common.RetryPolicy
	PollInterval   time.Duration
	SweepInterval  time.Duration
	// AutoExitOnStopLoss is switched on for every new watchlist entry when
	// set.
	AutoExitOnStopLoss bool
	// ExitCooldown spaces automatic exit retries after a failed exit order.
	ExitCooldown time.Duration
	// SnapshotBatch and SnapshotInterval tune LTP snapshot persistence.
	SnapshotBatch    int
	SnapshotInterval time.Duration
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Quotes == nil {
		cfg.Quotes = cache.NewQuotes()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	if cfg.Queue == nil {
		cfg.Queue = order.NewQueue(1024)
	}
	if cfg.Timers.Reversal <= 0 || cfg.Timers.Candle <= 0 {
		cfg.Timers = lifecycle.DefaultTimers
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = model.ModePaper
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = 5 * time.Second
	}
	if cfg.Policy.Attempts <= 0 {
		cfg.Policy = common.DefaultRetryPolicy
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.ExitCooldown <= 0 {
		cfg.ExitCooldown = 5 * time.Second
	}
	if cfg.HMAConfig.Timeframe <= 0 {
		cfg.HMAConfig.Timeframe = cfg.Timers.Candle
	}
	if cfg.HMAConfig.Policy.Attempts <= 0 {
		cfg.HMAConfig.Policy = cfg.Policy
	}
	if cfg.HMAConfig.Latency == nil {
		cfg.HMAConfig.Latency = cfg.Metrics.HMALatency
	}

	e := &Impl{
		db:       cfg.DB,
		gateways: cfg.Gateways,
		queue:    cfg.Queue,
		executor: order.NewAsyncExecutor(cfg.Gateways, cfg.Workers, cfg.NetworkTimeout, cfg.Policy),
		tracker:  order.NewTracker(cfg.DB, cfg.Gateways, cfg.Policy, cfg.NetworkTimeout),
		state:    state.NewManager(cfg.DB),
		machine:  lifecycle.New(cfg.Timers),
		feed:     cfg.Feed,
		bus:      cfg.Bus,
		quotes:   cfg.Quotes,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		cfg:      cfg,
		actors:   make(map[string]*actor),
		routed:   make(chan struct{}),
	}
	e.machine.ResubmitCooldown = cfg.ExitCooldown
	if cfg.HMA != nil {
		e.scheduler = hma.NewScheduler(cfg.HMA, e, cfg.Clock, cfg.HMAConfig)
	}
	e.recon = reconciliation.NewService(cfg.Gateways, e.tracker, e.HandleOrderUpdate, cfg.PollInterval, cfg.NetworkTimeout)
	e.snapshots = persistence.NewBatchWriter[db.LTPSnapshot]("ltp_snapshots", cfg.DB.InsertLTPSnapshots, cfg.SnapshotBatch, cfg.SnapshotInterval)
	return e
}

// Bus returns the engine's event bus.
func (e *Impl) Bus() *events.Bus { return e.bus }

// Reconcile runs one reconciliation pass.
func (e *Impl) Reconcile(ctx context.Context) *reconciliation.Report {
	return e.recon.Reconcile(ctx)
}

// Start restores persisted state, replays unacknowledged intents and starts
// the background loops.
func (e *Impl) Start(ctx context.Context) error {
	if err := e.state.Load(ctx); err != nil {
		return err
	}
	if n, err := e.tracker.Restore(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Info().Int("orders", n).Msg("engine: restored open orders")
	}

	replayed := make(map[string]bool)
	acked := make(map[string]bool)
	adopted := make(map[string]model.PendingOrder)
	recovered := 0
	if r, ok := e.queue.(interface {
		Recover() ([]order.Intent, error)
	}); ok {
		intents, err := r.Recover()
		if err != nil {
			log.Error().Err(err).Msgf(i18n.Get("WalRecoveryError"), err)
			return err
		}
		recovered = len(intents)
		if recovered > 0 {
			log.Info().Msgf(i18n.Get("WalReplayed"), recovered)
		}
		for _, in := range intents {
			// A lost COMPLETE replays an intent the broker already
			// acknowledged; its order is adopted instead of resubmitted.
			if po, ok := e.tracker.ByTag(in.ID); ok && in.Kind == order.KindSubmit {
				log.Warn().Str("intent", in.ID).Str("order_id", po.OrderID).Msg("engine: replayed intent already acknowledged")
				acked[in.ID] = true
				adopted[recordKey(po.SymbolID+po.PositionID, po.Purpose)] = po
				continue
			}
			replayed[in.SymbolID] = true
			replayed[in.PositionID] = true
		}
	}
	e.restore(replayed, adopted)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		// Executions outlive runCtx so shutdown finishes in-flight calls.
		e.queue.Drain(runCtx, func(in order.Intent) {
			if acked[in.ID] {
				e.queue.MarkComplete(in.ID)
				return
			}
			e.executor.ExecuteAsync(context.Background(), in)
		})
	}()
	go func() {
		defer e.wg.Done()
		e.sweepLoop(runCtx)
	}()
	e.started = e.clock.Now()
	go e.routeResults()

	if e.scheduler != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scheduler.Run(runCtx)
		}()
	}
	if e.cfg.PollInterval > 0 {
		e.recon.Start(runCtx)
	}

	s, p := e.state.Counts()
	monitor.SetActive(s, p)
	log.Info().Int("symbols", s).Int("positions", p).Int("replayed", recovered).Msg("engine: started")
	return nil
}

// recordKey keys an adopted order by the record that placed it.
func recordKey(id string, purpose model.OrderPurpose) string {
	return id + "/" + string(purpose)
}

// restore rebuilds the actors from persisted records. adopted holds orders
// of replayed intents that the broker had already acknowledged.
func (e *Impl) restore(replayed map[string]bool, adopted map[string]model.PendingOrder) {
	now := e.clock.Now()
	for _, s := range e.state.Symbols() {
		a := e.actorFor(s.Symbol)
		a.send(func() {
			a.adopt(s)
			po, acked := adopted[recordKey(s.ID, model.PurposeEntry)]
			switch {
			case acked && s.TriggerStatus == model.StatusConfirmingEntry:
				a.settle(s, a.e.machine.OnSubmitted(s, po.OrderID, now), now)
			case replayed[s.ID] && s.TriggerStatus == model.StatusConfirmingEntry:
				s.SubmitPending = true
			case s.SubmitPending && !replayed[s.ID]:
				// The submission never reached the WAL; the next expiry
				// check submits again.
				s.SubmitPending = false
				a.persistSymbol(s)
			}
		})
	}
	for _, p := range e.state.Positions() {
		a := e.actorFor(p.Symbol)
		a.send(func() {
			a.positions[p.ID] = p
			a.track(p.ID)
			if e.feed != nil {
				e.feed.Subscribe(p.Symbol)
			}
			if po, ok := adopted[recordKey(p.ID, model.PurposeExit)]; ok && p.SellOrderID == "" {
				p.SellOrderID = po.OrderID
				p.UpdatedAt = now
				a.persistPosition(p)
			}
			if po, ok := adopted[recordKey(p.ID, model.PurposeStopLoss)]; ok && p.SLOrderDetails == nil {
				p.SLOrderDetails = &model.SLOrderDetails{
					OrderID:      po.OrderID,
					StopPrice:    po.BoughtPrice,
					TriggerPrice: po.TriggerPrice,
					PlacedAt:     po.SubmittedAt,
				}
				p.UpdatedAt = now
				a.persistPosition(p)
			}
			if replayed[p.ID] {
				return
			}
			_, selling := e.tracker.Get(p.SellOrderID)
			switch {
			case p.ExitPending && !selling:
				log.Warn().Str("position", p.ID).Msg("engine: resubmitting exit interrupted by restart")
				p.SellOrderID = ""
				a.submitExit(p, now)
			case p.PlaceStopLossOrder && p.SLOrderDetails == nil && !p.ExitPending:
				a.placeStopOrder(p, now)
			}
		})
	}
}

// Stop drains in-flight work and stops every actor.
func (e *Impl) Stop() {
	e.stopOnce.Do(func() {
		e.isStopped.Store(true)
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.queue.Close()
		e.executor.Close()
		if !e.started.IsZero() {
			<-e.routed
		}

		e.mu.Lock()
		actors := make([]*actor, 0, len(e.actors))
		for _, a := range e.actors {
			actors = append(actors, a)
		}
		e.mu.Unlock()
		for _, a := range actors {
			a.stop()
		}
		if err := e.snapshots.Close(); err != nil {
			log.Warn().Err(err).Msg("engine: snapshot flush failed")
		}
		log.Info().Msg("engine: stopped")
	})
}

// actorFor returns the actor of symbol, starting one if needed.
func (e *Impl) actorFor(symbol string) *actor {
	e.mu.RLock()
	a, ok := e.actors[symbol]
	e.mu.RUnlock()
	if ok {
		return a
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok = e.actors[symbol]; ok {
		return a
	}
	a = newActor(e, symbol)
	e.actors[symbol] = a
	go a.run()
	return a
}

func (e *Impl) actor(symbol string) (*actor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actors[symbol]
	return a, ok
}

// OnTick routes a market tick to its instrument. Ticks older than the
// cached quote are dropped.
func (e *Impl) OnTick(t model.Tick) {
	if !e.quotes.Put(t) {
		return
	}
	e.metrics.IncrementTicks()
	a, ok := e.actor(t.Symbol)
	if !ok {
		return
	}
	if !a.post(func() { a.onTick(t) }) {
		log.Warn().Str("symbol", t.Symbol).Msg("engine: actor inbox full, tick dropped")
	}
}

// DispatchUpdate hands a pushed broker update to its instrument without
// waiting. Used for broker callbacks.
func (e *Impl) DispatchUpdate(u model.OrderUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NetworkTimeout)
		defer cancel()
		if err := e.HandleOrderUpdate(ctx, u); err != nil && !errors.Is(err, order.ErrUnknownOrder) {
			log.Warn().Err(err).Str("order_id", u.OrderID).Msg("engine: order update failed")
		}
	}()
}

func (e *Impl) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep resolves expired confirmation windows on every instrument.
func (e *Impl) Sweep() {
	e.mu.RLock()
	actors := make([]*actor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.mu.RUnlock()
	now := e.clock.Now()
	for _, a := range actors {
		a := a
		a.post(func() { a.onTimer(now) })
	}
}

// routeResults hands executor results back to the owning actor.
func (e *Impl) routeResults() {
	defer close(e.routed)
	for res := range e.executor.Results() {
		in := res.Intent
		if !errors.Is(res.Err, context.Canceled) {
			e.queue.MarkComplete(in.ID)
		}
		e.metrics.OrderLatency.RecordDuration(res.Latency)
		if in.Kind == order.KindSubmit {
			e.metrics.IncrementOrders()
		}
		a, ok := e.actor(in.Symbol)
		if !ok {
			log.Warn().Str("intent", in.ID).Str("symbol", in.Symbol).Msg("engine: result for unknown instrument")
			continue
		}
		r := res
		a.send(func() { a.onResult(r) })
	}
}

// enqueue hands an intent to the order pipeline. A full queue is reported
// back as a transient failure.
func (e *Impl) enqueue(a *actor, in order.Intent) {
	in.CreatedAt = e.clock.Now()
	if e.isStopped.Load() || !e.queue.Enqueue(in) {
		log.Error().Str("intent", in.ID).Str("symbol", in.Symbol).Msg("engine: order queue rejected intent")
		a.onResult(order.ExecutionResult{
			Intent:    in,
			Err:       common.Transient("enqueue", errors.New("order queue unavailable")),
			Timestamp: e.clock.Now(),
		})
	}
}

func (e *Impl) publishCounts() {
	s, p := e.state.Counts()
	monitor.SetActive(s, p)
}
