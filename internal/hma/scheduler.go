package hma

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/monitor"
	"options-engine/pkg/clock"
	"options-engine/pkg/exchanges/common"
)

// Target is an instrument the scheduler keeps current. CandleTS is the
// oldest hmaLastCandleTimestamp among the instrument's records.
type Target struct {
	Symbol   string
	CandleTS int64
}

// Sink is the owner of the records the scheduler refreshes.
type Sink interface {
	HMATargets() []Target
	// ApplyHMA stores value for every record of symbol whose candle stamp is
	// older than candleTS and reports whether anything changed.
	ApplyHMA(ctx context.Context, symbol string, value float64, candleTS int64) bool
}

// Config tunes the scheduler.
type Config struct {
	Timeframe   time.Duration
	SettleDelay time.Duration
	RetryDelay  time.Duration
	Policy      common.RetryPolicy
	Concurrency int
	// Latency, when set, receives the duration of every fetch.
	Latency *monitor.LatencyHistogram
}

// RefreshReport summarises one refresh pass.
type RefreshReport struct {
	CandleTS int64    `json:"candleTs"`
	Updated  []string `json:"updated"`
	Skipped  []string `json:"skipped"`
	Failed   []string `json:"failed"`
}

// Scheduler refreshes HMA values on candle boundaries. Failed instruments
// go into a retry set that is retried every RetryDelay until the next
// boundary replaces it.
type Scheduler struct {
	client Client
	sink   Sink
	clock  clock.Clock
	cfg    Config

	pass sync.Mutex // one refresh pass at a time

	mu       sync.Mutex
	retry    map[string]struct{}
	retryFor int64

	// kick wakes Run when a pass outside the loop leaves failures behind.
	kick chan struct{}
}

func NewScheduler(client Client, sink Sink, clk clock.Clock, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		client: client,
		sink:   sink,
		clock:  clk,
		cfg:    cfg,
		retry:  make(map[string]struct{}),
		kick:   make(chan struct{}, 1),
	}
}

// NextRun returns when the pass for the candle closing after now is due.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	at := clock.CandleStart(now, s.cfg.Timeframe).Add(s.cfg.SettleDelay)
	if !at.After(now) {
		at = clock.NextBoundary(now, s.cfg.Timeframe).Add(s.cfg.SettleDelay)
	}
	return at
}

// Run drives the boundary loop until ctx ends. Between boundaries it retries
// the retry set every RetryDelay, whichever pass filled it.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("timeframe", s.cfg.Timeframe).Dur("settle", s.cfg.SettleDelay).Msg("hma: scheduler started")
	for {
		now := s.clock.Now()
		wait := s.NextRun(now).Sub(now)
		retryDue := s.retryDue(now)
		if retryDue && s.cfg.RetryDelay < wait {
			wait = s.cfg.RetryDelay
		} else {
			retryDue = false
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.kick:
			t.Stop()
			continue
		case <-t.C:
		}

		if retryDue {
			s.mu.Lock()
			ts := s.retryFor
			s.mu.Unlock()
			s.retryPass(ctx, ts)
			continue
		}
		s.RefreshNow(ctx)
	}
}

// retryDue reports whether the retry set should be retried before the next
// boundary pass replaces it.
func (s *Scheduler) retryDue(now time.Time) bool {
	s.mu.Lock()
	pending, ts := len(s.retry), s.retryFor
	s.mu.Unlock()
	if pending == 0 || ts != clock.LastClosedCandle(now, s.cfg.Timeframe).Unix() {
		return false
	}
	return now.Add(s.cfg.RetryDelay).Before(clock.NextBoundary(now, s.cfg.Timeframe))
}

// RefreshNow refreshes the given symbols, or every target when none are
// named, against the last closed candle. Current symbols are skipped.
func (s *Scheduler) RefreshNow(ctx context.Context, symbols ...string) RefreshReport {
	ts := clock.LastClosedCandle(s.clock.Now(), s.cfg.Timeframe).Unix()
	var only map[string]bool
	if len(symbols) > 0 {
		only = make(map[string]bool, len(symbols))
		for _, sym := range symbols {
			only[sym] = true
		}
	}
	return s.refresh(ctx, ts, only)
}

// RetryPending returns the size of the retry set.
func (s *Scheduler) RetryPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retry)
}

func (s *Scheduler) retryPass(ctx context.Context, ts int64) RefreshReport {
	s.mu.Lock()
	only := make(map[string]bool, len(s.retry))
	for sym := range s.retry {
		only[sym] = true
	}
	s.mu.Unlock()
	if len(only) == 0 {
		return RefreshReport{CandleTS: ts}
	}
	return s.refresh(ctx, ts, only)
}

func (s *Scheduler) refresh(ctx context.Context, ts int64, only map[string]bool) RefreshReport {
	s.pass.Lock()
	defer s.pass.Unlock()

	s.mu.Lock()
	if s.retryFor != ts {
		// A newer candle supersedes the previous retry set.
		s.retry = make(map[string]struct{})
		s.retryFor = ts
	}
	s.mu.Unlock()

	report := RefreshReport{CandleTS: ts}
	var due []string
	for _, t := range s.sink.HMATargets() {
		if only != nil && !only[t.Symbol] {
			continue
		}
		if t.CandleTS >= ts {
			report.Skipped = append(report.Skipped, t.Symbol)
			monitor.ObserveHMARefresh("skipped", 0)
			continue
		}
		due = append(due, t.Symbol)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, sym := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			ok := s.refreshOne(ctx, sym, ts)
			mu.Lock()
			if ok {
				report.Updated = append(report.Updated, sym)
			} else {
				report.Failed = append(report.Failed, sym)
			}
			mu.Unlock()
		}(sym)
	}
	wg.Wait()

	sort.Strings(report.Updated)
	sort.Strings(report.Failed)
	sort.Strings(report.Skipped)

	s.mu.Lock()
	for _, sym := range report.Updated {
		delete(s.retry, sym)
	}
	for _, sym := range report.Failed {
		s.retry[sym] = struct{}{}
	}
	pending := len(s.retry)
	s.mu.Unlock()
	monitor.SetHMARetrySet(pending)
	if len(report.Failed) > 0 {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}

	if len(due) > 0 {
		log.Info().Int64("candle", ts).Int("updated", len(report.Updated)).Int("failed", len(report.Failed)).
			Int("skipped", len(report.Skipped)).Msg("hma: refresh pass")
	}
	return report
}

func (s *Scheduler) refreshOne(ctx context.Context, symbol string, ts int64) bool {
	start := time.Now()
	var value float64
	err := common.Retry(ctx, s.cfg.Policy, "hma "+symbol, func(ctx context.Context) error {
		v, err := s.client.GetHMA(ctx, symbol)
		value = v
		return err
	})
	if s.cfg.Latency != nil {
		s.cfg.Latency.RecordDuration(time.Since(start))
	}
	if err != nil {
		monitor.ObserveHMARefresh("failed", time.Since(start))
		log.Warn().Err(err).Str("symbol", symbol).Int64("candle", ts).Msg("hma: refresh failed; queued for retry")
		return false
	}
	monitor.ObserveHMARefresh("updated", time.Since(start))
	changed := s.sink.ApplyHMA(ctx, symbol, value, ts)
	log.Info().Str("symbol", symbol).Float64("hma", value).Int64("candle", ts).Bool("changed", changed).Msg("hma: refreshed")
	return true
}
