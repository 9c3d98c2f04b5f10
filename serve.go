package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"options-engine/internal/api"
	"options-engine/internal/engine"
	"options-engine/internal/events"
	"options-engine/internal/gateway"
	"options-engine/internal/hma"
	"options-engine/internal/lifecycle"
	"options-engine/internal/market"
	"options-engine/internal/model"
	"options-engine/internal/monitor"
	"options-engine/internal/order"
	"options-engine/internal/watchlist"
	"options-engine/pkg/cache"
	"options-engine/pkg/clock"
	"options-engine/pkg/config"
	"options-engine/pkg/db"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/exchanges/paper"
	"options-engine/pkg/exchanges/rest"
	"options-engine/pkg/i18n"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// tickSource is either the websocket feed or the mock feed.
type tickSource interface {
	engine.Subscriber
	Start(ctx context.Context)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := setup()
	if err != nil {
		log.Error().Err(err).Msgf(i18n.Get("ConfigLoadFailed"), err)
		return err
	}
	log.Info().Str("version", version).Msg(i18n.Get("Starting"))
	log.Info().Msgf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Info().Msgf(i18n.Get("UsingDBPath"), cfg.DBPath)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	clk := clock.Real{}
	bus := events.NewBus()
	quotes := cache.NewQuotes()

	// Gateways: PAPER always, LIVE when a broker endpoint is configured.
	gateways := gateway.NewManager(gateway.DefaultConfig())
	paperBroker := paper.New(quotes, clk)
	gateways.Register(model.ModePaper, paperBroker)
	if cfg.BrokerBaseURL != "" {
		gateways.Register(model.ModeLive, rest.New(rest.Config{
			BaseURL:     cfg.BrokerBaseURL,
			AccessToken: cfg.BrokerAccessToken,
			RPS:         cfg.BrokerRPS,
			Timeout:     cfg.NetworkTimeout,
		}))
	}
	if model.TradingMode(cfg.TradingMode) == model.ModePaper {
		log.Info().Msg(i18n.Get("PaperMode"))
	}

	queue := openQueue(cfg)

	var (
		eng   *engine.Impl
		local *hma.LocalClient
	)
	onTick := func(t model.Tick) {
		paperBroker.OnTick(t)
		if local != nil {
			local.OnTick(t)
		}
		eng.OnTick(t)
	}

	hmaClient, local, err := buildHMAClient(cfg, clk)
	if err != nil {
		log.Error().Err(err).Msgf(i18n.Get("HMAServiceFailed"), err)
		return err
	}
	if c, ok := hmaClient.(interface{ Close() error }); ok {
		defer c.Close()
	}

	feed := buildFeed(cfg, bus, onTick)

	metrics := monitor.NewSystemMetrics()
	(&monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}}).Start(ctx)

	eng = engine.NewImpl(engine.Config{
		DB:       database,
		Gateways: gateways,
		Queue:    queue,
		HMA:      hmaClient,
		Feed:     feed,
		Bus:      bus,
		Quotes:   quotes,
		Clock:    clk,
		Metrics:  metrics,
		Meta:     engine.Meta{Mode: cfg.TradingMode, Version: version},
		Timers: lifecycle.Timers{
			Reversal: cfg.ReversalConfirmation,
			Candle:   cfg.HMATimeframe,
		},
		HMAConfig: hma.Config{
			Timeframe:   cfg.HMATimeframe,
			SettleDelay: cfg.HMASettleDelay,
			RetryDelay:  cfg.HMARetryDelay,
			Concurrency: cfg.Workers,
		},
		DefaultMode:    model.TradingMode(cfg.TradingMode),
		Workers:        cfg.Workers,
		NetworkTimeout: cfg.NetworkTimeout,
		Policy: common.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Base:     common.DefaultRetryPolicy.Base,
			Max:      common.DefaultRetryPolicy.Max,
		},
		PollInterval:       cfg.OrderPollInterval,
		SweepInterval:      cfg.TimerSweepInterval,
		AutoExitOnStopLoss: cfg.AutoExitOnStopLoss,
	})
	paperBroker.OnUpdate(eng.DispatchUpdate)

	if err := eng.Start(ctx); err != nil {
		log.Error().Err(err).Msgf(i18n.Get("StateLoadFailed"), err)
		return err
	}
	defer eng.Stop()
	log.Info().Msg(i18n.Get("EngineServiceInit"))
	log.Info().Msgf(i18n.Get("HMASchedulerUp"), cfg.HMATimeframe)
	if cfg.OrderPollInterval > 0 {
		log.Info().Msg(i18n.Get("ReconStarted"))
	}

	syncWatchlist(ctx, cfg.WatchlistPath, eng)
	feed.Start(ctx)

	server := api.NewServer(eng, bus, api.Options{})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf(i18n.Get("ServerListening"), cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msgf(i18n.Get("APIServerError"), err)
	}

	log.Info().Msg(i18n.Get("ShuttingDown"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

func openDB(path string) (*db.Database, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := db.New(path)
	if err != nil {
		log.Error().Err(err).Msgf(i18n.Get("DBInitFailed"), err)
		return nil, err
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		log.Error().Err(err).Msgf(i18n.Get("DBMigrationsFailed"), err)
		return nil, err
	}
	return database, nil
}

// openQueue returns the WAL-backed queue when enabled, falling back to an
// in-memory queue if the log cannot be opened.
func openQueue(cfg *config.Config) engine.IntentQueue {
	if !cfg.EnableOrderWAL {
		return order.NewQueue(1024)
	}
	pq, err := order.NewPersistentQueue(cfg.OrderWALPath, 1024)
	if err != nil {
		log.Warn().Err(err).Msgf(i18n.Get("PersistentQueueFailed"), err)
		return order.NewQueue(1024)
	}
	log.Info().Msgf(i18n.Get("OrderWalEnabled"), cfg.OrderWALPath)
	return pq
}

func buildHMAClient(cfg *config.Config, clk clock.Clock) (hma.Client, *hma.LocalClient, error) {
	if cfg.HMAService == "" || cfg.HMAService == "local" {
		local := hma.NewLocalClient(cfg.HMAPeriod, cfg.HMATimeframe, clk)
		return local, local, nil
	}
	client, err := hma.NewClient(cfg.HMAService, hma.Options{
		Addr:      cfg.HMAServiceAddr,
		Period:    cfg.HMAPeriod,
		Timeframe: cfg.HMATimeframe,
		Timeout:   cfg.NetworkTimeout,
	})
	return client, nil, err
}

func buildFeed(cfg *config.Config, bus *events.Bus, h market.Handler) tickSource {
	if cfg.UseMockFeed || cfg.FeedURL == "" {
		mock := &market.MockFeed{
			Bus:        bus,
			Handler:    h,
			StartPrice: 100,
			Step:       0.5,
			Interval:   time.Second,
		}
		for _, s := range cfg.MockSymbols {
			mock.Subscribe(s)
		}
		log.Info().Msg(i18n.Get("MockFeedStarted"))
		return mock
	}
	log.Info().Msgf(i18n.Get("FeedStarted"), cfg.FeedURL)
	return market.NewFeed(cfg.FeedURL, bus, h)
}

func syncWatchlist(ctx context.Context, path string, store watchlist.Store) {
	if path == "" {
		return
	}
	entries, err := watchlist.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("watchlist seed not loaded")
		}
		return
	}
	added, err := watchlist.Sync(ctx, store, entries)
	if err != nil {
		log.Warn().Err(err).Msg("watchlist sync incomplete")
	}
	log.Info().Msgf(i18n.Get("WatchlistSynced"), added)
}
