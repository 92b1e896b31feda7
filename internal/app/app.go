package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trade-sync/internal/alerting"
	"trade-sync/internal/config"
	"trade-sync/internal/fetcher"
	"trade-sync/internal/scheduler"
	"trade-sync/internal/storage"
	"trade-sync/internal/syncer"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.TradeFetcher {
	return fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL:    a.Config.Binance.BaseURL,
		APIKey:     a.Config.Binance.APIKey,
		APISecret:  a.Config.Binance.APISecret,
		RecvWindow: a.Config.Binance.RecvWindow,
		Timeout:    a.Config.Binance.RequestTimeout,
		UserAgent:  a.Config.Binance.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() syncer.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	var opts []storage.StoreOption
	if a.Config.Sync.MaxStoredRows > 0 {
		opts = append(opts, storage.WithMaxRows(a.Config.Sync.MaxStoredRows))
	}

	store := storage.NewStore(pool, opts...)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// prepareStore migrates the schema and seeds declared groups: the on-demand
// declaration check performed before any pass runs.
func (a *App) prepareStore(ctx context.Context, store *storage.Store) error {
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	for _, g := range a.Config.Groups {
		group, err := store.UpsertGroup(ctx, g.Name, g.Symbols, g.Ticker)
		if err != nil {
			return fmt.Errorf("register group %s: %w", g.Name, err)
		}
		a.Logger.Debug().
			Str("group", group.Name).
			Strs("symbols", group.Symbols).
			Str("ticker", group.Ticker).
			Msg("group declaration registered")
	}
	return nil
}

func (a *App) newCoordinator(store *storage.Store) *syncer.Coordinator {
	cursors := syncer.NewCursorResolver(store)
	paginator := syncer.NewPaginator(a.newFetcher(), cursors, syncer.PaginatorOptions{
		MaxItems:  a.Config.Sync.MaxItems,
		CallDelay: a.Config.Sync.CallDelay,
	}, a.Logger)
	stats := syncer.NewStatsAggregator(store, store, a.Logger)

	return syncer.NewCoordinator(store, store, paginator, stats, store, a.newNotifier(), syncer.CoordinatorOptions{
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		LockRetries:    a.Config.Sync.LockRetries,
		LockRetryDelay: a.Config.Sync.LockRetryDelay,
	}, a.Logger)
}

// Run executes the long-running synchronization service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := a.prepareStore(ctx, store); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	coordinator := a.newCoordinator(store)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Int("groups", len(a.Config.Groups)).
		Msg("starting synchronization service")

	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		return coordinator.RunPass(tickCtx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("synchronization service stopped")
	return nil
}

// SyncOnce performs a single on-demand pass.
func (a *App) SyncOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := a.prepareStore(ctx, store); err != nil {
		return err
	}

	return a.newCoordinator(store).RunPass(ctx)
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Group string
	Limit int
}

// ExportOptions hold parameters for exporting stored trade records.
type ExportOptions struct {
	Group     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
