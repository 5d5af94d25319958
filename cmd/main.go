package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"price-alert-bot/config"
	"price-alert-bot/internal/alert"
	"price-alert-bot/internal/commands"
	"price-alert-bot/internal/database"
	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/price"
	"price-alert-bot/internal/refresh"
	"price-alert-bot/internal/telegram"
	"price-alert-bot/lib/helpers"
	"price-alert-bot/lib/translation"
)

const metricsSaveInterval = 5 * time.Minute

func init() {
	config.InitConfig()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "price-alert-bot",
		Short:         "Telegram bot that alerts when a market price crosses a threshold",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(config.Load())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot, the price refresh loop and the metrics endpoint",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Run a single price refresh cycle and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRefreshOnce(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "markets",
			Short: "Print tracked markets with their last known price",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMarkets(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)

	root.SetErr(os.Stderr)
	return root
}

func setupLogging(cfg config.Config) {
	log.SetLevel(log.ErrorLevel)
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}))
	}
	log.Debug("Starting price alert bot...")
}

// openStore opens the database and registers the configured markets
func openStore(ctx context.Context, cfg config.Config) (*database.Store, error) {
	store, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}
	if err := store.SeedMarkets(ctx, cfg.Markets); err != nil {
		store.Close()
		return nil, errors.Wrap(err, "failed to seed markets")
	}
	return store, nil
}

type app struct {
	store     *database.Store
	metrics   *metrics.BotMetrics
	bot       *telegram.Bot
	refresher *refresh.Service
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	translation.Configure("locales", cfg.Lang)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewBotMetrics(prometheus.DefaultRegisterer)
	m.LoadFromDB(ctx, store)

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:          cfg.TelegramBotToken,
		Debug:          cfg.Debug,
		UpdatesTimeout: 60,
	}, commands.NewService(store), m)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "failed to create bot")
	}

	fetcher, err := price.NewFetcher(price.Options{
		Provider: cfg.FeedProvider,
		URL:      cfg.FeedURL,
		Quote:    cfg.FeedQuote,
		APIKey:   cfg.APIProKey,
		Timeout:  cfg.FeedTimeout,
	})
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "failed to create price fetcher")
	}

	evaluator := alert.NewEvaluator(store, bot, m)
	refresher := refresh.NewService(store, fetcher, evaluator, m, refresh.Config{
		Workers:      cfg.RefreshWorkers,
		FetchTimeout: cfg.FeedTimeout,
	})

	return &app{store: store, metrics: m, bot: bot, refresher: refresher}, nil
}

func runServe(parent context.Context) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	scheduler := refresh.NewScheduler(a.refresher, cfg.RefreshInterval)
	go scheduler.Run(ctx)

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		a.bot.Serve(ctx)
	}()

	go func() {
		ticker := time.NewTicker(metricsSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.metrics.SaveToDB(ctx, a.store)
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- metrics.Serve(ctx, cfg.MetricsPort, prometheus.DefaultGatherer)
	}()

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		if err != nil {
			log.Errorf("Failed to start metrics and health server: %v", err)
		}
		stop()
	}

	<-scheduler.Done()
	<-botDone
	a.metrics.SaveToDB(context.Background(), a.store)
	log.Info("Metrics saved, shutting down...")
	return err
}

func runRefreshOnce(parent context.Context) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	res, err := a.refresher.RunCycle(ctx)
	a.metrics.SaveToDB(context.Background(), a.store)
	if err != nil {
		return errors.Wrapf(err, "refresh cycle %s", res.ID)
	}
	fmt.Printf("cycle %s: %d updated, %d skipped, %d alert(s) fired\n", res.ID, res.Updated, res.Skipped, len(res.Fired))
	return nil
}

func runMarkets(ctx context.Context, out io.Writer) error {
	cfg := config.Load()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	markets, err := commands.NewService(store).ListMarkets(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tPRICE\tUPDATED")
	for _, m := range markets {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.ID, m.Code, helpers.FormatPriceUS(m.Price, false), helpers.FormatTimestamp(m.Timestamp, time.Now()))
	}
	return w.Flush()
}
