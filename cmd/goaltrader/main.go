package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/goaltrader/config"
	"github.com/alejandrodnm/goaltrader/internal/adapters/httpapi"
	"github.com/alejandrodnm/goaltrader/internal/adapters/kafka"
	"github.com/alejandrodnm/goaltrader/internal/adapters/notify"
	"github.com/alejandrodnm/goaltrader/internal/adapters/onchain"
	"github.com/alejandrodnm/goaltrader/internal/adapters/polymarket"
	"github.com/alejandrodnm/goaltrader/internal/adapters/storage"
	"github.com/alejandrodnm/goaltrader/internal/adapters/stream"
	"github.com/alejandrodnm/goaltrader/internal/application/dispatch"
	"github.com/alejandrodnm/goaltrader/internal/application/execution"
	"github.com/alejandrodnm/goaltrader/internal/application/settlement"
	"github.com/alejandrodnm/goaltrader/internal/application/trader"
	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/ports"
)

const statusInterval = time.Minute

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	armed := flag.Bool("armed", false, "submit real orders (overrides config)")
	report := flag.Bool("report", false, "print the closed-trade history and exit")
	since := flag.Duration("since", 0, "with -report: only trades closed in this window (0 = all)")
	redeemAll := flag.Bool("redeem-all", false, "settle every holding once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *armed {
		cfg.Execution.Armed = true
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole()

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer journal.Close()

	if *report {
		if err := runReport(ctx, journal, console, *since); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Execution.Armed && !cfg.Secrets.CanTrade() {
		slog.Error("armed mode requires PRIVATE_KEY")
		os.Exit(1)
	}

	slog.Info("goaltrader starting",
		"config", *configPath,
		"armed", cfg.Execution.Armed,
		"trader_enabled", cfg.Trader.Enabled,
		"http", cfg.HTTP.Addr,
		"stream", cfg.Stream.Enabled,
		"kafka", len(cfg.Secrets.KafkaBrokers) > 0,
	)

	app, err := build(ctx, cfg, journal)
	if err != nil {
		slog.Error("failed to wire goaltrader", "err", err)
		os.Exit(1)
	}
	defer app.close()

	if *redeemAll {
		if app.settler == nil {
			slog.Error("redeem-all requires PRIVATE_KEY")
			os.Exit(1)
		}
		outcomes, err := app.settler.ForceRedeemAll(ctx)
		if err != nil {
			slog.Error("redeem-all failed", "err", err)
			os.Exit(1)
		}
		console.PrintRedemptions(outcomes)
		return
	}

	if cfg.Execution.Armed {
		fmt.Printf("\n⚠️  LIVE TRADING MODE: REAL MONEY WILL BE SPENT\n")
		fmt.Printf("   Max notional: $%.2f | Max open positions: %d\n",
			cfg.Execution.MaxNotional, cfg.Execution.MaxOpenPositions)
		fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

		abortTimer := time.NewTimer(5 * time.Second)
		select {
		case <-abortTimer.C:
		case <-ctx.Done():
			slog.Info("live trading aborted by user")
			return
		}
	}

	app.run(ctx, console)
	slog.Info("goaltrader stopped cleanly")
}

// app holds the wired components.
type app struct {
	router    *dispatch.Router
	executor  *execution.Executor
	trader    *trader.Trader
	settler   *settlement.Service
	stream    *stream.MarketStream
	consumer  *kafka.Consumer
	publisher *kafka.Publisher
	api       *httpapi.Server
	chain     *ethclient.Client
}

func build(ctx context.Context, cfg *config.Config, journal *storage.SQLiteJournal) (*app, error) {
	a := &app{router: dispatch.NewRouter()}

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.DataBase)

	var (
		exchange  ports.Exchange
		positions ports.PositionSource
		auth      *polymarket.AuthClient
	)
	if cfg.Secrets.CanTrade() {
		var err error
		auth, err = polymarket.NewAuthClient(client, polymarket.AuthConfig{
			PrivateKey:    cfg.Secrets.PrivateKey,
			Funder:        cfg.Secrets.Funder,
			SignatureType: cfg.Secrets.SignatureType,
			APIKey:        cfg.Secrets.APIKey,
			APISecret:     cfg.Secrets.APISecret,
			APIPassphrase: cfg.Secrets.APIPassphrase,
		})
		if err != nil {
			return nil, fmt.Errorf("main.build: auth client: %w", err)
		}
		if err := auth.EnsureCreds(ctx); err != nil {
			return nil, fmt.Errorf("main.build: derive API credentials: %w", err)
		}
		slog.Info("authenticated with Polymarket CLOB", "address", auth.Address(), "funder", auth.Funder())
		exchange = auth
		positions = polymarket.NewDataClient(client, auth.Funder())
	} else {
		slog.Warn("no PRIVATE_KEY: orders are simulated and settlement is off")
	}

	executor, err := execution.New(exchange, cfg.ExecutionPolicy())
	if err != nil {
		return nil, fmt.Errorf("main.build: executor: %w", err)
	}
	a.executor = executor

	policy := cfg.TraderPolicy()
	a.trader = trader.New(executor, policy)
	if policy.ArbitrationWindow > 0 {
		a.router.SetConfirmWindow(policy.ArbitrationWindow)
	}
	executor.SetPositionCounter(a.trader)
	if positions != nil {
		a.trader.SetPositionSource(positions)
	}

	var sink ports.Journal = journal
	if len(cfg.Secrets.KafkaBrokers) > 0 {
		a.publisher = kafka.NewPublisher(cfg.Secrets.KafkaBrokers, cfg.Kafka.JournalTopic)
		sink = storage.NewTee(journal, a.publisher)
		a.consumer = kafka.NewConsumer(cfg.Secrets.KafkaBrokers, cfg.Kafka.UpdatesTopic, cfg.Kafka.GroupID,
			func(ctx context.Context, u domain.SourceUpdate) error {
				_, err := a.router.Apply(ctx, u)
				return err
			})
	}
	a.trader.SetJournal(sink)

	if auth != nil {
		settler, err := a.buildSettlement(cfg, auth, positions, sink)
		if err != nil {
			return nil, err
		}
		a.settler = settler
		a.trader.SetScheduler(settler)
	}

	a.router.Subscribe(a.trader.HandleUpdate)

	if cfg.Stream.Enabled {
		a.stream = stream.New(stream.Config{URL: cfg.Stream.URL, Source: policy.ExchangeSource}, a.router)
		a.router.OnNewAssets(a.stream.Subscribe)
	}

	if cfg.HTTP.Addr != "" {
		deps := httpapi.Deps{
			Updates:  a.router,
			Trader:   a.trader,
			Executor: executor,
		}
		if a.settler != nil {
			deps.Settler = a.settler
		}
		a.api = httpapi.New(httpapi.Config{Addr: cfg.HTTP.Addr, Token: cfg.Secrets.APIToken}, deps)
	}
	return a, nil
}

// buildSettlement wires the redeemers in fallback order: relay, then proxy.
func (a *app) buildSettlement(cfg *config.Config, auth *polymarket.AuthClient, positions ports.PositionSource, sink ports.Journal) (*settlement.Service, error) {
	var redeemers []ports.Redeemer

	if cfg.Settlement.UseRelay && cfg.Secrets.Funder != "" {
		relay, err := onchain.NewRelayClient(onchain.RelayConfig{
			BaseURL:    cfg.API.RelayBase,
			APIKey:     cfg.Secrets.RelayerAPIKey,
			Secret:     cfg.Secrets.RelayerSecret,
			Passphrase: cfg.Secrets.RelayerPassphrase,
		}, auth.PrivateKey(), cfg.Secrets.Funder)
		if err != nil {
			return nil, fmt.Errorf("main.buildSettlement: relay: %w", err)
		}
		redeemers = append(redeemers, relay)
	}

	if cfg.Settlement.UseProxy {
		chain, err := ethclient.Dial(cfg.Secrets.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("main.buildSettlement: dial RPC: %w", err)
		}
		a.chain = chain
		redeemers = append(redeemers, onchain.NewProxyRedeemer(chain, auth.PrivateKey(), cfg.Secrets.Funder != ""))
	}

	svc := settlement.New(positions, a.executor, cfg.SettlementPolicy(), redeemers...)
	svc.SetJournal(sink)
	return svc, nil
}

// run starts every loop and blocks until ctx is cancelled.
func (a *app) run(ctx context.Context, console *notify.Console) {
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				slog.Error("component exited with error", "component", name, "err", err)
			}
		}()
	}

	a.trader.Start(ctx)

	if a.settler != nil {
		spawn("settlement", func(ctx context.Context) error { a.settler.Run(ctx); return nil })
	}
	if a.stream != nil {
		spawn("stream", a.stream.Run)
	}
	if a.consumer != nil {
		spawn("kafka-consumer", a.consumer.Run)
	}
	if a.api != nil {
		spawn("http", a.api.Run)
	}
	spawn("status", func(ctx context.Context) error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				console.PrintStatus(a.trader.State(), a.executor.Armed())
			}
		}
	})

	<-ctx.Done()
	slog.Info("shutting down...")
	wg.Wait()
	a.trader.Stop()
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			slog.Warn("kafka publisher close", "err", err)
		}
	}
	if a.chain != nil {
		a.chain.Close()
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
