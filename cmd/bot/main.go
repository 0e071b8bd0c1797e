// Command bot runs the autonomous trading loop and its control API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jokke7/tradingbot/internal/api"
	"github.com/Jokke7/tradingbot/internal/config"
	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/exchange"
	"github.com/Jokke7/tradingbot/internal/executor"
	"github.com/Jokke7/tradingbot/internal/journal"
	"github.com/Jokke7/tradingbot/internal/loop"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/oracle"
	"github.com/Jokke7/tradingbot/internal/portfolio"
	"github.com/Jokke7/tradingbot/internal/recorder"
	"github.com/Jokke7/tradingbot/internal/risk"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Error("config_load_failed", err, map[string]any{"path": *configPath})
		os.Exit(1)
	}
	observ.Log("starting", map[string]any{
		"mode": cfg.Mode, "symbols": cfg.Symbols, "api_addr": cfg.API.Addr,
	})

	store, err := portfolio.Open(cfg.Storage.StateFile, cfg.Exchange.SimBankrollUSD)
	if err != nil {
		observ.Error("state_open_failed", err, map[string]any{"path": cfg.Storage.StateFile})
		os.Exit(1)
	}

	var ex exchange.Client
	if cfg.Mode == "live" {
		ex = exchange.NewBinanceClient(exchange.BinanceConfig{
			APIKey:            cfg.Exchange.APIKey,
			SecretKey:         cfg.Exchange.SecretKey,
			Testnet:           cfg.Exchange.Testnet,
			TimeoutSeconds:    cfg.Exchange.TimeoutSeconds,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		})
	} else {
		ex = exchange.NewSimClient(cfg.Exchange.SimBankrollUSD)
	}

	if cfg.Mode == "live" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		balances, err := ex.GetAccountBalances(ctx)
		cancel()
		if err != nil {
			observ.Error("account_check_failed", err, nil)
			os.Exit(1)
		}
		for _, b := range balances {
			observ.Log("account_balance", map[string]any{
				"asset": b.Asset, "free": b.Free, "locked": b.Locked,
			})
		}
	}

	brain := oracle.NewHTTPClient(oracle.HTTPConfig{
		BaseURL:        cfg.Oracle.BaseURL,
		APIKey:         cfg.Oracle.APIKey,
		Model:          cfg.Oracle.Model,
		TimeoutSeconds: cfg.Oracle.TimeoutSeconds,
	})

	var history recorder.Recorder
	if db, err := recorder.OpenSQLite(cfg.Storage.SQLitePath); err != nil {
		observ.Error("history_open_failed", err, map[string]any{"path": cfg.Storage.SQLitePath})
		history = recorder.Noop{}
	} else {
		history = db
	}
	defer history.Close()

	trades := journal.NewWriter(cfg.Storage.JournalDir, "trades")
	recommendations := journal.NewWriter(cfg.Storage.JournalDir, "recommendations")
	defer trades.Close()
	defer recommendations.Close()

	breaker := risk.NewCircuitBreaker(cfg.Trading.BreakerMaxErrors,
		time.Duration(cfg.Trading.BreakerCooldownMin)*time.Minute)
	gates := risk.NewManager(risk.Limits{
		MaxTradeUSD:           cfg.Trading.MaxTradeUSD,
		DailyLossLimitUSD:     cfg.Trading.DailyLossLimitUSD,
		VolatilityLimitPct:    cfg.Trading.VolatilityLimitPct,
		ConcentrationLimitPct: cfg.Trading.ConcentrationLimitPct,
	}, breaker, ex)

	runtime := &loop.Runtime{
		ConfidenceThreshold: cfg.Trading.ConfidenceThreshold,
		MaxTradeUSD:         cfg.Trading.MaxTradeUSD,
		DailyLossLimitUSD:   cfg.Trading.DailyLossLimitUSD,
		MaxPositions:        cfg.Trading.MaxPositions,
	}

	engine := decision.NewEngine(brain, ex, runtime)
	exec := executor.New(ex, store)

	sinks := loop.Sinks{
		loop.LogSink{},
		loop.JournalSink{Trades: trades, Recommendations: recommendations},
		loop.RecorderSink{Recorder: history},
	}

	sched := loop.NewScheduler(loop.Options{
		EvaluateInterval:  time.Duration(cfg.Schedule.EvaluateIntervalMin) * time.Minute,
		RebalanceInterval: time.Duration(cfg.Schedule.RebalanceIntervalMin) * time.Minute,
		Watchlist:         cfg.Symbols,
	}, runtime, engine, exec, store, gates, brain, sinks)

	if err := sched.Start(); err != nil {
		observ.Error("scheduler_start_failed", err, nil)
		os.Exit(1)
	}

	server := api.NewServer(cfg.API.Addr, cfg.API.AuthToken, cfg.Mode,
		store, sched, runtime, gates, history)
	go func() {
		if err := server.Start(); err != nil {
			observ.Error("api_server_failed", err, nil)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	observ.Log("shutting_down", nil)

	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		observ.Error("api_shutdown_failed", err, nil)
	}
	observ.Log("stopped", nil)
}
