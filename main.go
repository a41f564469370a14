package main

import (
	"context"
	"log"
	"time"

	"futures_agent/internal/agent/decision"
	"futures_agent/internal/config"
	"futures_agent/internal/exchange"
	httpapi "futures_agent/internal/http"
	"futures_agent/internal/market"
	"futures_agent/internal/orchestrator"
	"futures_agent/internal/scheduler"
	"futures_agent/internal/store"
	"futures_agent/internal/trader"
)

func main() {
	cfg := config.Load()

	repo, err := store.NewSQLiteRepository(cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer repo.Close()

	if err := repo.Init(context.Background()); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	binance := exchange.NewBinanceFutures(cfg.BinanceBaseURL, cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	manager := trader.NewManager(binance)
	aggregator := market.NewAggregator(binance, cfg.CollectWorkers)

	agent, err := decision.New(decision.Options{
		APIKey:        cfg.OpenAIAPIKey,
		Model:         cfg.OpenAIModel,
		BaseURL:       cfg.OpenAIBaseURL,
		PromptFile:    cfg.AgentPromptFile,
		MaxIterations: cfg.AgentMaxIterations,
	}, manager, repo)
	if err != nil {
		log.Fatalf("初始化决策代理失败: %v", err)
	}

	service := orchestrator.New(
		manager,
		aggregator,
		agent,
		repo,
		cfg.Currencies,
		time.Duration(cfg.CycleTimeoutSec)*time.Second,
	)

	// 启动定时自动交易
	if cfg.AutoRunEnabled {
		sched := scheduler.New(service, cfg.AutoRunInterval)
		sched.Start()
		defer sched.Stop()
	} else {
		log.Println("[定时器] 未启用，设置 AUTO_RUN_ENABLED=true 开启自动交易")
	}

	server := httpapi.NewServer(cfg.HTTPAddr, service, repo, manager)

	log.Printf("Futures Agent 服务启动 地址=%s 币种=%v 周期超时=%ds",
		cfg.HTTPAddr, cfg.Currencies, cfg.CycleTimeoutSec)
	if err := server.Run(); err != nil {
		log.Fatalf("启动服务失败: %v", err)
	}
}
