package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/copytrade/mirror/internal/config"
	"github.com/copytrade/mirror/internal/events"
	"github.com/copytrade/mirror/internal/executor"
	"github.com/copytrade/mirror/internal/metrics"
	"github.com/copytrade/mirror/internal/repository"
	"github.com/copytrade/mirror/internal/service"
	"github.com/copytrade/mirror/internal/venue"
	"github.com/copytrade/mirror/pkg/crypto"
	"github.com/copytrade/mirror/pkg/logger"
	"github.com/copytrade/mirror/pkg/snowflake"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout)
	log.Info("starting " + cfg.ServiceName)

	// 连接数据库
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.WithError(err).Error("open database failed")
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.WithError(err).Error("ping database failed")
		os.Exit(1)
	}
	log.Info("connected to postgresql")

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Error("ping redis failed")
		os.Exit(1)
	}
	log.Info("connected to redis")

	// 凭证解密
	sealer, err := crypto.NewSealer(cfg.CredentialKey)
	if err != nil {
		log.WithError(err).Error("init credential sealer failed")
		os.Exit(1)
	}

	idGen, err := snowflake.New(cfg.WorkerID)
	if err != nil {
		log.WithError(err).Error("init id generator failed")
		os.Exit(1)
	}

	// 组装服务
	metricsClient := metrics.New()
	followerRepo := repository.NewFollowerRepository(db)
	mirrorRepo := repository.NewMirrorRepository(db)
	venueClient := venue.NewClient(cfg.VenueBaseURL, cfg.VenueTimeout)
	metaCache := venue.NewMetaCache(venueClient, 0)
	gate := executor.NewGate(cfg.MinAPIInterval)

	// 执行策略在启动时一次性选定，干跑模式不触达交易所
	var orderExec executor.OrderExecutor
	if cfg.DryRun {
		log.Warn("dry-run mode enabled, orders will be simulated")
		orderExec = executor.NewSimulatedExecutor(gate, idGen, time.Now().UnixNano(), log)
	} else {
		orderExec = executor.NewLiveExecutor(venueClient, gate, cfg.MaxRetries, cfg.RetryBaseDelay, log, metricsClient)
	}

	publisher := events.NewPublisher(redisClient, cfg.FollowerEventChannel)

	execSvc := service.NewExecutionService(followerRepo, mirrorRepo, metaCache, orderExec, sealer, metricsClient, log)
	execSvc.SetPublisher(publisher)

	orchestrator := service.NewOrchestratorService(followerRepo, mirrorRepo, idGen, execSvc, metricsClient, log)
	orchestrator.SetPublisher(publisher)

	walletSvc := service.NewWalletService(followerRepo, venueClient, sealer, log)
	go walletSvc.Run(ctx, cfg.WalletPollInterval)

	// HTTP 服务
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", metricsClient.Handler())

	// 镜像一条主交易
	mux.HandleFunc("/v1/mirror", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleMirror(w, r, orchestrator)
	})

	// 查询一条主交易的镜像单
	mux.HandleFunc("/v1/mirrors", func(w http.ResponseWriter, r *http.Request) {
		tradeID, _ := strconv.ParseInt(r.URL.Query().Get("tradeId"), 10, 64)
		if tradeID == 0 {
			http.Error(w, "tradeId required", http.StatusBadRequest)
			return
		}
		mirrors, err := orchestrator.ListMirrors(r.Context(), tradeID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mirrors)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}

	go func() {
		log.Info("http server listening on :" + strconv.Itoa(cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server error")
			os.Exit(1)
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	server.Shutdown(context.Background())
	log.Info("shutdown complete")
}

// MirrorRequest 镜像请求
type MirrorRequest struct {
	TradeID    int64  `json:"tradeId"`
	Pair       string `json:"pair"`
	Side       string `json:"side"` // BUY / SELL
	Entry      string `json:"entry"`
	StopLoss   string `json:"stopLoss"`
	TakeProfit string `json:"takeProfit"`
	Leverage   int    `json:"leverage"`
	Total      string `json:"total"`
}

func handleMirror(w http.ResponseWriter, r *http.Request, orchestrator *service.OrchestratorService) {
	var req MirrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := orchestrator.Mirror(r.Context(), &service.PrimaryTrade{
		TradeID:    req.TradeID,
		Pair:       req.Pair,
		Side:       side,
		Entry:      req.Entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Leverage:   req.Leverage,
		Total:      req.Total,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// parseSide 方向字段只接受 BUY/SELL（忽略大小写），其余一律拒绝
func parseSide(s string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return repository.SideBuy, nil
	case "SELL":
		return repository.SideSell, nil
	default:
		return 0, fmt.Errorf("invalid side: %q", s)
	}
}
