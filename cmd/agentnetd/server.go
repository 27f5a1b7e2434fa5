package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentnetio/agentnet/config"
	"github.com/agentnetio/agentnet/ham"
	"github.com/agentnetio/agentnet/hsp"
	"github.com/agentnetio/agentnet/internal/metrics"
	"github.com/agentnetio/agentnet/registry"
	"github.com/agentnetio/agentnet/resilience/circuitbreaker"
	"github.com/agentnetio/agentnet/resilience/retry"
	"github.com/agentnetio/agentnet/trust"
)

// =============================================================================
// 🧩 节点装配
// =============================================================================

// Server 将配置装配成一个完整的 AgentNet 节点:
// 传输层、连接器、注册表、信任管理器、记忆存储与指标服务。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	transport *hsp.RedisTransport
	connector *hsp.Connector
	registry  *registry.Registry
	trust     *trust.Manager
	store     *ham.Store
	evictor   *ham.Evictor
	collector *metrics.Collector
}

// NewServer 按依赖顺序构建所有组件，只装配不启动。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		s.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	s.trust = trust.NewManager(trust.Config{
		DefaultScore: cfg.Trust.DefaultScore,
		MinScore:     cfg.Trust.MinScore,
		MaxScore:     cfg.Trust.MaxScore,
	}, logger)

	registryOpts := []registry.Option{registry.WithTrust(s.trust)}
	if s.collector != nil {
		registryOpts = append(registryOpts, registry.WithOnSweep(s.collector.RecordSweptAgents))
	}
	s.registry = registry.New(registry.Config{
		InactivityTTL: cfg.Registry.InactivityTTL,
		SweepInterval: cfg.Registry.SweepInterval,
	}, logger, registryOpts...)

	keys, err := memoryKeys(cfg.Memory)
	if err != nil {
		return nil, err
	}
	s.store, err = ham.NewStore(ham.StoreConfig{
		Path:   cfg.Memory.Path,
		Keys:   keys,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	evictorCfg := ham.EvictorConfig{
		Threshold:    cfg.Memory.EvictionThreshold,
		BaseInterval: cfg.Memory.BaseInterval,
		MinInterval:  cfg.Memory.MinInterval,
		Logger:       logger,
	}
	if s.collector != nil {
		evictorCfg.OnEvict = s.collector.RecordEvictedRecords
	}
	s.evictor = ham.NewEvictor(s.store, evictorCfg)

	transportCfg := hsp.DefaultTransportConfig()
	transportCfg.Addr = cfg.Broker.Addr
	transportCfg.Password = cfg.Broker.Password
	transportCfg.DB = cfg.Broker.DB
	transportCfg.PoolSize = cfg.Broker.PoolSize
	transportCfg.MinIdleConns = cfg.Broker.MinIdleConns
	transportCfg.DialTimeout = cfg.Broker.DialTimeout
	s.transport, err = hsp.NewRedisTransport(transportCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("transport init failed: %w", err)
	}

	connectorCfg := hsp.Config{
		AgentID:      cfg.Node.AgentID,
		AgentName:    cfg.Node.AgentName,
		AckTimeout:   cfg.Bus.AckTimeout,
		PublishRate:  cfg.Bus.PublishRate,
		PublishBurst: cfg.Bus.PublishBurst,
		Retry: &retry.Policy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BackoffFactor: cfg.Retry.BackoffFactor,
			MaxDelay:      cfg.Retry.MaxDelay,
			Jitter:        true,
		},
		Breaker: &circuitbreaker.Config{
			Threshold:       cfg.Breaker.Threshold,
			RecoveryTimeout: cfg.Breaker.RecoveryTimeout,
		},
	}
	var opts []hsp.Option
	if s.collector != nil {
		opts = append(opts, hsp.WithMetrics(s.collector))
	}
	s.connector, err = hsp.NewConnector(connectorCfg, s.transport, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("connector init failed: %w", err)
	}
	s.connector.BindRegistry(s.registry)
	s.connector.BindTrust(s.trust)
	s.connector.BindMemory(s.store)

	return s, nil
}

// memoryKeys 从配置指定的环境变量读取记忆加密密钥。
// 密钥供给属于外部职责，这里只消费。
func memoryKeys(cfg config.MemoryConfig) (ham.KeyProvider, error) {
	raw := os.Getenv(cfg.KeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("memory encryption key missing: set %s (16/24/32 bytes)", cfg.KeyEnv)
	}
	key := ham.StaticKey(raw)
	if _, err := key.Key(); err != nil {
		return nil, fmt.Errorf("memory encryption key in %s is invalid: %w", cfg.KeyEnv, err)
	}
	return key, nil
}

// Run 启动所有后台环路并阻塞到 ctx 取消，随后按依赖逆序优雅关停。
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.registry.Start(gctx)
	s.evictor.Start(gctx)
	if err := s.connector.Start(gctx); err != nil {
		return err
	}

	var httpServer *http.Server
	if s.cfg.Metrics.Enabled {
		httpServer = s.newMetricsServer()
		g.Go(func() error {
			s.logger.Info("metrics server listening", zap.String("addr", s.cfg.Metrics.Addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			s.gaugeLoop(gctx)
			return nil
		})
	}

	<-gctx.Done()
	s.logger.Info("shutdown signal received")

	s.connector.Close()
	s.evictor.Stop()
	s.registry.Stop()
	s.transport.Close()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}

	return g.Wait()
}

// gaugeLoop 周期性刷新规模类指标。
func (s *Server) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collector.SetRegisteredAgents(s.registry.Len())
			s.collector.SetMemoryRecords(s.store.Len())
			s.collector.SetBreakerState(int(s.connector.BreakerState()))
		}
	}
}

func (s *Server) newMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"agent_id":      s.cfg.Node.AgentID,
			"breaker_state": s.connector.BreakerState().String(),
			"known_agents":  s.registry.Len(),
			"memory_size":   s.store.Len(),
		})
	})

	return &http.Server{
		Addr:         s.cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
