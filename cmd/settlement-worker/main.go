package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/engine"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/guard"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/indexer"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/notify"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/querycache"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/relayer"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/sweep"
	sharedcache "github.com/flipvault/coinflip-settlement-poc/internal/shared/cache"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/config"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/db"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/kafka"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/logger"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres: espelho local de apostas, vault de segredos e watermark
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	if err := store.EnsureSchema(ctx, pg); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	// Redis só para o broadcast Pub/Sub de eventos
	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka producers: eventos de aposta, eventos de saldo e DLQ do indexer
	betWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEvents)
	defer betWriter.Close()
	balWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBalanceEvents)
	defer balWriter.Close()
	dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetEventsDLQ)
	defer dlqWriter.Close()

	chainClient := chain.NewClient(cfg.ChainRESTURL, cfg.ContractAddr)

	rel := buildRelayer(ctx, log, cfg, chainClient)

	inflight := guard.NewInflightGuard(log, cfg.InflightStaleAfter)
	pendingOps := guard.NewPendingOpCounter()
	qcache := querycache.New(log, time.Duration(cfg.CacheEvictFactor)*cfg.CacheTTL)

	betRepo := store.NewBetRepo(pg)
	secretRepo := store.NewSecretRepo(pg)
	balanceRepo := store.NewBalanceRepo(pg)
	stateRepo := store.NewStateRepo(pg)
	secretGC := store.NewSecretGC(log, secretRepo, 10*time.Minute, cfg.SecretGCAfter)

	sink := notify.New(log, betWriter, balWriter, dlqWriter, redisClient, cfg.RedisPubSubChannel)

	// Métricas Prometheus do worker
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_txs_submitted_total", Help: "transações aceitas pelo node, por tipo"}, []string{"kind"})
	seqRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_sequence_retries_total", Help: "retries após sequence mismatch"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_chain_cache_hits_total", Help: "hits no cache de consultas"})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_chain_cache_misses_total", Help: "misses no cache de consultas"})
	indexed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_indexer_applied_total", Help: "eventos de contrato aplicados, por ação"}, []string{"action"})
	indexErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_indexer_errors_total", Help: "falhas do indexer, por estágio"}, []string{"stage"})
	sweepCands := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settlement_sweep_candidates", Help: "candidatos no último ciclo, por fase"}, []string{"phase"})
	sweepItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_sweep_items_total", Help: "itens resolvidos pelo sweep, por fase"}, []string{"phase"})
	sweepErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_sweep_errors_total", Help: "falhas do sweep, por fase"}, []string{"phase"})
	sweepSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_sweep_cycles_skipped_total", Help: "ciclos pulados (relayer ou config indisponível)"})
	prometheus.MustRegister(submitted, seqRetries, cacheHits, cacheMisses,
		indexed, indexErrors, sweepCands, sweepItems, sweepErrors, sweepSkips)

	rel.OnSubmitted = func(kind string) { submitted.WithLabelValues(kind).Inc() }
	rel.OnSequenceRetry = func() { seqRetries.Inc() }
	qcache.OnHit = func() { cacheHits.Inc() }
	qcache.OnMiss = func() { cacheMisses.Inc() }

	eng := engine.New(log, chainClient, rel, betRepo, secretRepo, balanceRepo,
		inflight, pendingOps, qcache, engine.Config{
			Bech32Prefix:   cfg.Bech32Prefix,
			CacheTTL:       cfg.CacheTTL,
			ConfigCacheTTL: cfg.ConfigCacheTTL,
		})

	ix := indexer.New(log, chainClient, betRepo, secretRepo, balanceRepo, stateRepo,
		sink, pendingOps, qcache, cfg.IndexerInterval, cfg.IndexerBatch)
	ix.OnApplied = func(action string) { indexed.WithLabelValues(action).Inc() }
	ix.OnError = func(stage string) { indexErrors.WithLabelValues(stage).Inc() }

	sw := sweep.New(log, chainClient, rel, betRepo, secretRepo, inflight, qcache,
		sweep.Config{
			Interval:   cfg.SweepInterval,
			StuckGrace: cfg.StuckGrace,
			ConfigTTL:  cfg.ConfigCacheTTL,
		})
	sw.OnPhase = func(phase string, candidates int) { sweepCands.WithLabelValues(phase).Set(float64(candidates)) }
	sw.OnItem = func(phase string) { sweepItems.WithLabelValues(phase).Inc() }
	sw.OnError = func(phase string) { sweepErrors.WithLabelValues(phase).Inc() }
	sw.OnSkip = func() { sweepSkips.Inc() }

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	// Warm-up: valida o contrato alcançável (e semeia o cache de config que o
	// sweep consulta) e alinha o espelho local com a chain antes dos loops
	bootCtx, cancelBoot := context.WithTimeout(ctx, 10*time.Second)
	if _, err := eng.ContractConfig(bootCtx); err != nil {
		log.Warn("contract config unavailable at boot", zap.Error(err))
	}
	if err := sw.Resync(bootCtx); err != nil {
		log.Warn("boot resync incomplete", zap.Error(err))
	}
	cancelBoot()

	go inflight.Run(ctx)
	go qcache.Run(ctx)
	go secretGC.Run(ctx)
	if cfg.IndexerEnabled {
		go ix.Run(ctx)
	} else {
		log.Warn("indexer disabled by config")
	}
	if cfg.SweepEnabled {
		go sw.Run(ctx)
	} else {
		log.Warn("sweep disabled by config")
	}

	log.Info("settlement-worker started",
		zap.String("chain_id", cfg.ChainID),
		zap.String("contract", cfg.ContractAddr),
		zap.Bool("relayer_enabled", rel.Enabled()),
		zap.Bool("indexer", cfg.IndexerEnabled),
		zap.Bool("sweep", cfg.SweepEnabled),
	)

	<-ctx.Done()

	shCtx, cancelSh := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSh()
	_ = metricsSrv.Shutdown(shCtx)
	log.Info("settlement-worker stopped")
}

// buildRelayer monta o relayer a partir da chave do ambiente. Sem chave, ou com
// conta que ainda não existe on-chain, o processo sobe em modo somente leitura
// (indexer e consultas funcionam; escritas devolvem ErrRelayerDisabled).
func buildRelayer(ctx context.Context, log *zap.Logger, cfg config.Config, client *chain.Client) *relayer.Relayer {
	if cfg.RelayerPrivKeyHex == "" {
		log.Warn("relayer key not configured, write path disabled")
		return relayer.NewDisabled(log)
	}

	signer, err := chain.NewSigner(cfg.RelayerPrivKeyHex, cfg.Bech32Prefix, cfg.ChainID, cfg.ContractAddr)
	if err != nil {
		log.Fatal("relayer key invalid", zap.Error(err))
	}

	rel := relayer.New(log, signer, client, cfg.SequenceRetryMax)
	go rel.Run(ctx)

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rel.Refresh(syncCtx); err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			log.Warn("relayer account not found on chain, write path disabled",
				zap.String("address", rel.Address()))
			return relayer.NewDisabled(log)
		}
		// node fora do ar agora: o sweep re-tenta a cada ciclo
		log.Warn("relayer sequence not synced at boot", zap.Error(err))
		return rel
	}

	log.Info("relayer ready", zap.String("address", rel.Address()))
	return rel
}
