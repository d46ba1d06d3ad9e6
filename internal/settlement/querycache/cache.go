package querycache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache guarda resultados de queries na chain com TTL por chamada.
// O fetch roda fora do lock: chamadas simultâneas pela mesma chave podem
// buscar em duplicidade e a última escrita vence. Pro nosso volume isso é
// mais barato que coordenar as goroutines.
type Cache struct {
	log        *zap.Logger
	sweepEvery time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	// callbacks de métrica, setados no main
	OnHit  func()
	OnMiss func()
}

func New(log *zap.Logger, sweepEvery time.Duration) *Cache {
	return &Cache{
		log:        log,
		sweepEvery: sweepEvery,
		now:        time.Now,
		entries:    make(map[string]entry),
	}
}

// GetOrFetch devolve o valor cacheado se ainda vale, senão executa fetch e
// guarda o resultado por ttl. Erro de fetch não entra no cache.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (any, error)) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		if c.OnHit != nil {
			c.OnHit()
		}
		return e.value, nil
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}

	value, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate remove as chaves exatas informadas.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// InvalidatePrefix remove toda chave que começa com o prefixo.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len devolve o total de entradas (vencidas incluídas, até a próxima varredura).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run descarta entradas vencidas periodicamente. Leituras já ignoram entrada
// vencida; a varredura só devolve memória.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		c.log.Debug("evicted expired cache entries", zap.Int("count", evicted))
	}
}
