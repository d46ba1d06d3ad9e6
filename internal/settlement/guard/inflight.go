package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInflight: o endereço já tem uma operação de escrita em andamento.
// A política é fail-fast, o cliente tenta de novo quando a anterior resolver.
var ErrInflight = errors.New("address already has an operation in flight")

// InflightGuard serializa escritas por endereço de usuário. Uma entrada presa
// além de staleAfter é liberada na marra: um caminho de código que nunca
// soltou o lock não pode travar o usuário pra sempre.
type InflightGuard struct {
	log        *zap.Logger
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]time.Time
}

func NewInflightGuard(log *zap.Logger, staleAfter time.Duration) *InflightGuard {
	return &InflightGuard{
		log:        log,
		staleAfter: staleAfter,
		now:        time.Now,
		inflight:   make(map[string]time.Time),
	}
}

// Acquire tenta marcar o endereço como ocupado. Não bloqueia: se já tem
// operação em andamento (e ainda não estourou staleAfter) devolve ErrInflight.
func (g *InflightGuard) Acquire(addr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if since, ok := g.inflight[addr]; ok {
		if g.now().Sub(since) < g.staleAfter {
			return ErrInflight
		}
		g.log.Warn("forcing release of stale inflight entry",
			zap.String("address", addr),
			zap.Duration("held_for", g.now().Sub(since)))
	}
	g.inflight[addr] = g.now()
	return nil
}

// Release desocupa o endereço. Chamar sem Acquire é no-op.
func (g *InflightGuard) Release(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, addr)
}

// Held informa se o endereço está ocupado agora (entradas stale não contam).
func (g *InflightGuard) Held(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	since, ok := g.inflight[addr]
	return ok && g.now().Sub(since) < g.staleAfter
}

// Run varre entradas stale periodicamente, pra limpar locks de caminhos
// mortos mesmo sem nenhum novo Acquire no endereço.
func (g *InflightGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.staleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepStale()
		}
	}
}

func (g *InflightGuard) sweepStale() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for addr, since := range g.inflight {
		if g.now().Sub(since) >= g.staleAfter {
			delete(g.inflight, addr)
			g.log.Warn("released stale inflight entry", zap.String("address", addr))
		}
	}
}
