package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/guard"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/querycache"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
	"github.com/flipvault/coinflip-settlement-poc/pkg/contracts/events"
)

// seenCacheSize limita o LRU de tx hashes já aplicados. Uma página de busca
// reentregue dentro dessa janela não reaplica nada.
const seenCacheSize = 2048

type chainSource interface {
	TxsSince(ctx context.Context, fromHeight int64, limit int) ([]chain.TxRecord, error)
	Bet(ctx context.Context, betID uint64) (chain.BetView, error)
	VaultBalance(ctx context.Context, addr string) (chain.VaultBalance, error)
}

type betStore interface {
	UpsertFromChain(ctx context.Context, b store.Bet) error
	SetTxHash(ctx context.Context, id uint64, phase store.TxPhase, hash string) error
	AttachSecret(ctx context.Context, id uint64, commitment, side, secret string) error
}

type secretStore interface {
	ByCommitment(ctx context.Context, commitment string) (store.PendingSecret, error)
	Delete(ctx context.Context, commitment string) error
}

type balanceStore interface {
	Upsert(ctx context.Context, addr string, available, locked decimal.Decimal) error
}

type watermarkStore interface {
	LastHeight(ctx context.Context) (int64, error)
	SetLastHeight(ctx context.Context, height int64) error
}

type notifier interface {
	BetEvent(ctx context.Context, e events.BetEvent)
	BalanceEvent(ctx context.Context, e events.BalanceEvent)
	DeadLetter(ctx context.Context, txHash, reason string, payload []byte)
}

// Indexer espelha o contrato no Postgres: varre as txs confirmadas a partir
// do watermark, aplica os eventos wasm em ordem de altura e publica as
// notificações de transição. É a única fonte de escrita confirmada do espelho;
// o engine só grava status transicionais.
type Indexer struct {
	log      *zap.Logger
	chain    chainSource
	bets     betStore
	secrets  secretStore
	balances balanceStore
	state    watermarkStore
	notify   notifier
	pending  *guard.PendingOpCounter
	cache    *querycache.Cache
	interval time.Duration
	batch    int
	seen     *lru.Cache

	OnApplied func(action string) // métricas (counter++ por ação)
	OnError   func(stage string)  // métricas por fase
}

func New(log *zap.Logger, source chainSource, bets betStore, secrets secretStore,
	balances balanceStore, state watermarkStore, notify notifier,
	pending *guard.PendingOpCounter, cache *querycache.Cache,
	interval time.Duration, batch int) *Indexer {
	seen, err := lru.New(seenCacheSize)
	if err != nil {
		panic(err)
	}
	return &Indexer{
		log:      log,
		chain:    source,
		bets:     bets,
		secrets:  secrets,
		balances: balances,
		state:    state,
		notify:   notify,
		pending:  pending,
		cache:    cache,
		interval: interval,
		batch:    batch,
		seen:     seen,
	}
}

// Run roda o loop de poll até o contexto encerrar.
func (ix *Indexer) Run(ctx context.Context) {
	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ix.Poll(ctx); err != nil {
				ix.log.Warn("indexer poll failed", zap.Error(err))
				if ix.OnError != nil {
					ix.OnError("poll")
				}
			}
		}
	}
}

// Poll processa um lote de txs a partir do watermark. A busca é inclusiva na
// última altura processada: o LRU de hashes segura a reaplicação e um bloco
// cortado no meio pelo limite da página é retomado no próximo ciclo.
func (ix *Indexer) Poll(ctx context.Context) error {
	from, err := ix.state.LastHeight(ctx)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}

	recs, err := ix.chain.TxsSince(ctx, from, ix.batch)
	if err != nil {
		return fmt.Errorf("tx search: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	var highest int64
	var abort error
	for _, rec := range recs {
		if ix.seen.Contains(rec.Hash) {
			highest = rec.Height
			continue
		}
		if err := ix.applyTx(ctx, rec); err != nil {
			if errors.Is(err, chain.ErrChainUnreachable) {
				// Chain caiu no meio do lote: para aqui sem marcar a tx.
				// O próximo ciclo retoma exatamente dela.
				abort = fmt.Errorf("apply %s: %w", rec.Hash, err)
				break
			}
			// Falha de aplicação não trava a fila: a tx vai pra DLQ com o
			// payload cru e o watermark passa por cima.
			ix.log.Warn("tx apply failed, dead-lettering",
				zap.String("tx_hash", rec.Hash), zap.Int64("height", rec.Height), zap.Error(err))
			payload, _ := json.Marshal(rec.Events)
			ix.notify.DeadLetter(ctx, rec.Hash, err.Error(), payload)
			if ix.OnError != nil {
				ix.OnError("apply")
			}
		}
		ix.seen.Add(rec.Hash, struct{}{})
		highest = rec.Height
	}

	if highest > 0 {
		if err := ix.state.SetLastHeight(ctx, highest); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	return abort
}

func (ix *Indexer) applyTx(ctx context.Context, rec chain.TxRecord) error {
	for _, ev := range rec.Events {
		if ev.Type != chain.EventTypeWasm {
			continue
		}
		action, ok := ev.Attr(chain.AttrKeyAction)
		if !ok {
			continue
		}
		if err := ix.applyEvent(ctx, rec, ev, action); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		if ix.OnApplied != nil {
			ix.OnApplied(action)
		}
	}
	return nil
}

func (ix *Indexer) applyEvent(ctx context.Context, rec chain.TxRecord, ev chain.Event, action string) error {
	switch action {
	case chain.ActionBetCreated:
		return ix.applyBetCreated(ctx, rec, ev)
	case chain.ActionBetAccepted:
		return ix.applyBetUpdate(ctx, rec, ev, events.TypeBetAccepted, store.PhaseAccept)
	case chain.ActionBetRevealed:
		return ix.applyBetUpdate(ctx, rec, ev, events.TypeBetRevealed, store.PhaseReveal)
	case chain.ActionBetCanceled:
		return ix.applyBetUpdate(ctx, rec, ev, events.TypeBetCanceled, store.PhaseCancel)
	case chain.ActionBetTimeoutClaimed:
		return ix.applyBetUpdate(ctx, rec, ev, events.TypeBetTimeoutClaimed, store.PhaseTimeout)
	case chain.ActionCommissionPaid:
		recipient, ok := ev.Attr(chain.AttrKeyRecipient)
		if !ok {
			return errors.New("commission event without recipient")
		}
		return ix.refreshBalance(ctx, recipient, "commission_paid", rec.Hash)
	case chain.ActionDeposit:
		return ix.refreshUserBalance(ctx, ev, "deposit", rec.Hash)
	case chain.ActionWithdraw:
		return ix.refreshUserBalance(ctx, ev, "withdraw", rec.Hash)
	default:
		ix.log.Debug("ignoring unknown contract action", zap.String("action", action))
		return nil
	}
}

// applyBetCreated importa a aposta recém-criada e dobra o segredo do vault
// pra linha definitiva. O contador de creates em trânsito do maker só cai
// aqui, quando a confirmação chegou.
func (ix *Indexer) applyBetCreated(ctx context.Context, rec chain.TxRecord, ev chain.Event) error {
	view, err := ix.fetchBet(ctx, ev)
	if err != nil {
		return err
	}

	if err := ix.bets.UpsertFromChain(ctx, store.FromChainView(view)); err != nil {
		return fmt.Errorf("upsert bet %d: %w", view.ID, err)
	}
	if err := ix.bets.SetTxHash(ctx, view.ID, store.PhaseCreate, rec.Hash); err != nil {
		return fmt.Errorf("attach create tx hash: %w", err)
	}

	sec, err := ix.secrets.ByCommitment(ctx, view.Commitment)
	switch {
	case err == nil:
		if err := ix.bets.AttachSecret(ctx, view.ID, view.Commitment, sec.Side, sec.Secret); err != nil {
			return fmt.Errorf("fold secret into bet %d: %w", view.ID, err)
		}
	case errors.Is(err, store.ErrNotFound):
		// aposta criada por fora deste processo: sem segredo pra dobrar
	default:
		return fmt.Errorf("load staged secret: %w", err)
	}

	ix.pending.Dec(view.Maker)
	ix.invalidateBet(view)
	if err := ix.refreshBalance(ctx, view.Maker, events.TypeBetCreated, rec.Hash); err != nil {
		ix.log.Warn("maker balance refresh failed", zap.String("address", view.Maker), zap.Error(err))
	}

	ix.notify.BetEvent(ctx, betEvent(events.TypeBetCreated, view, rec))
	return nil
}

// applyBetUpdate reespelha a aposta depois de accept/reveal/cancel/timeout e
// reespelha os saldos de quem a transição mexeu.
func (ix *Indexer) applyBetUpdate(ctx context.Context, rec chain.TxRecord, ev chain.Event,
	eventType string, phase store.TxPhase) error {
	view, err := ix.fetchBet(ctx, ev)
	if err != nil {
		return err
	}

	if err := ix.bets.UpsertFromChain(ctx, store.FromChainView(view)); err != nil {
		return fmt.Errorf("upsert bet %d: %w", view.ID, err)
	}
	if err := ix.bets.SetTxHash(ctx, view.ID, phase, rec.Hash); err != nil {
		return fmt.Errorf("attach %s tx hash: %w", phase, err)
	}

	if view.Status == chain.ChainStatusRevealed || view.Status == chain.ChainStatusCanceled ||
		view.Status == chain.ChainStatusTimeoutClaimed {
		if err := ix.secrets.Delete(ctx, view.Commitment); err != nil {
			ix.log.Warn("stale vault secret cleanup failed",
				zap.Uint64("bet_id", view.ID), zap.Error(err))
		}
	}

	for _, addr := range touchedAddresses(eventType, view) {
		if err := ix.refreshBalance(ctx, addr, eventType, rec.Hash); err != nil {
			ix.log.Warn("balance refresh failed", zap.String("address", addr), zap.Error(err))
		}
	}

	ix.invalidateBet(view)
	ix.notify.BetEvent(ctx, betEvent(eventType, view, rec))
	return nil
}

// fetchBet resolve o bet_id do evento numa visão fresca via smart query.
func (ix *Indexer) fetchBet(ctx context.Context, ev chain.Event) (chain.BetView, error) {
	raw, ok := ev.Attr(chain.AttrKeyBetID)
	if !ok {
		return chain.BetView{}, errors.New("event without bet_id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return chain.BetView{}, fmt.Errorf("bad bet_id %q: %w", raw, err)
	}
	view, err := ix.chain.Bet(ctx, id)
	if err != nil {
		return chain.BetView{}, fmt.Errorf("query bet %d: %w", id, err)
	}
	return view, nil
}

func (ix *Indexer) refreshUserBalance(ctx context.Context, ev chain.Event, reason, txHash string) error {
	user, ok := ev.Attr(chain.AttrKeyUser)
	if !ok {
		return fmt.Errorf("%s event without user", reason)
	}
	return ix.refreshBalance(ctx, user, reason, txHash)
}

// refreshBalance reespelha o saldo on-chain de um endereço e notifica.
func (ix *Indexer) refreshBalance(ctx context.Context, addr, reason, txHash string) error {
	bal, err := ix.chain.VaultBalance(ctx, addr)
	if err != nil {
		return fmt.Errorf("query vault balance: %w", err)
	}
	available, err := decimal.NewFromString(bal.Available)
	if err != nil {
		return fmt.Errorf("bad available %q: %w", bal.Available, err)
	}
	locked, err := decimal.NewFromString(bal.Locked)
	if err != nil {
		return fmt.Errorf("bad locked %q: %w", bal.Locked, err)
	}
	if err := ix.balances.Upsert(ctx, addr, available, locked); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}

	ix.cache.Invalidate(querycache.BalanceKey(addr))
	ix.notify.BalanceEvent(ctx, events.BalanceEvent{
		Address:   addr,
		Available: bal.Available,
		Locked:    bal.Locked,
		Reason:    reason,
		TxHash:    txHash,
	})
	return nil
}

func (ix *Indexer) invalidateBet(view chain.BetView) {
	keys := []string{querycache.BetKey(view.ID), querycache.KeyOpenBets,
		querycache.UserBetsKey(view.Maker)}
	if view.Acceptor != "" {
		keys = append(keys, querycache.UserBetsKey(view.Acceptor))
	}
	ix.cache.Invalidate(keys...)
}

// touchedAddresses lista quem teve saldo mexido pela transição.
func touchedAddresses(eventType string, view chain.BetView) []string {
	switch eventType {
	case events.TypeBetAccepted:
		if view.Acceptor != "" {
			return []string{view.Acceptor}
		}
	case events.TypeBetRevealed, events.TypeBetTimeoutClaimed:
		addrs := []string{view.Maker}
		if view.Acceptor != "" {
			addrs = append(addrs, view.Acceptor)
		}
		return addrs
	case events.TypeBetCanceled:
		return []string{view.Maker}
	}
	return nil
}

func betEvent(eventType string, view chain.BetView, rec chain.TxRecord) events.BetEvent {
	return events.BetEvent{
		Type:       eventType,
		BetID:      view.ID,
		Maker:      view.Maker,
		Acceptor:   view.Acceptor,
		Amount:     view.Amount,
		Status:     view.Status,
		RevealSide: string(view.RevealSide),
		Winner:     view.Winner,
		Payout:     view.Payout,
		Commission: view.Commission,
		TxHash:     rec.Hash,
		Height:     rec.Height,
		Ts:         rec.Time,
	}
}
