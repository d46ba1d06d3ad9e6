package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/guard"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/querycache"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
)

type chainReader interface {
	Bet(ctx context.Context, betID uint64) (chain.BetView, error)
	OpenBets(ctx context.Context) ([]chain.BetView, error)
	UserBets(ctx context.Context, addr string) ([]chain.BetView, error)
	VaultBalance(ctx context.Context, addr string) (chain.VaultBalance, error)
	Config(ctx context.Context) (chain.ContractConfig, error)
}

type submitter interface {
	Submit(ctx context.Context, msg chain.ExecuteMsg, memo string) (chain.TxResult, error)
	Enabled() bool
}

type betStore interface {
	Get(ctx context.Context, id uint64) (store.Bet, error)
	UpsertFromChain(ctx context.Context, b store.Bet) error
	Transition(ctx context.Context, id uint64, from, to string) error
	SetTxHash(ctx context.Context, id uint64, phase store.TxPhase, hash string) error
	ClaimTimeoutTx(ctx context.Context, id uint64, hash string) (bool, error)
	CountOpenByMaker(ctx context.Context, maker string) (int, error)
}

type secretStore interface {
	Stage(ctx context.Context, s store.PendingSecret) error
	SetTxHash(ctx context.Context, commitment, txHash string) error
	ByCommitment(ctx context.Context, commitment string) (store.PendingSecret, error)
}

type balanceStore interface {
	Get(ctx context.Context, addr string) (store.VaultBalanceRow, error)
}

// Config são os knobs locais do engine. Regras de negócio (min bet, limite
// de abertas, janelas) vêm da config do contrato, cacheada.
type Config struct {
	Bech32Prefix   string
	CacheTTL       time.Duration
	ConfigCacheTTL time.Duration
}

// Engine implementa as operações de aposta. Toda escrita segue o mesmo
// roteiro: valida, trava o endereço, checa a visão fresca da chain, marca o
// status transicional local, submete via relayer e invalida o cache.
type Engine struct {
	log      *zap.Logger
	chain    chainReader
	relayer  submitter
	bets     betStore
	secrets  secretStore
	balances balanceStore
	guard    *guard.InflightGuard
	pending  *guard.PendingOpCounter
	cache    *querycache.Cache
	cfg      Config
	now      func() time.Time
}

func New(log *zap.Logger, chainClient chainReader, rel submitter, bets betStore, secrets secretStore,
	balances balanceStore, g *guard.InflightGuard, pending *guard.PendingOpCounter,
	cache *querycache.Cache, cfg Config) *Engine {
	return &Engine{
		log:      log,
		chain:    chainClient,
		relayer:  rel,
		bets:     bets,
		secrets:  secrets,
		balances: balances,
		guard:    g,
		pending:  pending,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Receipt é o retorno das operações de escrita: o hash submetido e o status
// local logo após a submissão (a confirmação chega depois, pelo indexer).
type Receipt struct {
	BetID      uint64 `json:"bet_id,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	TxHash     string `json:"tx_hash"`
	Status     string `json:"status"`
}

// ---- leituras (chain + cache) ----

// GetBet devolve a visão on-chain de uma aposta.
func (e *Engine) GetBet(ctx context.Context, betID uint64) (chain.BetView, error) {
	v, err := e.cache.GetOrFetch(ctx, querycache.BetKey(betID), e.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return e.chain.Bet(ctx, betID)
	})
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return chain.BetView{}, ErrBetNotFound
		}
		return chain.BetView{}, err
	}
	return v.(chain.BetView), nil
}

// OpenBets devolve as apostas abertas do contrato.
func (e *Engine) OpenBets(ctx context.Context) ([]chain.BetView, error) {
	v, err := e.cache.GetOrFetch(ctx, querycache.KeyOpenBets, e.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return e.chain.OpenBets(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]chain.BetView), nil
}

// UserBets devolve as apostas recentes de um endereço.
func (e *Engine) UserBets(ctx context.Context, addr string) ([]chain.BetView, error) {
	if err := e.validAddr(addr); err != nil {
		return nil, err
	}
	v, err := e.cache.GetOrFetch(ctx, querycache.UserBetsKey(addr), e.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return e.chain.UserBets(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.([]chain.BetView), nil
}

// Balance devolve o saldo do endereço no vault. Com a chain fora do ar cai
// pro snapshot local, que pode estar atrasado.
func (e *Engine) Balance(ctx context.Context, addr string) (chain.VaultBalance, error) {
	if err := e.validAddr(addr); err != nil {
		return chain.VaultBalance{}, err
	}
	v, err := e.cache.GetOrFetch(ctx, querycache.BalanceKey(addr), e.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return e.chain.VaultBalance(ctx, addr)
	})
	if err == nil {
		return v.(chain.VaultBalance), nil
	}
	if errors.Is(err, chain.ErrChainUnreachable) {
		row, derr := e.balances.Get(ctx, addr)
		if derr == nil {
			e.log.Warn("serving balance from local snapshot", zap.String("address", addr))
			return chain.VaultBalance{Available: row.Available.String(), Locked: row.Locked.String()}, nil
		}
	}
	return chain.VaultBalance{}, err
}

// ContractConfig devolve a config do contrato (cache mais longo, muda raro).
func (e *Engine) ContractConfig(ctx context.Context) (chain.ContractConfig, error) {
	v, err := e.cache.GetOrFetch(ctx, querycache.KeyConfig, e.cfg.ConfigCacheTTL, func(ctx context.Context) (any, error) {
		return e.chain.Config(ctx)
	})
	if err != nil {
		return chain.ContractConfig{}, err
	}
	return v.(chain.ContractConfig), nil
}

type contractRules struct {
	minBet       decimal.Decimal
	maxOpen      int
	betTTL       time.Duration
	revealWindow time.Duration
}

func (e *Engine) rules(ctx context.Context) (contractRules, error) {
	cfg, err := e.ContractConfig(ctx)
	if err != nil {
		return contractRules{}, err
	}
	minBet, _ := decimal.NewFromString(cfg.MinBet)
	return contractRules{
		minBet:       minBet,
		maxOpen:      int(cfg.MaxOpenPerUser),
		betTTL:       time.Duration(cfg.BetTTLSecs) * time.Second,
		revealWindow: time.Duration(cfg.RevealTimeoutSecs) * time.Second,
	}, nil
}

// ---- escritas ----

// CreateBet guarda o segredo do maker no vault e submete o create. O id da
// aposta só nasce quando a chain confirma; o recibo amarra pelo commitment.
func (e *Engine) CreateBet(ctx context.Context, maker, amountStr string, side chain.Side) (Receipt, error) {
	if err := e.validAddr(maker); err != nil {
		return Receipt{}, err
	}
	if !side.Valid() {
		return Receipt{}, ErrInvalidSide
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return Receipt{}, err
	}

	if err := e.guard.Acquire(maker); err != nil {
		return Receipt{}, err
	}
	defer e.guard.Release(maker)

	rules, err := e.rules(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if amount.LessThan(rules.minBet) {
		return Receipt{}, fmt.Errorf("%w: below contract minimum %s", ErrInvalidAmount, rules.minBet)
	}

	open, err := e.bets.CountOpenByMaker(ctx, maker)
	if err != nil {
		return Receipt{}, err
	}
	if rules.maxOpen > 0 && open+e.pending.Get(maker) >= rules.maxOpen {
		return Receipt{}, ErrTooManyOpenBets
	}

	secret, err := chain.NewSecret()
	if err != nil {
		return Receipt{}, err
	}
	commitment, err := chain.Commitment(maker, side, secret)
	if err != nil {
		return Receipt{}, err
	}

	// o segredo entra no vault antes do broadcast: aposta on-chain sem
	// segredo local é irrecuperável, segredo sem aposta é só lixo pro GC
	if err := e.secrets.Stage(ctx, store.PendingSecret{
		Commitment: commitment,
		Maker:      maker,
		Side:       string(side),
		Secret:     secret,
	}); err != nil {
		return Receipt{}, fmt.Errorf("stage secret: %w", err)
	}

	e.pending.Inc(maker)
	res, err := e.relayer.Submit(ctx, chain.ExecuteMsg{CreateBet: &chain.CreateBetMsg{
		Maker:      maker,
		Amount:     amount.String(),
		Commitment: commitment,
	}}, "")
	if err != nil {
		e.pending.Dec(maker)
		return Receipt{}, err
	}

	if err := e.secrets.SetTxHash(ctx, commitment, res.Hash); err != nil {
		e.log.Error("attach tx hash to secret failed", zap.String("commitment", commitment), zap.Error(err))
	}
	e.cache.Invalidate(querycache.KeyOpenBets, querycache.UserBetsKey(maker), querycache.BalanceKey(maker))

	return Receipt{Commitment: commitment, TxHash: res.Hash, Status: store.StatusOpen}, nil
}

// AcceptBet entra numa aposta aberta com um palpite.
func (e *Engine) AcceptBet(ctx context.Context, acceptor string, betID uint64, guess chain.Side) (Receipt, error) {
	return e.accept(ctx, acceptor, betID, guess, false)
}

// AcceptAndReveal aceita e liquida na mesma transação, usando o segredo do
// vault. Se o segredo não está aqui, só o AcceptBet normal serve.
func (e *Engine) AcceptAndReveal(ctx context.Context, acceptor string, betID uint64, guess chain.Side) (Receipt, error) {
	return e.accept(ctx, acceptor, betID, guess, true)
}

func (e *Engine) accept(ctx context.Context, acceptor string, betID uint64, guess chain.Side, instant bool) (Receipt, error) {
	if err := e.validAddr(acceptor); err != nil {
		return Receipt{}, err
	}
	if !guess.Valid() {
		return Receipt{}, ErrInvalidSide
	}

	if err := e.guard.Acquire(acceptor); err != nil {
		return Receipt{}, err
	}
	defer e.guard.Release(acceptor)

	view, err := e.freshBet(ctx, betID)
	if err != nil {
		return Receipt{}, err
	}
	if view.Status != chain.ChainStatusOpen {
		return Receipt{}, ErrBetNotOpen
	}
	if view.Maker == acceptor {
		return Receipt{}, ErrSelfAccept
	}

	rules, err := e.rules(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if rules.betTTL > 0 && !e.now().Before(time.Unix(view.CreatedAt, 0).Add(rules.betTTL)) {
		return Receipt{}, ErrBetExpired
	}

	msg := chain.ExecuteMsg{AcceptBet: &chain.AcceptBetMsg{Acceptor: acceptor, BetID: betID, Guess: guess}}
	if instant {
		side, secret, serr := e.lookupSecret(ctx, view)
		if serr != nil {
			return Receipt{}, serr
		}
		msg = chain.ExecuteMsg{AcceptAndReveal: &chain.AcceptAndRevealMsg{
			Acceptor: acceptor,
			BetID:    betID,
			Guess:    guess,
			Side:     side,
			Secret:   secret,
		}}
	}

	if err := e.ensureLocal(ctx, view); err != nil {
		return Receipt{}, err
	}
	if err := e.transition(ctx, betID, store.StatusOpen, store.StatusAccepting); err != nil {
		return Receipt{}, err
	}

	res, err := e.relayer.Submit(ctx, msg, "")
	if err != nil {
		if terr := e.transition(ctx, betID, store.StatusAccepting, store.StatusOpen); terr != nil {
			e.log.Warn("accept rollback skipped", zap.Uint64("bet_id", betID), zap.Error(terr))
		}
		return Receipt{}, err
	}

	if err := e.bets.SetTxHash(ctx, betID, store.PhaseAccept, res.Hash); err != nil {
		e.log.Error("attach accept tx hash failed", zap.Uint64("bet_id", betID), zap.Error(err))
	}
	e.cache.Invalidate(querycache.BetKey(betID), querycache.KeyOpenBets,
		querycache.UserBetsKey(acceptor), querycache.UserBetsKey(view.Maker),
		querycache.BalanceKey(acceptor), querycache.BalanceKey(view.Maker))

	return Receipt{BetID: betID, TxHash: res.Hash, Status: store.StatusAccepting}, nil
}

// CancelBet desfaz uma aposta aberta do próprio maker.
func (e *Engine) CancelBet(ctx context.Context, maker string, betID uint64) (Receipt, error) {
	if err := e.validAddr(maker); err != nil {
		return Receipt{}, err
	}
	if err := e.guard.Acquire(maker); err != nil {
		return Receipt{}, err
	}
	defer e.guard.Release(maker)

	view, err := e.freshBet(ctx, betID)
	if err != nil {
		return Receipt{}, err
	}
	if view.Maker != maker {
		return Receipt{}, ErrNotMaker
	}
	if view.Status != chain.ChainStatusOpen {
		return Receipt{}, ErrBetNotOpen
	}

	if err := e.ensureLocal(ctx, view); err != nil {
		return Receipt{}, err
	}
	if err := e.transition(ctx, betID, store.StatusOpen, store.StatusCanceling); err != nil {
		return Receipt{}, err
	}

	res, err := e.relayer.Submit(ctx, chain.ExecuteMsg{CancelBet: &chain.CancelBetMsg{Maker: maker, BetID: betID}}, "")
	if err != nil {
		if terr := e.transition(ctx, betID, store.StatusCanceling, store.StatusOpen); terr != nil {
			e.log.Warn("cancel rollback skipped", zap.Uint64("bet_id", betID), zap.Error(terr))
		}
		return Receipt{}, err
	}

	if err := e.bets.SetTxHash(ctx, betID, store.PhaseCancel, res.Hash); err != nil {
		e.log.Error("attach cancel tx hash failed", zap.Uint64("bet_id", betID), zap.Error(err))
	}
	e.cache.Invalidate(querycache.BetKey(betID), querycache.KeyOpenBets,
		querycache.UserBetsKey(maker), querycache.BalanceKey(maker))

	return Receipt{BetID: betID, TxHash: res.Hash, Status: store.StatusCanceling}, nil
}

// Reveal abre o segredo de uma aposta aceita e liquida o resultado.
func (e *Engine) Reveal(ctx context.Context, maker string, betID uint64) (Receipt, error) {
	if err := e.validAddr(maker); err != nil {
		return Receipt{}, err
	}
	if err := e.guard.Acquire(maker); err != nil {
		return Receipt{}, err
	}
	defer e.guard.Release(maker)

	view, err := e.freshBet(ctx, betID)
	if err != nil {
		return Receipt{}, err
	}
	if view.Maker != maker {
		return Receipt{}, ErrNotMaker
	}
	if view.Status != chain.ChainStatusAccepted {
		return Receipt{}, ErrBetNotAccepted
	}

	side, secret, err := e.lookupSecret(ctx, view)
	if err != nil {
		return Receipt{}, err
	}

	res, err := e.relayer.Submit(ctx, chain.ExecuteMsg{Reveal: &chain.RevealMsg{
		BetID:  betID,
		Side:   side,
		Secret: secret,
	}}, "")
	if err != nil {
		return Receipt{}, err
	}

	if err := e.bets.SetTxHash(ctx, betID, store.PhaseReveal, res.Hash); err != nil {
		e.log.Error("attach reveal tx hash failed", zap.Uint64("bet_id", betID), zap.Error(err))
	}
	e.cache.Invalidate(querycache.BetKey(betID),
		querycache.UserBetsKey(view.Maker), querycache.UserBetsKey(view.Acceptor),
		querycache.BalanceKey(view.Maker), querycache.BalanceKey(view.Acceptor))

	return Receipt{BetID: betID, TxHash: res.Hash, Status: store.StatusAccepted}, nil
}

// ClaimTimeout entrega o pote ao acceptor quando o maker sumiu depois do
// accept. A reserva em timeout_tx_hash garante no máximo um claim por aposta,
// mesmo com o sweep competindo.
func (e *Engine) ClaimTimeout(ctx context.Context, acceptor string, betID uint64) (Receipt, error) {
	if err := e.validAddr(acceptor); err != nil {
		return Receipt{}, err
	}
	if err := e.guard.Acquire(acceptor); err != nil {
		return Receipt{}, err
	}
	defer e.guard.Release(acceptor)

	view, err := e.freshBet(ctx, betID)
	if err != nil {
		return Receipt{}, err
	}
	if view.Status != chain.ChainStatusAccepted {
		return Receipt{}, ErrBetNotAccepted
	}
	if view.Acceptor != acceptor {
		return Receipt{}, ErrNotAcceptor
	}

	rules, err := e.rules(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if view.AcceptedAt == nil || !TimeoutElapsed(time.Unix(*view.AcceptedAt, 0), e.now(), rules.revealWindow) {
		return Receipt{}, ErrTimeoutNotElapsed
	}

	if err := e.ensureLocal(ctx, view); err != nil {
		return Receipt{}, err
	}
	got, err := e.bets.ClaimTimeoutTx(ctx, betID, store.NewClaimMarker())
	if err != nil {
		return Receipt{}, err
	}
	if !got {
		return Receipt{}, ErrClaimInFlight
	}

	res, err := e.relayer.Submit(ctx, chain.ExecuteMsg{ClaimTimeout: &chain.ClaimTimeoutMsg{Acceptor: acceptor, BetID: betID}}, "")
	if err != nil {
		// devolve a reserva pra aposta continuar reclamável
		if herr := e.bets.SetTxHash(ctx, betID, store.PhaseTimeout, ""); herr != nil {
			e.log.Error("release timeout claim failed", zap.Uint64("bet_id", betID), zap.Error(herr))
		}
		return Receipt{}, err
	}

	if err := e.bets.SetTxHash(ctx, betID, store.PhaseTimeout, res.Hash); err != nil {
		e.log.Error("attach timeout tx hash failed", zap.Uint64("bet_id", betID), zap.Error(err))
	}
	e.cache.Invalidate(querycache.BetKey(betID),
		querycache.UserBetsKey(view.Maker), querycache.UserBetsKey(view.Acceptor),
		querycache.BalanceKey(acceptor))

	return Receipt{BetID: betID, TxHash: res.Hash, Status: store.StatusAccepted}, nil
}

// Withdraw saca saldo disponível do vault pra carteira do usuário.
func (e *Engine) Withdraw(ctx context.Context, user, amountStr string) (Receipt, error) {
	if err := e.validAddr(user); err != nil {
		return Receipt{}, err
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return Receipt{}, err
	}

	if err := e.guard.Acquire(user); err != nil {
		return Receipt{}, err
	}
	defer e.guard.Release(user)

	bal, err := e.chain.VaultBalance(ctx, user)
	if err != nil {
		return Receipt{}, err
	}
	available, err := decimal.NewFromString(bal.Available)
	if err != nil {
		return Receipt{}, fmt.Errorf("bad available balance %q: %w", bal.Available, err)
	}
	if available.LessThan(amount) {
		return Receipt{}, ErrInsufficientFunds
	}

	res, err := e.relayer.Submit(ctx, chain.ExecuteMsg{Withdraw: &chain.WithdrawMsg{User: user, Amount: amount.String()}}, "")
	if err != nil {
		return Receipt{}, err
	}

	e.cache.Invalidate(querycache.BalanceKey(user))
	return Receipt{TxHash: res.Hash, Status: "submitted"}, nil
}

// ---- auxiliares ----

func (e *Engine) validAddr(addr string) error {
	if err := chain.ValidateAddress(addr, e.cfg.Bech32Prefix); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// transition aplica uma mudança de status local. A tabela barra par ilegal
// antes do CAS do repo, que segura a corrida.
func (e *Engine) transition(ctx context.Context, id uint64, from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	return e.bets.Transition(ctx, id, from, to)
}

// freshBet lê direto da chain, sem cache: validação de escrita não pode
// decidir em cima de dado velho.
func (e *Engine) freshBet(ctx context.Context, betID uint64) (chain.BetView, error) {
	view, err := e.chain.Bet(ctx, betID)
	if errors.Is(err, chain.ErrNotFound) {
		return chain.BetView{}, ErrBetNotFound
	}
	return view, err
}

// lookupSecret acha o segredo do maker: primeiro a linha local (se o indexer
// já dobrou), senão o vault. Recusa segredo que não abre o commitment.
func (e *Engine) lookupSecret(ctx context.Context, view chain.BetView) (chain.Side, string, error) {
	var side, secret string
	if local, err := e.bets.Get(ctx, view.ID); err == nil && local.MakerSecret != "" {
		side, secret = local.MakerSide, local.MakerSecret
	} else {
		sec, err := e.secrets.ByCommitment(ctx, view.Commitment)
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrSecretUnavailable
		}
		if err != nil {
			return "", "", err
		}
		side, secret = sec.Side, sec.Secret
	}

	if !chain.VerifyCommitment(view.Commitment, view.Maker, chain.Side(side), secret) {
		e.log.Error("stored secret does not open commitment", zap.Uint64("bet_id", view.ID))
		return "", "", ErrSecretUnavailable
	}
	return chain.Side(side), secret, nil
}

// ensureLocal garante a linha local da aposta antes de um CAS. Cobre aposta
// criada por fora ou perdida num gap do indexer.
func (e *Engine) ensureLocal(ctx context.Context, view chain.BetView) error {
	_, err := e.bets.Get(ctx, view.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	e.log.Info("importing bet missing locally", zap.Uint64("bet_id", view.ID))
	return e.bets.UpsertFromChain(ctx, store.FromChainView(view))
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsInteger() || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
