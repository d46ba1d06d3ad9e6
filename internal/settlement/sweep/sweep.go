package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/guard"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/querycache"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
)

// Nomes das fases, usados em logs e labels de métrica.
const (
	PhaseExpireOpen   = "expire_open"
	PhaseAutoReveal   = "auto_reveal"
	PhaseClaimTimeout = "claim_timeout"
	PhaseReconcile    = "reconcile"
)

type chainSource interface {
	Bet(ctx context.Context, betID uint64) (chain.BetView, error)
	OpenBets(ctx context.Context) ([]chain.BetView, error)
	Config(ctx context.Context) (chain.ContractConfig, error)
}

type submitter interface {
	Submit(ctx context.Context, msg chain.ExecuteMsg, memo string) (chain.TxResult, error)
	Ready() bool
	Refresh(ctx context.Context) error
}

type betStore interface {
	Get(ctx context.Context, id uint64) (store.Bet, error)
	UpsertFromChain(ctx context.Context, b store.Bet) error
	Transition(ctx context.Context, id uint64, from, to string) error
	SetTxHash(ctx context.Context, id uint64, phase store.TxPhase, hash string) error
	ClaimTimeoutTx(ctx context.Context, id uint64, hash string) (bool, error)
	AttachSecret(ctx context.Context, id uint64, commitment, side, secret string) error
	OpenExpired(ctx context.Context, cutoff time.Time) ([]store.Bet, error)
	AcceptedWithSecrets(ctx context.Context) ([]store.RevealJob, error)
	AcceptedTimedOut(ctx context.Context, cutoff time.Time) ([]store.Bet, error)
	StuckTransitional(ctx context.Context, cutoff time.Time) ([]store.Bet, error)
	StaleClaimMarkers(ctx context.Context, cutoff time.Time) ([]store.Bet, error)
	NonTerminal(ctx context.Context) ([]store.Bet, error)
}

type secretStore interface {
	ByCommitment(ctx context.Context, commitment string) (store.PendingSecret, error)
}

// Config são os knobs do sweep. As janelas de negócio (TTL de aposta aberta,
// janela de reveal) vêm da config do contrato, não daqui.
type Config struct {
	Interval   time.Duration
	StuckGrace time.Duration
	ConfigTTL  time.Duration
}

// Runner é o varredor de reconciliação: a cada ciclo empurra apostas paradas
// pra frente sem depender de ação do usuário. Toda submissão passa pelo mesmo
// guard e relayer das operações normais; falha num item não derruba os outros.
type Runner struct {
	log     *zap.Logger
	chain   chainSource
	relayer submitter
	bets    betStore
	secrets secretStore
	guard   *guard.InflightGuard
	cache   *querycache.Cache
	cfg     Config
	now     func() time.Time

	OnPhase func(phase string, candidates int) // métricas (gauge de candidatos)
	OnItem  func(phase string)                 // métricas (item resolvido)
	OnError func(phase string)                 // métricas (item falhou)
	OnSkip  func()                             // métricas (ciclo pulado)
}

func New(log *zap.Logger, source chainSource, rel submitter, bets betStore,
	secrets secretStore, g *guard.InflightGuard, cache *querycache.Cache, cfg Config) *Runner {
	return &Runner{
		log:     log,
		chain:   source,
		relayer: rel,
		bets:    bets,
		secrets: secrets,
		guard:   g,
		cache:   cache,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run roda ciclos no intervalo configurado até o contexto encerrar.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executa as quatro fases uma vez, na ordem. Sem relayer pronto o
// ciclo inteiro é pulado: sem sequence não há o que submeter, e as fases de
// leitura rodariam contra uma chain que acabou de falhar.
func (r *Runner) RunCycle(ctx context.Context) {
	if !r.relayer.Ready() {
		if err := r.relayer.Refresh(ctx); err != nil || !r.relayer.Ready() {
			r.log.Warn("sweep cycle skipped, relayer not ready")
			if r.OnSkip != nil {
				r.OnSkip()
			}
			return
		}
	}

	rules, err := r.rules(ctx)
	if err != nil {
		r.log.Warn("sweep cycle skipped, contract config unavailable", zap.Error(err))
		if r.OnSkip != nil {
			r.OnSkip()
		}
		return
	}

	r.expireOpen(ctx, rules)
	r.autoReveal(ctx, rules)
	r.claimTimeouts(ctx, rules)
	r.reconcile(ctx)
}

type cycleRules struct {
	betTTL       time.Duration
	revealWindow time.Duration
	treasury     string
}

// rules lê a config do contrato pelo cache compartilhado com o engine.
func (r *Runner) rules(ctx context.Context) (cycleRules, error) {
	v, err := r.cache.GetOrFetch(ctx, querycache.KeyConfig, r.cfg.ConfigTTL,
		func(ctx context.Context) (any, error) {
			return r.chain.Config(ctx)
		})
	if err != nil {
		return cycleRules{}, err
	}
	cfg := v.(chain.ContractConfig)
	return cycleRules{
		betTTL:       time.Duration(cfg.BetTTLSecs) * time.Second,
		revealWindow: time.Duration(cfg.RevealTimeoutSecs) * time.Second,
		treasury:     cfg.Treasury,
	}, nil
}

// ---- fase 1: cancelar apostas abertas vencidas ----

func (r *Runner) expireOpen(ctx context.Context, rules cycleRules) {
	if rules.betTTL <= 0 {
		return
	}
	cands, err := r.bets.OpenExpired(ctx, r.now().Add(-rules.betTTL))
	if err != nil {
		r.phaseErr(PhaseExpireOpen, err)
		return
	}
	r.phaseStart(PhaseExpireOpen, len(cands))

	for _, bet := range cands {
		if err := r.expireOne(ctx, bet); err != nil {
			r.phaseErr(PhaseExpireOpen, fmt.Errorf("bet %d: %w", bet.ID, err))
			continue
		}
		r.itemDone(PhaseExpireOpen)
	}
}

func (r *Runner) expireOne(ctx context.Context, bet store.Bet) error {
	if err := r.guard.Acquire(bet.Maker); err != nil {
		return err
	}
	defer r.guard.Release(bet.Maker)

	view, err := r.chain.Bet(ctx, bet.ID)
	if err != nil {
		return err
	}
	if view.Status != chain.ChainStatusOpen {
		return r.snapToChain(ctx, bet, view)
	}

	if err := r.bets.Transition(ctx, bet.ID, store.StatusOpen, store.StatusCanceling); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		return err
	}

	res, err := r.relayer.Submit(ctx,
		chain.ExecuteMsg{CancelBet: &chain.CancelBetMsg{Maker: bet.Maker, BetID: bet.ID}}, "sweep")
	if err != nil {
		if terr := r.bets.Transition(ctx, bet.ID, store.StatusCanceling, store.StatusOpen); terr != nil {
			r.log.Warn("expire rollback skipped", zap.Uint64("bet_id", bet.ID), zap.Error(terr))
		}
		return err
	}

	if err := r.bets.SetTxHash(ctx, bet.ID, store.PhaseCancel, res.Hash); err != nil {
		r.log.Error("attach cancel tx hash failed", zap.Uint64("bet_id", bet.ID), zap.Error(err))
	}
	r.log.Info("expired open bet canceled",
		zap.Uint64("bet_id", bet.ID), zap.String("tx_hash", res.Hash))
	r.invalidateBet(bet)
	return nil
}

// ---- fase 2: auto-reveal de apostas aceitas ----

func (r *Runner) autoReveal(ctx context.Context, rules cycleRules) {
	jobs, err := r.bets.AcceptedWithSecrets(ctx)
	if err != nil {
		r.phaseErr(PhaseAutoReveal, err)
		return
	}
	r.phaseStart(PhaseAutoReveal, len(jobs))

	for _, job := range jobs {
		// fora da janela o reveal vira disputa com o claim; deixa pra fase 3
		if rules.revealWindow > 0 && job.Bet.AcceptedAtChain != nil &&
			!r.now().Before(job.Bet.AcceptedAtChain.Add(rules.revealWindow)) {
			continue
		}
		if err := r.revealOne(ctx, job); err != nil {
			r.phaseErr(PhaseAutoReveal, fmt.Errorf("bet %d: %w", job.Bet.ID, err))
			continue
		}
		r.itemDone(PhaseAutoReveal)
	}
}

func (r *Runner) revealOne(ctx context.Context, job store.RevealJob) error {
	if !chain.VerifyCommitment(job.Bet.Commitment, job.Bet.Maker, chain.Side(job.Side), job.Secret) {
		return fmt.Errorf("secret for bet %d does not open commitment", job.Bet.ID)
	}

	if err := r.guard.Acquire(job.Bet.Maker); err != nil {
		return err
	}
	defer r.guard.Release(job.Bet.Maker)

	// releitura imediatamente antes do submit: outro ator pode ter resolvido
	view, err := r.chain.Bet(ctx, job.Bet.ID)
	if err != nil {
		return err
	}
	if view.Status != chain.ChainStatusAccepted {
		return r.snapToChain(ctx, job.Bet, view)
	}

	res, err := r.relayer.Submit(ctx, chain.ExecuteMsg{Reveal: &chain.RevealMsg{
		BetID:  job.Bet.ID,
		Side:   chain.Side(job.Side),
		Secret: job.Secret,
	}}, "sweep")
	if err != nil {
		return err
	}

	if err := r.bets.SetTxHash(ctx, job.Bet.ID, store.PhaseReveal, res.Hash); err != nil {
		r.log.Error("attach reveal tx hash failed", zap.Uint64("bet_id", job.Bet.ID), zap.Error(err))
	}
	r.log.Info("auto-revealed bet",
		zap.Uint64("bet_id", job.Bet.ID), zap.String("tx_hash", res.Hash))
	r.invalidateBet(job.Bet)
	return nil
}

// ---- fase 3: claim de timeout pro acceptor ----

func (r *Runner) claimTimeouts(ctx context.Context, rules cycleRules) {
	if rules.revealWindow <= 0 {
		return
	}
	cands, err := r.bets.AcceptedTimedOut(ctx, r.now().Add(-rules.revealWindow))
	if err != nil {
		r.phaseErr(PhaseClaimTimeout, err)
		return
	}
	r.phaseStart(PhaseClaimTimeout, len(cands))

	for _, bet := range cands {
		if err := r.claimOne(ctx, bet, rules); err != nil {
			r.phaseErr(PhaseClaimTimeout, fmt.Errorf("bet %d: %w", bet.ID, err))
			continue
		}
		r.itemDone(PhaseClaimTimeout)
	}
}

func (r *Runner) claimOne(ctx context.Context, bet store.Bet, rules cycleRules) error {
	if bet.Acceptor == "" {
		return fmt.Errorf("accepted bet %d without acceptor", bet.ID)
	}
	if err := r.guard.Acquire(bet.Acceptor); err != nil {
		return err
	}
	defer r.guard.Release(bet.Acceptor)

	view, err := r.chain.Bet(ctx, bet.ID)
	if err != nil {
		return err
	}
	if view.Status != chain.ChainStatusAccepted {
		return r.snapToChain(ctx, bet, view)
	}
	if view.AcceptedAt == nil ||
		r.now().Sub(time.Unix(*view.AcceptedAt, 0)) < rules.revealWindow {
		return nil
	}

	// reserva local: garante no máximo um claim por aposta entre ciclos e
	// entre o sweep e um claim manual
	got, err := r.bets.ClaimTimeoutTx(ctx, bet.ID, store.NewClaimMarker())
	if err != nil {
		return err
	}
	if !got {
		return nil
	}

	res, err := r.relayer.Submit(ctx,
		chain.ExecuteMsg{ClaimTimeout: &chain.ClaimTimeoutMsg{Acceptor: bet.Acceptor, BetID: bet.ID}}, "sweep")
	if err != nil {
		if herr := r.bets.SetTxHash(ctx, bet.ID, store.PhaseTimeout, ""); herr != nil {
			r.log.Error("release timeout claim failed", zap.Uint64("bet_id", bet.ID), zap.Error(herr))
		}
		return err
	}

	if err := r.bets.SetTxHash(ctx, bet.ID, store.PhaseTimeout, res.Hash); err != nil {
		r.log.Error("attach timeout tx hash failed", zap.Uint64("bet_id", bet.ID), zap.Error(err))
	}
	r.log.Info("claimed bet by timeout",
		zap.Uint64("bet_id", bet.ID), zap.String("acceptor", bet.Acceptor), zap.String("tx_hash", res.Hash))
	r.invalidateBet(bet)
	return nil
}

// ---- fase 4: órfãos e reconcílio ----

func (r *Runner) reconcile(ctx context.Context) {
	r.importOrphans(ctx)
	r.unstickTransitional(ctx)
	r.releaseStaleClaims(ctx)
}

// importOrphans espelha apostas abertas que existem na chain e não aqui
// (criadas por outro processo ou perdidas num gap do indexer), recuperando o
// segredo do vault quando houver.
func (r *Runner) importOrphans(ctx context.Context) {
	views, err := r.chain.OpenBets(ctx)
	if err != nil {
		r.phaseErr(PhaseReconcile, err)
		return
	}

	var imported int
	for _, view := range views {
		_, err := r.bets.Get(ctx, view.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.phaseErr(PhaseReconcile, fmt.Errorf("orphan %d: %w", view.ID, err))
			continue
		}

		if err := r.bets.UpsertFromChain(ctx, store.FromChainView(view)); err != nil {
			r.phaseErr(PhaseReconcile, fmt.Errorf("orphan %d: %w", view.ID, err))
			continue
		}
		if sec, serr := r.secrets.ByCommitment(ctx, view.Commitment); serr == nil {
			if aerr := r.bets.AttachSecret(ctx, view.ID, view.Commitment, sec.Side, sec.Secret); aerr != nil {
				r.log.Warn("orphan secret recovery failed",
					zap.Uint64("bet_id", view.ID), zap.Error(aerr))
			}
		}
		r.log.Info("imported orphan bet", zap.Uint64("bet_id", view.ID))
		imported++
		r.itemDone(PhaseReconcile)
	}
	if imported > 0 {
		r.cache.Invalidate(querycache.KeyOpenBets)
	}
}

// unstickTransitional resolve apostas paradas em accepting/canceling além do
// prazo de graça: volta pra trás se o broadcast morreu, anda pra frente se o
// indexer perdeu a confirmação.
func (r *Runner) unstickTransitional(ctx context.Context) {
	cands, err := r.bets.StuckTransitional(ctx, r.now().Add(-r.cfg.StuckGrace))
	if err != nil {
		r.phaseErr(PhaseReconcile, err)
		return
	}

	for _, bet := range cands {
		view, err := r.chain.Bet(ctx, bet.ID)
		if err != nil {
			r.phaseErr(PhaseReconcile, fmt.Errorf("stuck bet %d: %w", bet.ID, err))
			continue
		}
		if err := r.snapToChain(ctx, bet, view); err != nil {
			r.phaseErr(PhaseReconcile, fmt.Errorf("stuck bet %d: %w", bet.ID, err))
			continue
		}
		r.itemDone(PhaseReconcile)
	}
}

// releaseStaleClaims devolve reservas de claim cujo broadcast nunca confirmou,
// deixando a aposta reclamável de novo no próximo ciclo.
func (r *Runner) releaseStaleClaims(ctx context.Context) {
	cands, err := r.bets.StaleClaimMarkers(ctx, r.now().Add(-r.cfg.StuckGrace))
	if err != nil {
		r.phaseErr(PhaseReconcile, err)
		return
	}

	for _, bet := range cands {
		view, err := r.chain.Bet(ctx, bet.ID)
		if err != nil {
			r.phaseErr(PhaseReconcile, fmt.Errorf("stale claim %d: %w", bet.ID, err))
			continue
		}
		if view.Status != chain.ChainStatusAccepted {
			if err := r.snapToChain(ctx, bet, view); err != nil {
				r.phaseErr(PhaseReconcile, fmt.Errorf("stale claim %d: %w", bet.ID, err))
			}
			continue
		}
		if err := r.bets.SetTxHash(ctx, bet.ID, store.PhaseTimeout, ""); err != nil {
			r.phaseErr(PhaseReconcile, fmt.Errorf("stale claim %d: %w", bet.ID, err))
			continue
		}
		r.log.Info("released stale timeout claim", zap.Uint64("bet_id", bet.ID))
		r.itemDone(PhaseReconcile)
	}
}

// Resync roda uma passada de boot: toda aposta local não terminal é conferida
// contra a chain e avançada quando a chain já foi além. Rollbacks ficam pro
// ciclo normal, que respeita o prazo de graça.
func (r *Runner) Resync(ctx context.Context) error {
	rows, err := r.bets.NonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal bets: %w", err)
	}

	var synced int
	for _, bet := range rows {
		view, err := r.chain.Bet(ctx, bet.ID)
		if err != nil {
			if errors.Is(err, chain.ErrChainUnreachable) {
				return fmt.Errorf("resync bet %d: %w", bet.ID, err)
			}
			r.log.Warn("resync chain lookup failed", zap.Uint64("bet_id", bet.ID), zap.Error(err))
			continue
		}
		if view.Status == bet.Status {
			continue
		}
		if !forwardOnly(view.Status) {
			continue
		}
		if err := r.bets.UpsertFromChain(ctx, store.FromChainView(view)); err != nil {
			r.log.Warn("resync upsert failed", zap.Uint64("bet_id", bet.ID), zap.Error(err))
			continue
		}
		r.invalidateBet(bet)
		synced++
	}
	if synced > 0 {
		r.log.Info("resynced local mirror from chain", zap.Int("bets", synced))
	}
	return nil
}

// forwardOnly aceita só snaps que andam pra frente: chain terminal ou chain
// já em aceita. Chain em open com local transicional é rollback, não snap.
func forwardOnly(onChain string) bool {
	return store.IsTerminal(onChain) || onChain == chain.ChainStatusAccepted
}

// snapToChain alinha a linha local com a visão fresca da chain. Pra chain em
// open, um transicional local volta pra open (broadcast morto); pros demais a
// visão da chain simplesmente substitui a local.
func (r *Runner) snapToChain(ctx context.Context, bet store.Bet, view chain.BetView) error {
	if view.Status == chain.ChainStatusOpen {
		switch bet.Status {
		case store.StatusAccepting, store.StatusCanceling:
			err := r.bets.Transition(ctx, bet.ID, bet.Status, store.StatusOpen)
			if errors.Is(err, store.ErrStatusConflict) {
				return nil
			}
			if err != nil {
				return err
			}
			r.log.Info("rolled stuck bet back to open",
				zap.Uint64("bet_id", bet.ID), zap.String("was", bet.Status))
			r.invalidateBet(bet)
			return nil
		default:
			return nil
		}
	}

	if err := r.bets.UpsertFromChain(ctx, store.FromChainView(view)); err != nil {
		return err
	}
	r.log.Info("snapped bet to chain status",
		zap.Uint64("bet_id", bet.ID), zap.String("from", bet.Status), zap.String("to", view.Status))
	r.invalidateBet(bet)
	return nil
}

func (r *Runner) invalidateBet(bet store.Bet) {
	keys := []string{querycache.BetKey(bet.ID), querycache.KeyOpenBets,
		querycache.UserBetsKey(bet.Maker)}
	if bet.Acceptor != "" {
		keys = append(keys, querycache.UserBetsKey(bet.Acceptor))
	}
	r.cache.Invalidate(keys...)
}

func (r *Runner) phaseStart(phase string, candidates int) {
	if candidates > 0 {
		r.log.Info("sweep phase candidates",
			zap.String("phase", phase), zap.Int("count", candidates))
	}
	if r.OnPhase != nil {
		r.OnPhase(phase, candidates)
	}
}

func (r *Runner) itemDone(phase string) {
	if r.OnItem != nil {
		r.OnItem(phase)
	}
}

func (r *Runner) phaseErr(phase string, err error) {
	r.log.Warn("sweep phase error", zap.String("phase", phase), zap.Error(err))
	if r.OnError != nil {
		r.OnError(phase)
	}
}
