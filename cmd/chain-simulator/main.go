package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/config"
	"github.com/flipvault/coinflip-settlement-poc/internal/shared/logger"
)

// Métricas Prometheus do simulador
var (
	txsServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_sim_txs_total",
		Help: "broadcasts atendidos, por resultado",
	}, []string{"result"})
	queriesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chain_sim_smart_queries_total",
		Help: "smart queries atendidas",
	})
)

// saldo inicial creditado na primeira vez que um endereço aparece
var faucetGrant = decimal.NewFromInt(1_000_000_000)

type simAccount struct {
	number   uint64
	sequence uint64
}

type simBalance struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

type simBet struct {
	id         uint64
	maker      string
	amount     decimal.Decimal
	commitment string
	status     string
	acceptor   string
	guess      chain.Side
	createdAt  time.Time
	acceptedAt *time.Time
	revealSide chain.Side
	winner     string
	payout     decimal.Decimal
	commission decimal.Decimal
}

type simTx struct {
	hash   string
	height int64
	time   time.Time
	events []chain.Event
}

// execError é uma rejeição do contrato: vira code != 0 no tx_response, sem
// consumir a sequence (a tx nunca entra no mempool).
type execError struct {
	code uint32
	log  string
}

func (e *execError) Error() string { return e.log }

func reject(code uint32, format string, args ...any) *execError {
	return &execError{code: code, log: fmt.Sprintf(format, args...)}
}

// simulator guarda todo o estado da chain fake: contas, saldos do vault,
// apostas e o log de transações confirmadas. Um mutex só; o volume é de
// ambiente de desenvolvimento.
type simulator struct {
	log    *zap.Logger
	cfg    chain.ContractConfig
	prefix string

	mu       sync.Mutex
	accounts map[string]*simAccount
	balances map[string]*simBalance
	bets     map[uint64]*simBet
	nextAcc  uint64
	nextBet  uint64
	height   int64
	txs      []simTx
}

func newSimulator(log *zap.Logger, cfg config.Config) *simulator {
	return &simulator{
		log:    log,
		prefix: cfg.Bech32Prefix,
		cfg: chain.ContractConfig{
			Admin:             cfg.Bech32Prefix + "1admin",
			Treasury:          cfg.Bech32Prefix + "1treasury",
			CommissionBps:     200,
			MinBet:            "1000",
			RevealTimeoutSecs: uint64(cfg.RevealTimeout / time.Second),
			MaxOpenPerUser:    5,
			BetTTLSecs:        uint64(cfg.OpenBetTTL / time.Second),
		},
		accounts: make(map[string]*simAccount),
		balances: make(map[string]*simBalance),
		bets:     make(map[uint64]*simBet),
	}
}

// ensureAccount cria a conta no primeiro acesso (faucet implícito: todo
// endereço nasce com saldo pra apostar no ambiente local).
func (s *simulator) ensureAccount(addr string) *simAccount {
	acct, ok := s.accounts[addr]
	if !ok {
		acct = &simAccount{number: s.nextAcc}
		s.nextAcc++
		s.accounts[addr] = acct
		s.ensureBalance(addr)
	}
	return acct
}

func (s *simulator) ensureBalance(addr string) *simBalance {
	bal, ok := s.balances[addr]
	if !ok {
		bal = &simBalance{available: faucetGrant, locked: decimal.Zero}
		s.balances[addr] = bal
	}
	return bal
}

func (s *simulator) openCountByMaker(maker string) int {
	n := 0
	for _, b := range s.bets {
		if b.maker == maker && b.status == chain.ChainStatusOpen {
			n++
		}
	}
	return n
}

func (s *simulator) view(b *simBet) chain.BetView {
	v := chain.BetView{
		ID:            b.id,
		Maker:         b.maker,
		Amount:        b.amount.String(),
		Commitment:    b.commitment,
		Status:        b.status,
		Acceptor:      b.acceptor,
		AcceptorGuess: b.guess,
		CreatedAt:     b.createdAt.Unix(),
		RevealSide:    b.revealSide,
		Winner:        b.winner,
	}
	if b.acceptedAt != nil {
		t := b.acceptedAt.Unix()
		v.AcceptedAt = &t
	}
	if !b.payout.IsZero() {
		v.Payout = b.payout.String()
	}
	if !b.commission.IsZero() {
		v.Commission = b.commission.String()
	}
	return v
}

// ==== execução do contrato ====

func (s *simulator) execute(sender string, msg chain.ExecuteMsg) ([]chain.Event, error) {
	switch {
	case msg.CreateBet != nil:
		return s.execCreate(msg.CreateBet)
	case msg.AcceptBet != nil:
		return s.execAccept(msg.AcceptBet.Acceptor, msg.AcceptBet.BetID, msg.AcceptBet.Guess)
	case msg.AcceptAndReveal != nil:
		m := msg.AcceptAndReveal
		// a tx é atômica: confere o commitment antes de mexer no estado
		if bet, ok := s.bets[m.BetID]; ok &&
			!chain.VerifyCommitment(bet.commitment, bet.maker, m.Side, m.Secret) {
			return nil, reject(6, "reveal does not match commitment")
		}
		accepted, err := s.execAccept(m.Acceptor, m.BetID, m.Guess)
		if err != nil {
			return nil, err
		}
		revealed, err := s.execReveal(m.BetID, m.Side, m.Secret)
		if err != nil {
			return nil, err
		}
		return append(accepted, revealed...), nil
	case msg.CancelBet != nil:
		return s.execCancel(msg.CancelBet)
	case msg.Reveal != nil:
		return s.execReveal(msg.Reveal.BetID, msg.Reveal.Side, msg.Reveal.Secret)
	case msg.ClaimTimeout != nil:
		return s.execClaimTimeout(msg.ClaimTimeout)
	case msg.Withdraw != nil:
		return s.execWithdraw(msg.Withdraw)
	}
	return nil, reject(6, "unknown execute msg from %s", sender)
}

func (s *simulator) execCreate(m *chain.CreateBetMsg) ([]chain.Event, error) {
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		return nil, reject(6, "invalid bet amount %q", m.Amount)
	}
	minBet, _ := decimal.NewFromString(s.cfg.MinBet)
	if amount.LessThan(minBet) {
		return nil, reject(6, "bet amount below minimum %s", s.cfg.MinBet)
	}
	if len(m.Commitment) != 64 {
		return nil, reject(6, "commitment must be 32 bytes hex")
	}
	if s.openCountByMaker(m.Maker) >= int(s.cfg.MaxOpenPerUser) {
		return nil, reject(6, "max open bets per user reached")
	}

	bal := s.ensureBalance(m.Maker)
	if bal.available.LessThan(amount) {
		return nil, reject(5, "insufficient available balance: have %s, need %s", bal.available, amount)
	}
	bal.available = bal.available.Sub(amount)
	bal.locked = bal.locked.Add(amount)

	s.nextBet++
	bet := &simBet{
		id:         s.nextBet,
		maker:      m.Maker,
		amount:     amount,
		commitment: m.Commitment,
		status:     chain.ChainStatusOpen,
		createdAt:  time.Now().UTC(),
	}
	s.bets[bet.id] = bet

	return []chain.Event{wasmEvent(chain.ActionBetCreated,
		attr(chain.AttrKeyBetID, strconv.FormatUint(bet.id, 10)),
		attr(chain.AttrKeyMaker, m.Maker),
		attr(chain.AttrKeyAmount, amount.String()),
	)}, nil
}

func (s *simulator) execAccept(acceptor string, betID uint64, guess chain.Side) ([]chain.Event, error) {
	bet, ok := s.bets[betID]
	if !ok {
		return nil, reject(6, "bet %d not found", betID)
	}
	if bet.status != chain.ChainStatusOpen {
		return nil, reject(6, "bet %d is %s, not open", betID, bet.status)
	}
	if acceptor == bet.maker {
		return nil, reject(6, "maker cannot accept own bet")
	}
	if !guess.Valid() {
		return nil, reject(6, "invalid guess %q", guess)
	}
	if s.cfg.BetTTLSecs > 0 &&
		time.Since(bet.createdAt) > time.Duration(s.cfg.BetTTLSecs)*time.Second {
		return nil, reject(6, "bet %d expired", betID)
	}

	bal := s.ensureBalance(acceptor)
	if bal.available.LessThan(bet.amount) {
		return nil, reject(5, "insufficient available balance: have %s, need %s", bal.available, bet.amount)
	}
	bal.available = bal.available.Sub(bet.amount)
	bal.locked = bal.locked.Add(bet.amount)

	now := time.Now().UTC()
	bet.status = chain.ChainStatusAccepted
	bet.acceptor = acceptor
	bet.guess = guess
	bet.acceptedAt = &now

	return []chain.Event{wasmEvent(chain.ActionBetAccepted,
		attr(chain.AttrKeyBetID, strconv.FormatUint(betID, 10)),
		attr(chain.AttrKeyMaker, bet.maker),
		attr(chain.AttrKeyAcceptor, acceptor),
	)}, nil
}

func (s *simulator) execCancel(m *chain.CancelBetMsg) ([]chain.Event, error) {
	bet, ok := s.bets[m.BetID]
	if !ok {
		return nil, reject(6, "bet %d not found", m.BetID)
	}
	if bet.status != chain.ChainStatusOpen {
		return nil, reject(6, "bet %d is %s, not open", m.BetID, bet.status)
	}
	if m.Maker != bet.maker {
		return nil, reject(6, "only the maker can cancel")
	}

	bal := s.ensureBalance(bet.maker)
	bal.locked = bal.locked.Sub(bet.amount)
	bal.available = bal.available.Add(bet.amount)
	bet.status = chain.ChainStatusCanceled

	return []chain.Event{wasmEvent(chain.ActionBetCanceled,
		attr(chain.AttrKeyBetID, strconv.FormatUint(m.BetID, 10)),
		attr(chain.AttrKeyMaker, bet.maker),
	)}, nil
}

func (s *simulator) execReveal(betID uint64, side chain.Side, secret string) ([]chain.Event, error) {
	bet, ok := s.bets[betID]
	if !ok {
		return nil, reject(6, "bet %d not found", betID)
	}
	if bet.status != chain.ChainStatusAccepted {
		return nil, reject(6, "bet %d is %s, not accepted", betID, bet.status)
	}
	if !chain.VerifyCommitment(bet.commitment, bet.maker, side, secret) {
		return nil, reject(6, "reveal does not match commitment")
	}

	// acceptor acerta o palpite → acceptor leva; erra → maker leva
	winner := bet.maker
	if bet.guess == side {
		winner = bet.acceptor
	}
	bet.revealSide = side
	events := s.settle(bet, winner, chain.ChainStatusRevealed, chain.ActionBetRevealed)
	return events, nil
}

func (s *simulator) execClaimTimeout(m *chain.ClaimTimeoutMsg) ([]chain.Event, error) {
	bet, ok := s.bets[m.BetID]
	if !ok {
		return nil, reject(6, "bet %d not found", m.BetID)
	}
	if bet.status != chain.ChainStatusAccepted {
		return nil, reject(6, "bet %d is %s, not accepted", m.BetID, bet.status)
	}
	if m.Acceptor != bet.acceptor {
		return nil, reject(6, "only the acceptor can claim timeout")
	}
	if bet.acceptedAt == nil ||
		time.Since(*bet.acceptedAt) < time.Duration(s.cfg.RevealTimeoutSecs)*time.Second {
		return nil, reject(6, "reveal window still open for bet %d", m.BetID)
	}

	events := s.settle(bet, bet.acceptor, chain.ChainStatusTimeoutClaimed, chain.ActionBetTimeoutClaimed)
	return events, nil
}

// settle liquida uma aposta aceita: pote = 2×amount, comissão em bps pro
// treasury, resto pro vencedor. Os bloqueios dos dois lados saem do vault.
func (s *simulator) settle(bet *simBet, winner, status, action string) []chain.Event {
	pot := bet.amount.Mul(decimal.NewFromInt(2))
	commission := pot.Mul(decimal.NewFromInt(int64(s.cfg.CommissionBps))).
		Div(decimal.NewFromInt(10_000)).Floor()
	payout := pot.Sub(commission)

	makerBal := s.ensureBalance(bet.maker)
	makerBal.locked = makerBal.locked.Sub(bet.amount)
	acceptorBal := s.ensureBalance(bet.acceptor)
	acceptorBal.locked = acceptorBal.locked.Sub(bet.amount)

	winnerBal := s.ensureBalance(winner)
	winnerBal.available = winnerBal.available.Add(payout)
	treasury := s.ensureBalance(s.cfg.Treasury)
	treasury.available = treasury.available.Add(commission)

	bet.status = status
	bet.winner = winner
	bet.payout = payout
	bet.commission = commission

	return []chain.Event{
		wasmEvent(action,
			attr(chain.AttrKeyBetID, strconv.FormatUint(bet.id, 10)),
			attr(chain.AttrKeyMaker, bet.maker),
			attr(chain.AttrKeyAcceptor, bet.acceptor),
			attr(chain.AttrKeyWinner, winner),
			attr(chain.AttrKeyAmount, payout.String()),
		),
		wasmEvent(chain.ActionCommissionPaid,
			attr(chain.AttrKeyRecipient, s.cfg.Treasury),
			attr(chain.AttrKeyAmount, commission.String()),
		),
	}
}

func (s *simulator) execWithdraw(m *chain.WithdrawMsg) ([]chain.Event, error) {
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		return nil, reject(6, "invalid withdraw amount %q", m.Amount)
	}
	bal := s.ensureBalance(m.User)
	if bal.available.LessThan(amount) {
		return nil, reject(5, "insufficient available balance: have %s, need %s", bal.available, amount)
	}
	bal.available = bal.available.Sub(amount)

	return []chain.Event{wasmEvent(chain.ActionWithdraw,
		attr(chain.AttrKeyUser, m.User),
		attr(chain.AttrKeyAmount, amount.String()),
	)}, nil
}

// ==== handlers HTTP (superfície LCD que o client consome) ====

func (s *simulator) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, "/cosmos/auth/v1beta1/accounts/")
	if addr == "" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	acct := s.ensureAccount(addr)
	number, sequence := acct.number, acct.sequence
	s.mu.Unlock()

	writeJSON(w, map[string]any{"account": map[string]string{
		"account_number": strconv.FormatUint(number, 10),
		"sequence":       strconv.FormatUint(sequence, 10),
	}})
}

func (s *simulator) handleTxs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleBroadcast(w, r)
	case http.MethodGet:
		s.handleSearch(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *simulator) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req struct {
		TxBytes string `json:"tx_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.TxBytes)
	if err != nil {
		http.Error(w, "tx_bytes is not valid base64", http.StatusBadRequest)
		return
	}
	var tx chain.Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		http.Error(w, "tx_bytes is not a valid tx", http.StatusBadRequest)
		return
	}

	hash := txHash(raw)
	if err := chain.VerifyTx(tx, s.prefix); err != nil {
		s.writeTxResponse(w, hash, 4, "unauthorized: "+err.Error(), "bad_signature")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.ensureAccount(tx.Doc.Sender)
	if tx.Doc.Sequence != acct.sequence {
		s.writeTxResponse(w, hash, 32, fmt.Sprintf(
			"account sequence mismatch, expected %d, got %d: incorrect account sequence",
			acct.sequence, tx.Doc.Sequence), "sequence_mismatch")
		return
	}

	events, execErr := s.execute(tx.Doc.Sender, tx.Doc.Msg)
	if execErr != nil {
		var rej *execError
		if errors.As(execErr, &rej) {
			s.writeTxResponse(w, hash, rej.code, "failed to execute message: "+rej.log, "rejected")
			return
		}
		s.writeTxResponse(w, hash, 1, execErr.Error(), "rejected")
		return
	}

	// tx aceita: consome a sequence e entra no log com altura própria
	acct.sequence++
	s.height++
	s.txs = append(s.txs, simTx{hash: hash, height: s.height, time: time.Now().UTC(), events: events})

	s.log.Info("tx executed",
		zap.String("kind", tx.Doc.Msg.Kind()),
		zap.String("tx_hash", hash),
		zap.Int64("height", s.height))
	s.writeTxResponse(w, hash, 0, "", "ok")
}

func (s *simulator) handleSearch(w http.ResponseWriter, r *http.Request) {
	var from int64
	for _, ev := range r.URL.Query()["events"] {
		if v, ok := strings.CutPrefix(ev, "tx.height>="); ok {
			from, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	limit := 100
	if v := r.URL.Query().Get("pagination.limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	type txLogOut struct {
		Events []chain.Event `json:"events"`
	}
	type txOut struct {
		TxHash    string     `json:"txhash"`
		Height    string     `json:"height"`
		Timestamp string     `json:"timestamp"`
		Logs      []txLogOut `json:"logs"`
	}

	s.mu.Lock()
	out := make([]txOut, 0, limit)
	for _, tx := range s.txs {
		if tx.height < from {
			continue
		}
		out = append(out, txOut{
			TxHash:    tx.hash,
			Height:    strconv.FormatInt(tx.height, 10),
			Timestamp: tx.time.Format(time.RFC3339),
			Logs:      []txLogOut{{Events: tx.events}},
		})
		if len(out) >= limit {
			break
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"tx_responses": out})
}

func (s *simulator) handleSmart(w http.ResponseWriter, r *http.Request) {
	// o payload base64 pode conter '/' escapado; decodifica a partir do path cru
	esc := r.URL.EscapedPath()
	i := strings.Index(esc, "/smart/")
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	enc, err := url.PathUnescape(esc[i+len("/smart/"):])
	if err != nil {
		http.Error(w, "bad query path", http.StatusBadRequest)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		http.Error(w, "query is not valid base64", http.StatusBadRequest)
		return
	}
	var q chain.QueryMsg
	if err := json.Unmarshal(raw, &q); err != nil {
		http.Error(w, "query is not valid json", http.StatusBadRequest)
		return
	}
	queriesServed.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case q.Bet != nil:
		bet, ok := s.bets[q.Bet.BetID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeData(w, s.view(bet))

	case q.OpenBets != nil:
		writeData(w, chain.BetsResponse{Bets: s.listOpen(q.OpenBets)})

	case q.UserBets != nil:
		writeData(w, chain.BetsResponse{Bets: s.listByUser(q.UserBets)})

	case q.VaultBalance != nil:
		bal := s.ensureBalance(q.VaultBalance.Address)
		writeData(w, chain.VaultBalance{
			Available: bal.available.String(),
			Locked:    bal.locked.String(),
		})

	case q.Config != nil:
		writeData(w, s.cfg)

	default:
		http.Error(w, "unknown query", http.StatusBadRequest)
	}
}

func (s *simulator) listOpen(q *chain.OpenBetsQuery) []chain.BetView {
	limit := 30
	if q.Limit != nil {
		limit = int(*q.Limit)
	}
	var after uint64
	if q.StartAfter != nil {
		after = *q.StartAfter
	}

	out := make([]chain.BetView, 0, limit)
	// ids são sequenciais: varre em ordem a partir do cursor
	for id := after + 1; id <= s.nextBet && len(out) < limit; id++ {
		if bet, ok := s.bets[id]; ok && bet.status == chain.ChainStatusOpen {
			out = append(out, s.view(bet))
		}
	}
	return out
}

func (s *simulator) listByUser(q *chain.UserBetsQuery) []chain.BetView {
	limit := 50
	if q.Limit != nil {
		limit = int(*q.Limit)
	}

	out := make([]chain.BetView, 0, limit)
	// mais recentes primeiro
	for id := s.nextBet; id >= 1 && len(out) < limit; id-- {
		bet, ok := s.bets[id]
		if !ok {
			continue
		}
		if bet.maker == q.Address || bet.acceptor == q.Address {
			out = append(out, s.view(bet))
		}
	}
	return out
}

func (s *simulator) writeTxResponse(w http.ResponseWriter, hash string, code uint32, rawLog, result string) {
	txsServed.WithLabelValues(result).Inc()
	if code != 0 {
		s.log.Warn("tx rejected", zap.Uint32("code", code), zap.String("raw_log", rawLog))
	}
	writeJSON(w, map[string]any{"tx_response": map[string]any{
		"txhash":  hash,
		"code":    code,
		"raw_log": rawLog,
	}})
}

// ==== helpers ====

func wasmEvent(action string, attrs ...chain.Attribute) chain.Event {
	all := append([]chain.Attribute{{Key: chain.AttrKeyAction, Value: action}}, attrs...)
	return chain.Event{Type: chain.EventTypeWasm, Attributes: all}
}

func attr(key, value string) chain.Attribute {
	return chain.Attribute{Key: key, Value: value}
}

// txHash calcula o hash no formato do Cosmos: SHA-256 dos bytes, hex maiúsculo.
func txHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, v any) {
	raw, _ := json.Marshal(v)
	writeJSON(w, map[string]json.RawMessage{"data": raw})
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(txsServed, queriesServed)

	sim := newSimulator(log, cfg)

	appMux := http.NewServeMux()
	appMux.HandleFunc("/cosmos/auth/v1beta1/accounts/", sim.handleAccount)
	appMux.HandleFunc("/cosmos/tx/v1beta1/txs", sim.handleTxs)
	appMux.HandleFunc("/cosmwasm/wasm/v1/contract/", sim.handleSmart)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	go func() {
		addr := ":" + cfg.MetricsPort
		log.Info("chain simulator (metrics) running", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.SimPort
	log.Info("chain simulator (lcd) running",
		zap.String("addr", addr),
		zap.String("treasury", sim.cfg.Treasury),
		zap.Uint64("reveal_timeout_secs", sim.cfg.RevealTimeoutSecs),
	)
	if err := http.ListenAndServe(addr, appMux); err != nil {
		log.Fatal("lcd server error", zap.Error(err))
	}
}
