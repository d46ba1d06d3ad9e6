package chain

import "time"

// Side é o lado da moeda no protocolo commit-reveal. Os bytes ASCII do valor
// entram no cálculo do commitment, então os literais precisam casar com o
// contrato ("heads"/"tails").
type Side string

const (
	SideHeads Side = "heads"
	SideTails Side = "tails"
)

func (s Side) Valid() bool {
	return s == SideHeads || s == SideTails
}

// Opposite devolve o lado contrário (usado pra decidir o vencedor local)
func (s Side) Opposite() Side {
	if s == SideHeads {
		return SideTails
	}
	return SideHeads
}

// AccountInfo é o par (account_number, sequence) da conta do relayer no node.
type AccountInfo struct {
	AccountNumber uint64
	Sequence      uint64
}

// Status on-chain de uma aposta, como o contrato serializa.
const (
	ChainStatusOpen           = "open"
	ChainStatusAccepted       = "accepted"
	ChainStatusRevealed       = "revealed"
	ChainStatusCanceled       = "canceled"
	ChainStatusTimeoutClaimed = "timeout_claimed"
)

// BetView espelha o BetResponse do contrato (query bet/open_bets/user_bets).
// Valores monetários chegam como string decimal em micro-denom.
type BetView struct {
	ID            uint64 `json:"id"`
	Maker         string `json:"maker"`
	Amount        string `json:"amount"`
	Commitment    string `json:"commitment"` // hex do SHA-256
	Status        string `json:"status"`
	Acceptor      string `json:"acceptor,omitempty"`
	AcceptorGuess Side   `json:"acceptor_guess,omitempty"`
	CreatedAt     int64  `json:"created_at_time"` // unix seconds
	AcceptedAt    *int64 `json:"accepted_at_time,omitempty"`
	RevealSide    Side   `json:"reveal_side,omitempty"`
	Winner        string `json:"winner,omitempty"`
	Payout        string `json:"payout_amount,omitempty"`
	Commission    string `json:"commission_paid,omitempty"`
}

// VaultBalance espelha o saldo de um endereço dentro do vault.
type VaultBalance struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// ContractConfig espelha a config do contrato (cacheada com TTL maior).
type ContractConfig struct {
	Admin             string `json:"admin"`
	TokenCW20         string `json:"token_cw20"`
	Treasury          string `json:"treasury"`
	CommissionBps     uint32 `json:"commission_bps"`
	MinBet            string `json:"min_bet"`
	RevealTimeoutSecs uint64 `json:"reveal_timeout_secs"`
	MaxOpenPerUser    uint32 `json:"max_open_per_user"`
	BetTTLSecs        uint64 `json:"bet_ttl_secs"`
}

// ---- Execute msgs ----
//
// O relayer assina todas as transações; o usuário em nome de quem a operação
// acontece viaja no corpo do msg. Serialização CosmWasm: exatamente um campo
// preenchido, ex: {"create_bet":{...}}.

type ExecuteMsg struct {
	CreateBet       *CreateBetMsg       `json:"create_bet,omitempty"`
	AcceptBet       *AcceptBetMsg       `json:"accept_bet,omitempty"`
	AcceptAndReveal *AcceptAndRevealMsg `json:"accept_and_reveal,omitempty"`
	CancelBet       *CancelBetMsg       `json:"cancel_bet,omitempty"`
	Reveal          *RevealMsg          `json:"reveal,omitempty"`
	ClaimTimeout    *ClaimTimeoutMsg    `json:"claim_timeout,omitempty"`
	Withdraw        *WithdrawMsg        `json:"withdraw,omitempty"`
}

// Kind identifica o msg preenchido (labels de métrica e logs)
func (m ExecuteMsg) Kind() string {
	switch {
	case m.CreateBet != nil:
		return "create_bet"
	case m.AcceptBet != nil:
		return "accept_bet"
	case m.AcceptAndReveal != nil:
		return "accept_and_reveal"
	case m.CancelBet != nil:
		return "cancel_bet"
	case m.Reveal != nil:
		return "reveal"
	case m.ClaimTimeout != nil:
		return "claim_timeout"
	case m.Withdraw != nil:
		return "withdraw"
	}
	return "unknown"
}

type CreateBetMsg struct {
	Maker      string `json:"maker"`
	Amount     string `json:"amount"`
	Commitment string `json:"commitment"` // hex do SHA-256, 32 bytes
}

type AcceptBetMsg struct {
	Acceptor string `json:"acceptor"`
	BetID    uint64 `json:"bet_id"`
	Guess    Side   `json:"guess"`
}

// AcceptAndRevealMsg aceita e revela numa única transação atômica
// (resultado instantâneo, sem janela de reveal).
type AcceptAndRevealMsg struct {
	Acceptor string `json:"acceptor"`
	BetID    uint64 `json:"bet_id"`
	Guess    Side   `json:"guess"`
	Side     Side   `json:"side"`
	Secret   string `json:"secret"` // hex
}

type CancelBetMsg struct {
	Maker string `json:"maker"`
	BetID uint64 `json:"bet_id"`
}

type RevealMsg struct {
	BetID  uint64 `json:"bet_id"`
	Side   Side   `json:"side"`
	Secret string `json:"secret"` // hex
}

type ClaimTimeoutMsg struct {
	Acceptor string `json:"acceptor"`
	BetID    uint64 `json:"bet_id"`
}

type WithdrawMsg struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// ---- Query msgs ----

type QueryMsg struct {
	Bet          *BetQuery          `json:"bet,omitempty"`
	OpenBets     *OpenBetsQuery     `json:"open_bets,omitempty"`
	UserBets     *UserBetsQuery     `json:"user_bets,omitempty"`
	VaultBalance *VaultBalanceQuery `json:"vault_balance,omitempty"`
	Config       *ConfigQuery       `json:"config,omitempty"`
}

type BetQuery struct {
	BetID uint64 `json:"bet_id"`
}

type OpenBetsQuery struct {
	StartAfter *uint64 `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type UserBetsQuery struct {
	Address    string  `json:"address"`
	StartAfter *uint64 `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type VaultBalanceQuery struct {
	Address string `json:"address"`
}

type ConfigQuery struct{}

// BetsResponse embrulha listas de apostas (open_bets/user_bets).
type BetsResponse struct {
	Bets []BetView `json:"bets"`
}

// ---- Broadcast / eventos ----

// TxResult é a resposta síncrona de um broadcast.
type TxResult struct {
	Hash   string
	Code   uint32
	RawLog string
}

// Attribute é um par chave/valor de evento wasm.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event agrupa atributos por tipo ("wasm", "transfer", ...).
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr devolve o valor do primeiro atributo com a chave dada.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// TxRecord é uma transação confirmada retornada pela busca por eventos.
type TxRecord struct {
	Hash   string
	Height int64
	Time   time.Time
	Events []Event
}
