package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status local de uma aposta. Os cinco primeiros espelham a chain;
// accepting e canceling só existem aqui, entre o broadcast e a confirmação
// do indexer.
const (
	StatusOpen           = "open"
	StatusAccepting      = "accepting"
	StatusAccepted       = "accepted"
	StatusCanceling      = "canceling"
	StatusCanceled       = "canceled"
	StatusRevealed       = "revealed"
	StatusTimeoutClaimed = "timeout_claimed"
)

// IsTerminal informa se o status não tem mais saída.
func IsTerminal(status string) bool {
	switch status {
	case StatusRevealed, StatusCanceled, StatusTimeoutClaimed:
		return true
	}
	return false
}

// Bet é o espelho local de uma aposta do contrato, mais os tx hashes de cada
// fase pro reconcílio. MakerSide e MakerSecret ficam vazios até o indexer
// confirmar o create e dobrar o segredo do vault pra cá.
type Bet struct {
	ID              uint64
	Maker           string
	Amount          decimal.Decimal
	Commitment      string
	MakerSide       string
	MakerSecret     string
	Status          string
	Acceptor        string
	AcceptorGuess   string
	RevealSide      string
	Winner          string
	Payout          decimal.Decimal
	Commission      decimal.Decimal
	CreatedAtChain  time.Time
	AcceptedAtChain *time.Time
	CreateTxHash    string
	AcceptTxHash    string
	RevealTxHash    string
	CancelTxHash    string
	TimeoutTxHash   string
	UpdatedAt       time.Time
}

// PendingSecret é o segredo de um maker aguardando o auto-reveal.
// Chaveado por commitment porque o bet_id só nasce quando a chain confirma.
type PendingSecret struct {
	Commitment string
	Maker      string
	Side       string
	Secret     string
	TxHash     string
	CreatedAt  time.Time
}

// RevealJob é uma aposta aceita cujo segredo está no vault, pronta pro
// auto-reveal do sweep.
type RevealJob struct {
	Bet    Bet
	Side   string
	Secret string
}

// VaultBalanceRow é o snapshot local do saldo de um endereço no vault.
type VaultBalanceRow struct {
	Address   string
	Available decimal.Decimal
	Locked    decimal.Decimal
	UpdatedAt time.Time
}
