package events

import "time"

// Tipos de transição emitidos pelo settlement-worker após confirmação on-chain.
const (
	TypeBetCreated        = "bet_created"
	TypeBetAccepted       = "bet_accepted"
	TypeBetRevealed       = "bet_revealed"
	TypeBetCanceled       = "bet_canceled"
	TypeBetTimeoutClaimed = "bet_timeout_claimed"
)

// BetEvent é publicado no tópico coinflip_bet_events e no canal de broadcast
// a cada transição confirmada de uma aposta. Valores monetários em micro-denom,
// serializados como string decimal.
type BetEvent struct {
	EventID    string    `json:"event_id"` // uuid, único por publicação
	Type       string    `json:"type"`
	BetID      uint64    `json:"bet_id"`
	Maker      string    `json:"maker"`
	Acceptor   string    `json:"acceptor,omitempty"`
	Amount     string    `json:"amount"`
	Status     string    `json:"status"`
	RevealSide string    `json:"reveal_side,omitempty"` // "heads" | "tails"
	Winner     string    `json:"winner,omitempty"`
	Payout     string    `json:"payout,omitempty"`
	Commission string    `json:"commission,omitempty"`
	TxHash     string    `json:"tx_hash"`
	Height     int64     `json:"height"`
	Ts         time.Time `json:"ts"`
}
