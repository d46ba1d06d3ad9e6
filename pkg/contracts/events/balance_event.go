package events

import "time"

// BalanceEvent é publicado no tópico coinflip_balance_events sempre que o
// indexer reespelha o saldo de um endereço no vault (depósito, saque,
// resolução de aposta, comissão do treasury).
type BalanceEvent struct {
	EventID   string    `json:"event_id"` // uuid
	Address   string    `json:"address"`
	Available string    `json:"available"`
	Locked    string    `json:"locked"`
	Reason    string    `json:"reason"` // ex: "bet_revealed", "withdraw"
	TxHash    string    `json:"tx_hash,omitempty"`
	Ts        time.Time `json:"ts"`
}
