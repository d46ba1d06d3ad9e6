package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
)

// FromChainView converte a visão on-chain de uma aposta pro modelo local.
// Campos monetários ilegíveis viram zero em vez de derrubar o import: a
// chain continua sendo a fonte de verdade e o próximo upsert corrige.
func FromChainView(v chain.BetView) Bet {
	amount, _ := decimal.NewFromString(v.Amount)
	payout := decimal.Zero
	if v.Payout != "" {
		payout, _ = decimal.NewFromString(v.Payout)
	}
	commission := decimal.Zero
	if v.Commission != "" {
		commission, _ = decimal.NewFromString(v.Commission)
	}

	b := Bet{
		ID:             v.ID,
		Maker:          v.Maker,
		Amount:         amount,
		Commitment:     v.Commitment,
		Status:         v.Status,
		Acceptor:       v.Acceptor,
		AcceptorGuess:  string(v.AcceptorGuess),
		RevealSide:     string(v.RevealSide),
		Winner:         v.Winner,
		Payout:         payout,
		Commission:     commission,
		CreatedAtChain: time.Unix(v.CreatedAt, 0).UTC(),
	}
	if v.AcceptedAt != nil {
		t := time.Unix(*v.AcceptedAt, 0).UTC()
		b.AcceptedAtChain = &t
	}
	return b
}
