package chain

// EventTypeWasm é o tipo de evento que o contrato emite nos logs da tx.
const EventTypeWasm = "wasm"

// Ações emitidas pelo contrato no atributo "action" dos eventos wasm.
// O indexer e o simulador falam exatamente estes literais.
const (
	ActionBetCreated        = "coinflip.bet_created"
	ActionBetAccepted       = "coinflip.bet_accepted"
	ActionBetRevealed       = "coinflip.bet_revealed"
	ActionBetCanceled       = "coinflip.bet_canceled"
	ActionBetTimeoutClaimed = "coinflip.bet_timeout_claimed"
	ActionCommissionPaid    = "coinflip.commission_paid"
	ActionDeposit           = "coinflip.deposit"
	ActionWithdraw          = "coinflip.withdraw"
)

// Chaves de atributo dos eventos wasm.
const (
	AttrKeyAction    = "action"
	AttrKeyBetID     = "bet_id"
	AttrKeyMaker     = "maker"
	AttrKeyAcceptor  = "acceptor"
	AttrKeyUser      = "user"
	AttrKeyAmount    = "amount"
	AttrKeyWinner    = "winner"
	AttrKeyRecipient = "recipient"
)
