package topics

const (
	// Transições de apostas (criada, aceita, revelada, cancelada, timeout)
	BetEvents = "coinflip_bet_events"

	// Saldos do vault (available/locked) após depósitos, saques e resoluções
	BalanceEvents = "coinflip_balance_events"

	// DLQ para eventos de chain que o indexer não conseguiu aplicar
	BetEventsDLQ = "coinflip_bet_events_dlq"
)

// Canal Redis Pub/Sub para entrega em tempo real (consumido pelo serviço de ws)
const EventsBroadcastChannel = "coinflip_events_broadcast"
