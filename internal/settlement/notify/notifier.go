package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/shared/kafka"
	"github.com/flipvault/coinflip-settlement-poc/pkg/contracts/events"
)

// Notifier publica eventos de liquidação pra fora do serviço: Kafka pros
// consumidores duráveis, Redis Pub/Sub pro broadcast de UI. Publicação é
// melhor esforço: falha vira log, nunca trava a liquidação.
type Notifier struct {
	log       *zap.Logger
	betWriter *kafka.Writer
	balWriter *kafka.Writer
	dlqWriter *kafka.Writer
	redis     *redis.Client
	channel   string
}

func New(log *zap.Logger, betWriter, balWriter, dlqWriter *kafka.Writer, r *redis.Client, channel string) *Notifier {
	return &Notifier{log: log, betWriter: betWriter, balWriter: balWriter, dlqWriter: dlqWriter, redis: r, channel: channel}
}

// BetEvent publica uma mudança de estado de aposta.
func (n *Notifier) BetEvent(ctx context.Context, e events.BetEvent) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}

	payload, _ := json.Marshal(e)
	if err := kafka.WriteJSON(ctx, n.betWriter, strconv.FormatUint(e.BetID, 10), payload); err != nil {
		n.log.Warn("bet event publish failed",
			zap.String("type", e.Type), zap.Uint64("bet_id", e.BetID), zap.Error(err))
	}
	n.broadcast(ctx, payload)
}

// BalanceEvent publica uma mudança de saldo no vault.
func (n *Notifier) BalanceEvent(ctx context.Context, e events.BalanceEvent) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}

	payload, _ := json.Marshal(e)
	if err := kafka.WriteJSON(ctx, n.balWriter, e.Address, payload); err != nil {
		n.log.Warn("balance event publish failed",
			zap.String("address", e.Address), zap.Error(err))
	}
	n.broadcast(ctx, payload)
}

type deadLetter struct {
	Reason  string          `json:"reason"`
	TxHash  string          `json:"tx_hash"`
	Payload json.RawMessage `json:"payload"`
	Ts      time.Time       `json:"ts"`
}

// DeadLetter manda pra DLQ uma transação que o indexer não conseguiu aplicar.
func (n *Notifier) DeadLetter(ctx context.Context, txHash, reason string, payload []byte) {
	body, _ := json.Marshal(deadLetter{Reason: reason, TxHash: txHash, Payload: payload, Ts: time.Now().UTC()})
	if err := kafka.WriteJSON(ctx, n.dlqWriter, txHash, body); err != nil {
		n.log.Error("dead letter publish failed", zap.String("tx_hash", txHash), zap.Error(err))
	}
}

func (n *Notifier) broadcast(ctx context.Context, payload []byte) {
	if err := n.redis.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.log.Warn("redis broadcast failed", zap.Error(err))
	}
}
