package relayer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
)

var (
	// ErrRelayerDisabled: processo subiu sem RELAYER_PRIVKEY_HEX. Leituras
	// funcionam normalmente, escritas na chain não.
	ErrRelayerDisabled = errors.New("relayer signing key not configured")

	// ErrSequenceExhausted: mismatches consecutivos estouraram o limite de
	// tentativas de um Submit.
	ErrSequenceExhausted = errors.New("sequence retries exhausted")
)

type chainAPI interface {
	Account(ctx context.Context, addr string) (chain.AccountInfo, error)
	BroadcastTx(ctx context.Context, tx chain.Tx) (chain.TxResult, error)
}

// Relayer assina e faz broadcast de execuções do contrato com a conta única
// do serviço. Submit é seguro pra chamar de várias goroutines: a ordenação
// fica por conta do SequenceManager.
type Relayer struct {
	log      *zap.Logger
	signer   *chain.Signer
	api      chainAPI
	seq      *SequenceManager
	retryMax int
	enabled  bool

	// callbacks de métrica, setados no main
	OnSubmitted     func(kind string)
	OnSequenceRetry func()
}

func New(log *zap.Logger, signer *chain.Signer, api chainAPI, retryMax int) *Relayer {
	return &Relayer{
		log:      log,
		signer:   signer,
		api:      api,
		seq:      NewSequenceManager(log, api, signer.Address()),
		retryMax: retryMax,
		enabled:  true,
	}
}

// NewDisabled cria um relayer que rejeita qualquer Submit. Usado quando o
// processo sobe sem chave (modo somente leitura + indexer).
func NewDisabled(log *zap.Logger) *Relayer {
	return &Relayer{log: log}
}

// Run mantém o SequenceManager vivo até o ctx encerrar.
func (r *Relayer) Run(ctx context.Context) {
	if !r.enabled {
		<-ctx.Done()
		return
	}
	r.seq.Run(ctx)
}

// Address devolve o endereço bech32 da conta do relayer ("" se desabilitado).
func (r *Relayer) Address() string {
	if !r.enabled {
		return ""
	}
	return r.signer.Address()
}

func (r *Relayer) Enabled() bool { return r.enabled }

// Ready informa se dá pra submeter agora: chave carregada e sequence local
// confiável. O sweep consulta antes de enfileirar trabalho.
func (r *Relayer) Ready() bool { return r.enabled && r.seq.Ready() }

// Refresh força a ressincronização da sequence com o node.
func (r *Relayer) Refresh(ctx context.Context) error {
	if !r.enabled {
		return ErrRelayerDisabled
	}
	return r.seq.Refresh(ctx)
}

// Submit assina com a próxima sequence e faz broadcast. Mismatch (code 32)
// ressincroniza e tenta de novo até retryMax vezes; qualquer outro erro
// devolve na hora. O estado local só avança quando o node aceitou a tx.
func (r *Relayer) Submit(ctx context.Context, msg chain.ExecuteMsg, memo string) (chain.TxResult, error) {
	if !r.enabled {
		return chain.TxResult{}, ErrRelayerDisabled
	}

	kind := msg.Kind()
	for attempt := 1; attempt <= r.retryMax; attempt++ {
		acc, err := r.seq.Next(ctx)
		if err != nil {
			return chain.TxResult{}, err
		}

		tx, err := r.signer.BuildTx(acc, msg, memo)
		if err != nil {
			// sequence entregue mas nunca broadcastada
			r.seq.Invalidate()
			return chain.TxResult{}, fmt.Errorf("build tx: %w", err)
		}

		res, err := r.api.BroadcastTx(ctx, tx)
		if err == nil {
			if r.OnSubmitted != nil {
				r.OnSubmitted(kind)
			}
			r.log.Info("tx submitted",
				zap.String("kind", kind),
				zap.String("tx_hash", res.Hash),
				zap.Uint64("sequence", acc.Sequence))
			return res, nil
		}

		var mismatch *chain.SequenceMismatchError
		if errors.As(err, &mismatch) {
			r.seq.HandleMismatch(mismatch)
			if r.OnSequenceRetry != nil {
				r.OnSequenceRetry()
			}
			r.log.Warn("sequence mismatch, resyncing",
				zap.String("kind", kind),
				zap.Int("attempt", attempt),
				zap.Uint64("sent", acc.Sequence))
			continue
		}

		// unreachable: o node pode ter recebido a tx ou não; rejeição no
		// CheckTx: a sequence não foi consumida. Nos dois casos o contador
		// local não vale mais nada.
		r.seq.Invalidate()
		return res, err
	}

	return chain.TxResult{}, fmt.Errorf("%w after %d attempts", ErrSequenceExhausted, r.retryMax)
}
