package relayer

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
)

type accountSource interface {
	Account(ctx context.Context, addr string) (chain.AccountInfo, error)
}

type reqKind int

const (
	reqNext reqKind = iota
	reqRefresh
	reqMismatch
	reqInvalidate
)

type seqRequest struct {
	kind        reqKind
	expected    uint64
	hasExpected bool
	resp        chan seqResult
}

type seqResult struct {
	acc chain.AccountInfo
	err error
}

// SequenceManager é o único dono do par (account_number, sequence) da conta
// do relayer. Todo acesso passa por um canal atendido por uma goroutine só,
// então a entrega de sequences é FIFO e nunca há duas leituras concorrentes
// do mesmo valor.
type SequenceManager struct {
	log      *zap.Logger
	source   accountSource
	address  string
	requests chan seqRequest
	stopped  chan struct{}
	ready    atomic.Bool
}

func NewSequenceManager(log *zap.Logger, source accountSource, address string) *SequenceManager {
	return &SequenceManager{
		log:      log,
		source:   source,
		address:  address,
		requests: make(chan seqRequest, 16),
		stopped:  make(chan struct{}),
	}
}

// Run processa pedidos até o ctx encerrar. Estado local:
//   - valid: já buscou o par da chain pelo menos uma vez
//   - dirty: o valor local é suspeito (tx assinada sem broadcast confirmado,
//     mismatch sem expected); rebusca antes de entregar de novo
func (m *SequenceManager) Run(ctx context.Context) {
	defer close(m.stopped)

	var (
		acc   chain.AccountInfo
		valid bool
		dirty bool
	)

	refresh := func() error {
		fresh, err := m.source.Account(ctx, m.address)
		if err != nil {
			m.ready.Store(false)
			return fmt.Errorf("refresh relayer account: %w", err)
		}
		acc, valid, dirty = fresh, true, false
		m.ready.Store(true)
		m.log.Info("relayer sequence refreshed",
			zap.Uint64("account_number", fresh.AccountNumber),
			zap.Uint64("sequence", fresh.Sequence))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			switch req.kind {
			case reqNext:
				if !valid || dirty {
					if err := refresh(); err != nil {
						req.resp <- seqResult{err: err}
						continue
					}
				}
				out := acc
				acc.Sequence++
				req.resp <- seqResult{acc: out}

			case reqRefresh:
				req.resp <- seqResult{acc: acc, err: refresh()}

			case reqMismatch:
				if req.hasExpected && valid {
					acc.Sequence = req.expected
					dirty = false
					m.ready.Store(true)
					m.log.Warn("relayer sequence corrected from node", zap.Uint64("sequence", req.expected))
				} else {
					dirty = true
					m.ready.Store(false)
				}

			case reqInvalidate:
				dirty = true
				m.ready.Store(false)
			}
		}
	}
}

// Next entrega o próximo par (account_number, sequence) e avança o contador
// local. Quem recebe uma sequence e não faz broadcast precisa chamar
// Invalidate, senão o node fica esperando um nonce que nunca chega.
func (m *SequenceManager) Next(ctx context.Context) (chain.AccountInfo, error) {
	resp := make(chan seqResult, 1)
	select {
	case m.requests <- seqRequest{kind: reqNext, resp: resp}:
	case <-m.stopped:
		return chain.AccountInfo{}, fmt.Errorf("sequence manager stopped")
	case <-ctx.Done():
		return chain.AccountInfo{}, ctx.Err()
	}

	select {
	case r := <-resp:
		return r.acc, r.err
	case <-ctx.Done():
		// a sequence pode ter sido entregue e descartada; marca pra rebuscar
		m.Invalidate()
		return chain.AccountInfo{}, ctx.Err()
	}
}

// Refresh força uma rebusca síncrona do par na chain.
func (m *SequenceManager) Refresh(ctx context.Context) error {
	resp := make(chan seqResult, 1)
	select {
	case m.requests <- seqRequest{kind: reqRefresh, resp: resp}:
	case <-m.stopped:
		return fmt.Errorf("sequence manager stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case r := <-resp:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMismatch ajusta o contador local depois de um code 32 do node.
// Com expected no raw_log o ajuste é direto; sem, o estado vira suspeito.
func (m *SequenceManager) HandleMismatch(mismatch *chain.SequenceMismatchError) {
	select {
	case m.requests <- seqRequest{kind: reqMismatch, expected: mismatch.Expected, hasExpected: mismatch.HasExpected}:
	case <-m.stopped:
	}
}

// Invalidate marca o estado local como suspeito (tx assinada cujo destino é
// desconhecido). O próximo Next rebusca da chain antes de entregar.
func (m *SequenceManager) Invalidate() {
	select {
	case m.requests <- seqRequest{kind: reqInvalidate}:
	case <-m.stopped:
	}
}

// Ready informa se o contador local está confiável (última busca ok e sem
// invalidação pendente).
func (m *SequenceManager) Ready() bool { return m.ready.Load() }
