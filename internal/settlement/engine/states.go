package engine

import (
	"time"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
)

// Máquina de estados local de uma aposta. accepting/canceling vivem entre o
// broadcast e a confirmação do indexer; a volta pra open é o reconcílio
// desfazendo um broadcast que não vingou. Estados terminais não têm saída.
var transitions = map[string]map[string]bool{
	store.StatusOpen: {
		store.StatusAccepting: true,
		store.StatusCanceling: true,
		store.StatusCanceled:  true, // TTL de 3h vence sem ninguém aceitar
	},
	store.StatusAccepting: {
		store.StatusAccepted: true,
		store.StatusOpen:     true,
		store.StatusRevealed: true, // accept_and_reveal confirma direto em revealed
	},
	store.StatusAccepted: {
		store.StatusRevealed:       true,
		store.StatusTimeoutClaimed: true,
	},
	store.StatusCanceling: {
		store.StatusCanceled: true,
		store.StatusOpen:     true,
	},
	store.StatusRevealed:       {},
	store.StatusCanceled:       {},
	store.StatusTimeoutClaimed: {},
}

// CanTransition informa se a mudança de status é válida na máquina local.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// TimeoutElapsed informa se a janela de reveal já venceu pra uma aposta
// aceita em acceptedAt. Na borda exata a janela conta como vencida.
func TimeoutElapsed(acceptedAt, now time.Time, window time.Duration) bool {
	return now.Sub(acceptedAt) >= window
}
