package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
)

var allStatuses = []string{
	store.StatusOpen, store.StatusAccepting, store.StatusAccepted,
	store.StatusCanceling, store.StatusCanceled, store.StatusRevealed,
	store.StatusTimeoutClaimed,
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	for _, from := range []string{store.StatusRevealed, store.StatusCanceled, store.StatusTimeoutClaimed} {
		for _, to := range allStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestAllowedTransitions(t *testing.T) {
	allowed := [][2]string{
		{store.StatusOpen, store.StatusAccepting},
		{store.StatusOpen, store.StatusCanceling},
		{store.StatusOpen, store.StatusCanceled},
		{store.StatusAccepting, store.StatusAccepted},
		{store.StatusAccepting, store.StatusOpen},
		{store.StatusAccepting, store.StatusRevealed},
		{store.StatusAccepted, store.StatusRevealed},
		{store.StatusAccepted, store.StatusTimeoutClaimed},
		{store.StatusCanceling, store.StatusCanceled},
		{store.StatusCanceling, store.StatusOpen},
	}
	set := map[[2]string]bool{}
	for _, pair := range allowed {
		set[pair] = true
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	// tudo que não está na lista é proibido
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if !set[[2]string{from, to}] {
				assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestSelfTransitionsAreForbidden(t *testing.T) {
	for _, s := range allStatuses {
		assert.False(t, CanTransition(s, s), "%s -> %s", s, s)
	}
}

func TestTimeoutElapsedBoundary(t *testing.T) {
	window := 300 * time.Second
	acceptedAt := time.Unix(1724400000, 0)

	assert.False(t, TimeoutElapsed(acceptedAt, acceptedAt.Add(299*time.Second), window))
	assert.True(t, TimeoutElapsed(acceptedAt, acceptedAt.Add(300*time.Second), window))
	assert.True(t, TimeoutElapsed(acceptedAt, acceptedAt.Add(301*time.Second), window))
}
