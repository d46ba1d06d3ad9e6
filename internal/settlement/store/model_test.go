package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusRevealed))
	assert.True(t, IsTerminal(StatusCanceled))
	assert.True(t, IsTerminal(StatusTimeoutClaimed))

	assert.False(t, IsTerminal(StatusOpen))
	assert.False(t, IsTerminal(StatusAccepting))
	assert.False(t, IsTerminal(StatusAccepted))
	assert.False(t, IsTerminal(StatusCanceling))
	assert.False(t, IsTerminal("garbage"))
}

func TestPhaseColumnsCoverAllPhases(t *testing.T) {
	for _, p := range []TxPhase{PhaseCreate, PhaseAccept, PhaseReveal, PhaseCancel, PhaseTimeout} {
		col, ok := phaseColumns[p]
		assert.True(t, ok)
		assert.NotEmpty(t, col)
	}
}

func TestFromChainView(t *testing.T) {
	acceptedAt := int64(1724400300)
	v := chain.BetView{
		ID:            7,
		Maker:         "flip1maker",
		Amount:        "500000",
		Commitment:    "abcd",
		Status:        chain.ChainStatusRevealed,
		Acceptor:      "flip1acceptor",
		AcceptorGuess: chain.SideHeads,
		CreatedAt:     1724400000,
		AcceptedAt:    &acceptedAt,
		RevealSide:    chain.SideTails,
		Winner:        "flip1maker",
		Payout:        "980000",
		Commission:    "20000",
	}

	b := FromChainView(v)
	assert.Equal(t, uint64(7), b.ID)
	assert.Equal(t, "500000", b.Amount.String())
	assert.Equal(t, StatusRevealed, b.Status)
	assert.Equal(t, "heads", b.AcceptorGuess)
	assert.Equal(t, "tails", b.RevealSide)
	assert.Equal(t, "980000", b.Payout.String())
	assert.Equal(t, "20000", b.Commission.String())
	assert.Equal(t, time.Unix(1724400000, 0).UTC(), b.CreatedAtChain)
	require.NotNil(t, b.AcceptedAtChain)
	assert.Equal(t, time.Unix(acceptedAt, 0).UTC(), *b.AcceptedAtChain)
}

func TestFromChainViewOpenBet(t *testing.T) {
	b := FromChainView(chain.BetView{ID: 1, Maker: "flip1m", Amount: "100", Status: chain.ChainStatusOpen, CreatedAt: 1724400000})
	assert.Nil(t, b.AcceptedAtChain)
	assert.True(t, b.Payout.IsZero())
	assert.True(t, b.Commission.IsZero())
	assert.Equal(t, "", b.Acceptor)
}
