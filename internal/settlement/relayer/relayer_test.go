package relayer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
)

const testKeyHex = "ababababababababababababababababababababababababababababababab01"

type fakeChain struct {
	mu           sync.Mutex
	acc          chain.AccountInfo
	accountCalls int
	broadcasts   []chain.Tx
	script       []func(tx chain.Tx) (chain.TxResult, error)
}

func (f *fakeChain) Account(ctx context.Context, addr string) (chain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	return f.acc, nil
}

func (f *fakeChain) BroadcastTx(ctx context.Context, tx chain.Tx) (chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, tx)
	if len(f.script) == 0 {
		return chain.TxResult{Hash: "OK"}, nil
	}
	step := f.script[0]
	f.script = f.script[1:]
	return step(tx)
}

func startRelayer(t *testing.T, api *fakeChain, retryMax int) *Relayer {
	t.Helper()
	signer, err := chain.NewSigner(testKeyHex, "flip", "flip-local-1", "flip1contract")
	require.NoError(t, err)

	r := New(zap.NewNop(), signer, api, retryMax)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r
}

func TestSubmitSignsWithSequentialNonces(t *testing.T) {
	api := &fakeChain{acc: chain.AccountInfo{AccountNumber: 1, Sequence: 50}}
	r := startRelayer(t, api, 3)

	var submitted []string
	r.OnSubmitted = func(kind string) { submitted = append(submitted, kind) }

	for i := 0; i < 3; i++ {
		res, err := r.Submit(context.Background(), chain.ExecuteMsg{CancelBet: &chain.CancelBetMsg{Maker: "flip1m", BetID: uint64(i)}}, "")
		require.NoError(t, err)
		assert.Equal(t, "OK", res.Hash)
	}

	require.Len(t, api.broadcasts, 3)
	for i, tx := range api.broadcasts {
		assert.Equal(t, uint64(50+i), tx.Doc.Sequence)
		require.NoError(t, chain.VerifyTx(tx, "flip"))
	}
	assert.Equal(t, 1, api.accountCalls)
	assert.Equal(t, []string{"cancel_bet", "cancel_bet", "cancel_bet"}, submitted)
}

func TestSubmitRetriesOnMismatch(t *testing.T) {
	api := &fakeChain{acc: chain.AccountInfo{Sequence: 10}}
	api.script = []func(chain.Tx) (chain.TxResult, error){
		func(chain.Tx) (chain.TxResult, error) {
			return chain.TxResult{Code: 32}, &chain.SequenceMismatchError{Expected: 25, HasExpected: true}
		},
	}
	r := startRelayer(t, api, 3)

	retries := 0
	r.OnSequenceRetry = func() { retries++ }

	res, err := r.Submit(context.Background(), chain.ExecuteMsg{Withdraw: &chain.WithdrawMsg{User: "flip1u", Amount: "100"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Hash)
	assert.Equal(t, 1, retries)

	// segunda tentativa já sai com a sequence que o node pediu
	require.Len(t, api.broadcasts, 2)
	assert.Equal(t, uint64(10), api.broadcasts[0].Doc.Sequence)
	assert.Equal(t, uint64(25), api.broadcasts[1].Doc.Sequence)
}

func TestSubmitGivesUpAfterRetryMax(t *testing.T) {
	api := &fakeChain{acc: chain.AccountInfo{Sequence: 10}}
	mismatch := func(chain.Tx) (chain.TxResult, error) {
		return chain.TxResult{Code: 32}, &chain.SequenceMismatchError{Expected: 10, HasExpected: true}
	}
	api.script = []func(chain.Tx) (chain.TxResult, error){mismatch, mismatch, mismatch}
	r := startRelayer(t, api, 3)

	_, err := r.Submit(context.Background(), chain.ExecuteMsg{CancelBet: &chain.CancelBetMsg{}}, "")
	assert.ErrorIs(t, err, ErrSequenceExhausted)
	assert.Len(t, api.broadcasts, 3)
}

func TestSubmitDoesNotRetryRejection(t *testing.T) {
	api := &fakeChain{acc: chain.AccountInfo{Sequence: 10}}
	api.script = []func(chain.Tx) (chain.TxResult, error){
		func(chain.Tx) (chain.TxResult, error) {
			return chain.TxResult{Code: 5, RawLog: "insufficient funds"}, &chain.TxRejectedError{Code: 5, RawLog: "insufficient funds"}
		},
	}
	r := startRelayer(t, api, 3)

	_, err := r.Submit(context.Background(), chain.ExecuteMsg{Withdraw: &chain.WithdrawMsg{}}, "")
	var rejected *chain.TxRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Len(t, api.broadcasts, 1)
	assert.False(t, r.Ready())

	// rejeição não consome sequence: o próximo Submit rebusca e reusa a 10
	res, err := r.Submit(context.Background(), chain.ExecuteMsg{Withdraw: &chain.WithdrawMsg{}}, "")
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Hash)
	assert.Equal(t, uint64(10), api.broadcasts[1].Doc.Sequence)
	assert.Equal(t, 2, api.accountCalls)
}

func TestSubmitInvalidatesOnUnreachable(t *testing.T) {
	api := &fakeChain{acc: chain.AccountInfo{Sequence: 10}}
	api.script = []func(chain.Tx) (chain.TxResult, error){
		func(chain.Tx) (chain.TxResult, error) {
			return chain.TxResult{}, chain.ErrChainUnreachable
		},
	}
	r := startRelayer(t, api, 3)

	_, err := r.Submit(context.Background(), chain.ExecuteMsg{CancelBet: &chain.CancelBetMsg{}}, "")
	assert.ErrorIs(t, err, chain.ErrChainUnreachable)
	assert.False(t, r.Ready())
}

func TestDisabledRelayer(t *testing.T) {
	r := NewDisabled(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	assert.False(t, r.Enabled())
	assert.False(t, r.Ready())
	assert.Equal(t, "", r.Address())

	_, err := r.Submit(context.Background(), chain.ExecuteMsg{CancelBet: &chain.CancelBetMsg{}}, "")
	assert.ErrorIs(t, err, ErrRelayerDisabled)
	assert.ErrorIs(t, r.Refresh(context.Background()), ErrRelayerDisabled)
}

func TestReadyAfterRefresh(t *testing.T) {
	api := &fakeChain{acc: chain.AccountInfo{Sequence: 1}}
	r := startRelayer(t, api, 3)

	assert.False(t, r.Ready())
	require.NoError(t, r.Refresh(context.Background()))
	assert.True(t, r.Ready())
	assert.NotEmpty(t, r.Address())
	assert.True(t, errors.Is(chain.ValidateAddress(r.Address(), "flip"), nil))
}
