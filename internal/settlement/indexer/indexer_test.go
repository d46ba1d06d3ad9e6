package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/chain"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/guard"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/querycache"
	"github.com/flipvault/coinflip-settlement-poc/internal/settlement/store"
	"github.com/flipvault/coinflip-settlement-poc/pkg/contracts/events"
)

const (
	makerAddr    = "flip1maker"
	acceptorAddr = "flip1acceptor"
)

type fakeChainSource struct {
	mu       sync.Mutex
	recs     []chain.TxRecord
	bets     map[uint64]chain.BetView
	balances map[string]chain.VaultBalance
	betErrs  map[uint64]error
	balCalls map[string]int
}

func (f *fakeChainSource) TxsSince(_ context.Context, fromHeight int64, limit int) ([]chain.TxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chain.TxRecord
	for _, r := range f.recs {
		if r.Height >= fromHeight && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeChainSource) Bet(_ context.Context, betID uint64) (chain.BetView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.betErrs[betID]; err != nil {
		return chain.BetView{}, err
	}
	v, ok := f.bets[betID]
	if !ok {
		return chain.BetView{}, chain.ErrNotFound
	}
	return v, nil
}

func (f *fakeChainSource) VaultBalance(_ context.Context, addr string) (chain.VaultBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balCalls[addr]++
	b, ok := f.balances[addr]
	if !ok {
		return chain.VaultBalance{Available: "0", Locked: "0"}, nil
	}
	return b, nil
}

type fakeBetStore struct {
	mu      sync.Mutex
	rows    map[uint64]store.Bet
	secrets *fakeSecretStore
	upserts int
}

func (f *fakeBetStore) UpsertFromChain(_ context.Context, b store.Bet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if cur, ok := f.rows[b.ID]; ok {
		if store.IsTerminal(cur.Status) && !store.IsTerminal(b.Status) {
			return nil
		}
		b.MakerSide, b.MakerSecret = cur.MakerSide, cur.MakerSecret
		b.CreateTxHash, b.AcceptTxHash = cur.CreateTxHash, cur.AcceptTxHash
		b.RevealTxHash, b.CancelTxHash = cur.RevealTxHash, cur.CancelTxHash
		b.TimeoutTxHash = cur.TimeoutTxHash
	}
	f.rows[b.ID] = b
	return nil
}

func (f *fakeBetStore) SetTxHash(_ context.Context, id uint64, phase store.TxPhase, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	switch phase {
	case store.PhaseCreate:
		b.CreateTxHash = hash
	case store.PhaseAccept:
		b.AcceptTxHash = hash
	case store.PhaseReveal:
		b.RevealTxHash = hash
	case store.PhaseCancel:
		b.CancelTxHash = hash
	case store.PhaseTimeout:
		b.TimeoutTxHash = hash
	}
	f.rows[id] = b
	return nil
}

func (f *fakeBetStore) AttachSecret(ctx context.Context, id uint64, commitment, side, secret string) error {
	f.mu.Lock()
	b := f.rows[id]
	b.MakerSide, b.MakerSecret = side, secret
	f.rows[id] = b
	f.mu.Unlock()
	return f.secrets.Delete(ctx, commitment)
}

func (f *fakeBetStore) get(id uint64) store.Bet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fakeSecretStore struct {
	mu   sync.Mutex
	rows map[string]store.PendingSecret
}

func (f *fakeSecretStore) ByCommitment(_ context.Context, commitment string) (store.PendingSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[commitment]
	if !ok {
		return store.PendingSecret{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeSecretStore) Delete(_ context.Context, commitment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, commitment)
	return nil
}

type fakeBalanceStore struct {
	mu   sync.Mutex
	rows map[string]store.VaultBalanceRow
}

func (f *fakeBalanceStore) Upsert(_ context.Context, addr string, available, locked decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[addr] = store.VaultBalanceRow{Address: addr, Available: available, Locked: locked}
	return nil
}

type fakeWatermark struct {
	mu sync.Mutex
	h  int64
}

func (f *fakeWatermark) LastHeight(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h, nil
}

func (f *fakeWatermark) SetLastHeight(_ context.Context, height int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if height > f.h {
		f.h = height
	}
	return nil
}

type dlqEntry struct {
	txHash string
	reason string
}

type fakeNotifier struct {
	mu        sync.Mutex
	betEvents []events.BetEvent
	balEvents []events.BalanceEvent
	dlq       []dlqEntry
}

func (f *fakeNotifier) BetEvent(_ context.Context, e events.BetEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.betEvents = append(f.betEvents, e)
}

func (f *fakeNotifier) BalanceEvent(_ context.Context, e events.BalanceEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balEvents = append(f.balEvents, e)
}

func (f *fakeNotifier) DeadLetter(_ context.Context, txHash, reason string, _ []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, dlqEntry{txHash: txHash, reason: reason})
}

type fixture struct {
	source  *fakeChainSource
	bets    *fakeBetStore
	secrets *fakeSecretStore
	bals    *fakeBalanceStore
	state   *fakeWatermark
	sink    *fakeNotifier
	pending *guard.PendingOpCounter
	cache   *querycache.Cache
	ix      *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source: &fakeChainSource{
			bets:     make(map[uint64]chain.BetView),
			balances: make(map[string]chain.VaultBalance),
			betErrs:  make(map[uint64]error),
			balCalls: make(map[string]int),
		},
		secrets: &fakeSecretStore{rows: make(map[string]store.PendingSecret)},
		bals:    &fakeBalanceStore{rows: make(map[string]store.VaultBalanceRow)},
		state:   &fakeWatermark{},
		sink:    &fakeNotifier{},
		pending: guard.NewPendingOpCounter(),
		cache:   querycache.New(zap.NewNop(), time.Minute),
	}
	f.bets = &fakeBetStore{rows: make(map[uint64]store.Bet), secrets: f.secrets}
	f.ix = New(zap.NewNop(), f.source, f.bets, f.secrets, f.bals, f.state, f.sink,
		f.pending, f.cache, time.Second, 100)
	return f
}

func wasmEvent(attrs ...chain.Attribute) chain.Event {
	return chain.Event{Type: chain.EventTypeWasm, Attributes: attrs}
}

func attr(k, v string) chain.Attribute { return chain.Attribute{Key: k, Value: v} }

func createdTx(height int64, betID uint64, maker string) chain.TxRecord {
	return chain.TxRecord{
		Hash:   fmt.Sprintf("TX%d", height),
		Height: height,
		Time:   time.Unix(1700000000+height, 0).UTC(),
		Events: []chain.Event{wasmEvent(
			attr(chain.AttrKeyAction, chain.ActionBetCreated),
			attr(chain.AttrKeyBetID, fmt.Sprintf("%d", betID)),
			attr(chain.AttrKeyMaker, maker),
		)},
	}
}

func TestPollAppliesCreateAndFoldsSecret(t *testing.T) {
	f := newFixture(t)
	commitment := "aa11"
	f.source.bets[7] = chain.BetView{
		ID: 7, Maker: makerAddr, Amount: "5000", Commitment: commitment,
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	f.secrets.rows[commitment] = store.PendingSecret{
		Commitment: commitment, Maker: makerAddr, Side: "heads", Secret: "s3cr3t",
	}
	f.source.recs = []chain.TxRecord{createdTx(10, 7, makerAddr)}
	f.pending.Inc(makerAddr)

	require.NoError(t, f.ix.Poll(context.Background()))

	row := f.bets.get(7)
	assert.Equal(t, store.StatusOpen, row.Status)
	assert.Equal(t, "TX10", row.CreateTxHash)
	assert.Equal(t, "heads", row.MakerSide)
	assert.Equal(t, "s3cr3t", row.MakerSecret)

	_, err := f.secrets.ByCommitment(context.Background(), commitment)
	assert.ErrorIs(t, err, store.ErrNotFound, "vault row must be gone after the fold")

	assert.Equal(t, 0, f.pending.Get(makerAddr))

	h, _ := f.state.LastHeight(context.Background())
	assert.Equal(t, int64(10), h)

	require.Len(t, f.sink.betEvents, 1)
	assert.Equal(t, events.TypeBetCreated, f.sink.betEvents[0].Type)
	assert.Equal(t, uint64(7), f.sink.betEvents[0].BetID)
	assert.Equal(t, "TX10", f.sink.betEvents[0].TxHash)

	require.Len(t, f.sink.balEvents, 1)
	assert.Equal(t, makerAddr, f.sink.balEvents[0].Address)
}

func TestPollImportsExternalCreateWithoutSecret(t *testing.T) {
	f := newFixture(t)
	f.source.bets[9] = chain.BetView{
		ID: 9, Maker: "flip1stranger", Amount: "2000", Commitment: "bb22",
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	f.source.recs = []chain.TxRecord{createdTx(4, 9, "flip1stranger")}

	require.NoError(t, f.ix.Poll(context.Background()))

	row := f.bets.get(9)
	assert.Equal(t, store.StatusOpen, row.Status)
	assert.Empty(t, row.MakerSecret)
	assert.Empty(t, f.sink.dlq)
}

func TestPollDoesNotReapplySeenTx(t *testing.T) {
	f := newFixture(t)
	f.source.bets[7] = chain.BetView{
		ID: 7, Maker: makerAddr, Amount: "5000", Commitment: "aa11",
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	f.source.recs = []chain.TxRecord{createdTx(10, 7, makerAddr)}

	require.NoError(t, f.ix.Poll(context.Background()))
	require.NoError(t, f.ix.Poll(context.Background()))

	assert.Equal(t, 1, f.bets.upserts)
	assert.Len(t, f.sink.betEvents, 1)
}

func TestPollRevealCleansSecretAndRefreshesBalances(t *testing.T) {
	f := newFixture(t)
	commitment := "cc33"
	accepted := int64(1700000300)
	f.source.bets[3] = chain.BetView{
		ID: 3, Maker: makerAddr, Amount: "5000", Commitment: commitment,
		Status: chain.ChainStatusRevealed, Acceptor: acceptorAddr,
		AcceptorGuess: chain.SideTails, CreatedAt: 1700000000, AcceptedAt: &accepted,
		RevealSide: chain.SideHeads, Winner: makerAddr, Payout: "9800", Commission: "200",
	}
	f.secrets.rows[commitment] = store.PendingSecret{Commitment: commitment, Side: "heads", Secret: "x"}
	f.source.balances[makerAddr] = chain.VaultBalance{Available: "14800", Locked: "0"}
	f.source.balances[acceptorAddr] = chain.VaultBalance{Available: "0", Locked: "0"}
	f.source.recs = []chain.TxRecord{{
		Hash:   "TXREV",
		Height: 20,
		Events: []chain.Event{wasmEvent(
			attr(chain.AttrKeyAction, chain.ActionBetRevealed),
			attr(chain.AttrKeyBetID, "3"),
			attr(chain.AttrKeyWinner, makerAddr),
		)},
	}}

	require.NoError(t, f.ix.Poll(context.Background()))

	row := f.bets.get(3)
	assert.Equal(t, store.StatusRevealed, row.Status)
	assert.Equal(t, "TXREV", row.RevealTxHash)
	assert.Equal(t, makerAddr, row.Winner)

	_, err := f.secrets.ByCommitment(context.Background(), commitment)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, 1, f.source.balCalls[makerAddr])
	assert.Equal(t, 1, f.source.balCalls[acceptorAddr])

	require.Len(t, f.sink.betEvents, 1)
	assert.Equal(t, events.TypeBetRevealed, f.sink.betEvents[0].Type)
	assert.Equal(t, makerAddr, f.sink.betEvents[0].Winner)
	assert.Len(t, f.sink.balEvents, 2)
}

func TestPollDeadLettersBrokenTxAndKeepsGoing(t *testing.T) {
	f := newFixture(t)
	f.source.bets[7] = chain.BetView{
		ID: 7, Maker: makerAddr, Amount: "5000", Commitment: "aa11",
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	broken := chain.TxRecord{
		Hash:   "TXBAD",
		Height: 9,
		Events: []chain.Event{wasmEvent(
			attr(chain.AttrKeyAction, chain.ActionBetCreated),
			// sem bet_id
		)},
	}
	f.source.recs = []chain.TxRecord{broken, createdTx(10, 7, makerAddr)}

	require.NoError(t, f.ix.Poll(context.Background()))

	require.Len(t, f.sink.dlq, 1)
	assert.Equal(t, "TXBAD", f.sink.dlq[0].txHash)
	assert.Contains(t, f.sink.dlq[0].reason, "bet_id")

	// o lote segue: a tx boa aplicou e o watermark cobre as duas
	assert.Equal(t, "TX10", f.bets.get(7).CreateTxHash)
	h, _ := f.state.LastHeight(context.Background())
	assert.Equal(t, int64(10), h)
}

func TestPollStopsBatchWhenChainDrops(t *testing.T) {
	f := newFixture(t)
	f.source.bets[7] = chain.BetView{
		ID: 7, Maker: makerAddr, Amount: "5000", Commitment: "aa11",
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	f.source.bets[8] = chain.BetView{
		ID: 8, Maker: makerAddr, Amount: "100", Commitment: "dd44",
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	f.source.recs = []chain.TxRecord{createdTx(10, 7, makerAddr), createdTx(11, 8, makerAddr)}
	f.source.betErrs[8] = fmt.Errorf("boom: %w", chain.ErrChainUnreachable)

	err := f.ix.Poll(context.Background())
	require.ErrorIs(t, err, chain.ErrChainUnreachable)

	// a primeira tx aplicou e o watermark parou nela; a segunda não virou DLQ
	assert.Equal(t, "TX10", f.bets.get(7).CreateTxHash)
	assert.Empty(t, f.sink.dlq)
	h, _ := f.state.LastHeight(context.Background())
	assert.Equal(t, int64(10), h)

	// chain voltou: o próximo ciclo retoma exatamente da tx interrompida
	f.source.mu.Lock()
	delete(f.source.betErrs, 8)
	f.source.mu.Unlock()
	require.NoError(t, f.ix.Poll(context.Background()))
	assert.Equal(t, "TX11", f.bets.get(8).CreateTxHash)
	h, _ = f.state.LastHeight(context.Background())
	assert.Equal(t, int64(11), h)
}

func TestPollRefreshesBalanceOnDeposit(t *testing.T) {
	f := newFixture(t)
	f.source.balances[makerAddr] = chain.VaultBalance{Available: "7000", Locked: "0"}
	f.source.recs = []chain.TxRecord{{
		Hash:   "TXDEP",
		Height: 5,
		Events: []chain.Event{wasmEvent(
			attr(chain.AttrKeyAction, chain.ActionDeposit),
			attr(chain.AttrKeyUser, makerAddr),
			attr(chain.AttrKeyAmount, "7000"),
		)},
	}}

	require.NoError(t, f.ix.Poll(context.Background()))

	f.bals.mu.Lock()
	row := f.bals.rows[makerAddr]
	f.bals.mu.Unlock()
	assert.Equal(t, "7000", row.Available.String())

	require.Len(t, f.sink.balEvents, 1)
	assert.Equal(t, "deposit", f.sink.balEvents[0].Reason)
	assert.Equal(t, "TXDEP", f.sink.balEvents[0].TxHash)
	assert.Empty(t, f.sink.betEvents)
}

func TestPollIgnoresUnknownActions(t *testing.T) {
	f := newFixture(t)
	f.source.recs = []chain.TxRecord{{
		Hash:   "TXODD",
		Height: 6,
		Events: []chain.Event{
			wasmEvent(attr(chain.AttrKeyAction, "coinflip.migrate")),
			{Type: "transfer", Attributes: []chain.Attribute{attr("amount", "1")}},
		},
	}}

	require.NoError(t, f.ix.Poll(context.Background()))

	assert.Empty(t, f.sink.dlq)
	assert.Empty(t, f.sink.betEvents)
	h, _ := f.state.LastHeight(context.Background())
	assert.Equal(t, int64(6), h)
}

func TestPollCountsAppliedActions(t *testing.T) {
	f := newFixture(t)
	f.source.bets[7] = chain.BetView{
		ID: 7, Maker: makerAddr, Amount: "5000", Commitment: "aa11",
		Status: chain.ChainStatusOpen, CreatedAt: 1700000000,
	}
	f.source.recs = []chain.TxRecord{createdTx(10, 7, makerAddr)}

	var mu sync.Mutex
	counts := make(map[string]int)
	f.ix.OnApplied = func(action string) {
		mu.Lock()
		counts[action]++
		mu.Unlock()
	}

	require.NoError(t, f.ix.Poll(context.Background()))
	assert.Equal(t, 1, counts[chain.ActionBetCreated])
}

