package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "ababababababababababababababababababababababababababababababab01"

func TestSignerDerivesStableAddress(t *testing.T) {
	s1, err := NewSigner(testKeyHex, "flip", "flip-local-1", "flip1contract")
	require.NoError(t, err)
	s2, err := NewSigner(testKeyHex, "flip", "flip-local-1", "flip1contract")
	require.NoError(t, err)

	assert.Equal(t, s1.Address(), s2.Address())
	assert.True(t, strings.HasPrefix(s1.Address(), "flip1"))
	assert.NoError(t, ValidateAddress(s1.Address(), "flip"))
}

func TestNewSignerRejectsBadKeys(t *testing.T) {
	_, err := NewSigner("not-hex", "flip", "flip-local-1", "flip1contract")
	assert.Error(t, err)

	_, err = NewSigner("abcd", "flip", "flip-local-1", "flip1contract")
	assert.Error(t, err)
}

func TestBuildAndVerifyTx(t *testing.T) {
	s, err := NewSigner(testKeyHex, "flip", "flip-local-1", "flip1contract")
	require.NoError(t, err)

	msg := ExecuteMsg{CreateBet: &CreateBetMsg{
		Maker:      "flip1maker",
		Amount:     "500000",
		Commitment: strings.Repeat("aa", 32),
	}}
	tx, err := s.BuildTx(AccountInfo{AccountNumber: 7, Sequence: 42}, msg, "")
	require.NoError(t, err)

	assert.Equal(t, uint64(42), tx.Doc.Sequence)
	assert.Equal(t, s.Address(), tx.Doc.Sender)
	require.NoError(t, VerifyTx(tx, "flip"))

	// qualquer mutação do doc invalida a assinatura
	tampered := tx
	tampered.Doc.Msg.CreateBet = &CreateBetMsg{Maker: "flip1maker", Amount: "9900000", Commitment: strings.Repeat("aa", 32)}
	assert.Error(t, VerifyTx(tampered, "flip"))

	tampered = tx
	tampered.Doc.Sequence = 43
	assert.Error(t, VerifyTx(tampered, "flip"))

	// prefixo errado muda o endereço derivado e quebra o check de sender
	assert.Error(t, VerifyTx(tx, "cosmos"))
}

func TestValidateAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, "flip", "flip-local-1", "flip1contract")
	require.NoError(t, err)

	assert.NoError(t, ValidateAddress(s.Address(), "flip"))
	assert.Error(t, ValidateAddress(s.Address(), "cosmos"))
	assert.Error(t, ValidateAddress("flip1garbage", "flip"))
	assert.Error(t, ValidateAddress("", "flip"))
}

func TestExecuteMsgKind(t *testing.T) {
	assert.Equal(t, "create_bet", ExecuteMsg{CreateBet: &CreateBetMsg{}}.Kind())
	assert.Equal(t, "accept_bet", ExecuteMsg{AcceptBet: &AcceptBetMsg{}}.Kind())
	assert.Equal(t, "accept_and_reveal", ExecuteMsg{AcceptAndReveal: &AcceptAndRevealMsg{}}.Kind())
	assert.Equal(t, "cancel_bet", ExecuteMsg{CancelBet: &CancelBetMsg{}}.Kind())
	assert.Equal(t, "reveal", ExecuteMsg{Reveal: &RevealMsg{}}.Kind())
	assert.Equal(t, "claim_timeout", ExecuteMsg{ClaimTimeout: &ClaimTimeoutMsg{}}.Kind())
	assert.Equal(t, "withdraw", ExecuteMsg{Withdraw: &WithdrawMsg{}}.Kind())
	assert.Equal(t, "unknown", ExecuteMsg{}.Kind())
}

func TestSideHelpers(t *testing.T) {
	assert.True(t, SideHeads.Valid())
	assert.True(t, SideTails.Valid())
	assert.False(t, Side("edge").Valid())
	assert.Equal(t, SideTails, SideHeads.Opposite())
	assert.Equal(t, SideHeads, SideTails.Opposite())
}
