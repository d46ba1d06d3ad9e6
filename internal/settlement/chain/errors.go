package chain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrChainUnreachable cobre falha de transporte, timeout e 5xx do node.
	ErrChainUnreachable = errors.New("chain node unreachable")

	// ErrAccountNotFound: conta do relayer ainda não existe on-chain.
	ErrAccountNotFound = errors.New("account not found on chain")

	// ErrNotFound: smart query respondeu 404 (aposta inexistente, etc).
	ErrNotFound = errors.New("not found on chain")
)

// código ABCI que o Cosmos SDK usa pra sequence mismatch
const codeSequenceMismatch = 32

// SequenceMismatchError: broadcast rejeitado com code 32. Expected carrega a
// sequence que o node espera, extraída do raw_log quando presente.
type SequenceMismatchError struct {
	Expected    uint64
	HasExpected bool
	RawLog      string
}

func (e *SequenceMismatchError) Error() string {
	if e.HasExpected {
		return fmt.Sprintf("account sequence mismatch, node expects %d", e.Expected)
	}
	return "account sequence mismatch"
}

// TxRejectedError: broadcast rejeitado com code != 0 e != 32. Não dá retry:
// a transação nunca entrou no mempool e a sequence não foi consumida.
type TxRejectedError struct {
	Code   uint32
	RawLog string
}

func (e *TxRejectedError) Error() string {
	return fmt.Sprintf("tx rejected by node: code=%d log=%s", e.Code, e.RawLog)
}

var expectedSeqRe = regexp.MustCompile(`expected (\d+)`)

// parseSequenceMismatch monta o erro de mismatch a partir do raw_log do node.
func parseSequenceMismatch(rawLog string) *SequenceMismatchError {
	e := &SequenceMismatchError{RawLog: rawLog}
	if m := expectedSeqRe.FindStringSubmatch(rawLog); len(m) == 2 {
		if v, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			e.Expected = v
			e.HasExpected = true
		}
	}
	return e
}
