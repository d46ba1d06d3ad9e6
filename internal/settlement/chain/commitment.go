package chain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// prefixo de domínio do hash, igual ao do contrato
const commitmentDomain = "coinflip_v1"

// NewSecret gera um segredo de 32 bytes aleatórios, em hex.
func NewSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Commitment calcula o hash que o maker publica no create:
// sha256("coinflip_v1" || maker || side_ascii || secret_bytes), em hex.
func Commitment(maker string, side Side, secretHex string) (string, error) {
	if !side.Valid() {
		return "", fmt.Errorf("invalid side %q", side)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", fmt.Errorf("secret is not valid hex: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(commitmentDomain))
	h.Write([]byte(maker))
	h.Write([]byte(side))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyCommitment confere se (side, secret) abre o commitment publicado.
func VerifyCommitment(commitment, maker string, side Side, secretHex string) bool {
	calc, err := Commitment(maker, side, secretHex)
	return err == nil && strings.EqualFold(calc, commitment)
}
