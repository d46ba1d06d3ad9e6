package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// SignDoc é o documento canônico que o relayer assina. A serialização JSON
// segue a ordem dos campos da struct, então assinador e verificador produzem
// os mesmos bytes.
type SignDoc struct {
	ChainID       string     `json:"chain_id"`
	AccountNumber uint64     `json:"account_number"`
	Sequence      uint64     `json:"sequence"`
	Sender        string     `json:"sender"`
	Contract      string     `json:"contract"`
	Msg           ExecuteMsg `json:"msg"`
	Memo          string     `json:"memo"`
}

// Tx é o envelope broadcastável: doc + pubkey + assinatura.
type Tx struct {
	Doc       SignDoc `json:"doc"`
	PubKey    string  `json:"pub_key"`   // secp256k1 comprimida, hex
	Signature string  `json:"signature"` // ECDSA DER, hex
}

// Signer assina transações com a chave única do relayer.
type Signer struct {
	priv     *btcec.PrivateKey
	address  string
	chainID  string
	contract string
}

// NewSigner carrega a chave privada (hex, 32 bytes) e deriva o endereço bech32.
func NewSigner(privKeyHex, bech32Prefix, chainID, contract string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("relayer key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("relayer key must be 32 bytes, got %d", len(raw))
	}

	priv, _ := btcec.PrivKeyFromBytes(raw)
	addr, err := DeriveAddress(priv.PubKey(), bech32Prefix)
	if err != nil {
		return nil, fmt.Errorf("derive relayer address: %w", err)
	}

	return &Signer{priv: priv, address: addr, chainID: chainID, contract: contract}, nil
}

// Address devolve o endereço bech32 da conta do relayer.
func (s *Signer) Address() string { return s.address }

// BuildTx monta e assina uma transação com a sequence informada.
func (s *Signer) BuildTx(acc AccountInfo, msg ExecuteMsg, memo string) (Tx, error) {
	doc := SignDoc{
		ChainID:       s.chainID,
		AccountNumber: acc.AccountNumber,
		Sequence:      acc.Sequence,
		Sender:        s.address,
		Contract:      s.contract,
		Msg:           msg,
		Memo:          memo,
	}

	digest, err := docDigest(doc)
	if err != nil {
		return Tx{}, err
	}

	sig := ecdsa.Sign(s.priv, digest)
	return Tx{
		Doc:       doc,
		PubKey:    hex.EncodeToString(s.priv.PubKey().SerializeCompressed()),
		Signature: hex.EncodeToString(sig.Serialize()),
	}, nil
}

// VerifyTx confere assinatura e consistência pubkey/sender de um envelope.
// Usado pelo simulador de chain e por testes.
func VerifyTx(tx Tx, bech32Prefix string) error {
	pubRaw, err := hex.DecodeString(tx.PubKey)
	if err != nil {
		return fmt.Errorf("pubkey is not valid hex: %w", err)
	}
	pub, err := btcec.ParsePubKey(pubRaw)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}

	addr, err := DeriveAddress(pub, bech32Prefix)
	if err != nil {
		return err
	}
	if addr != tx.Doc.Sender {
		return fmt.Errorf("sender %s does not match pubkey address %s", tx.Doc.Sender, addr)
	}

	sigRaw, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return fmt.Errorf("signature is not valid hex: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigRaw)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}

	digest, err := docDigest(tx.Doc)
	if err != nil {
		return err
	}
	if !sig.Verify(digest, pub) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}

// docDigest serializa o doc em JSON canônico e devolve o SHA-256.
func docDigest(doc SignDoc) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode sign doc: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return sum[:], nil
}

// DeriveAddress deriva o endereço bech32 de uma pubkey secp256k1:
// bech32(prefix, ripemd160(sha256(pubkey_comprimida))).
func DeriveAddress(pub *btcec.PublicKey, prefix string) (string, error) {
	h := btcutil.Hash160(pub.SerializeCompressed())
	five, err := bech32.ConvertBits(h, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	return bech32.Encode(prefix, five)
}

// ValidateAddress valida formato bech32, prefixo e tamanho do payload (20 bytes).
func ValidateAddress(addr, prefix string) error {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid bech32 address: %w", err)
	}
	if hrp != prefix {
		return fmt.Errorf("address prefix %q, want %q", hrp, prefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return fmt.Errorf("invalid address payload: %w", err)
	}
	if len(raw) != 20 {
		return fmt.Errorf("address payload must be 20 bytes, got %d", len(raw))
	}
	return nil
}
