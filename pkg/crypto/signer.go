package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps a secp256k1 key used to sign API submissions.
type Signer struct {
	key *ecdsa.PrivateKey
}

func GenerateKey() (*Signer, error) {
	key, err := ethCrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func NewSignerFromHex(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := ethCrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Address() common.Address {
	return ethCrypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *Signer) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(ethCrypto.FromECDSA(s.key))
}

// Sign produces a 65-byte [R || S || V] signature over a 32-byte digest.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ethCrypto.Sign(digest, s.key)
}

// RecoverAddress recovers the signing wallet from a digest and signature.
func RecoverAddress(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := ethCrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: %w", err)
	}
	return ethCrypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that sig over digest was produced by addr.
func VerifySignature(addr common.Address, digest, sig []byte) bool {
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		return false
	}
	return recovered == addr
}

// Keccak256 hashes data with legacy keccak, the digest used for all
// submission signatures.
func Keccak256(data ...[]byte) []byte {
	return ethCrypto.Keccak256(data...)
}

// DecodeSignature decodes a hex-encoded signature (with or without 0x prefix).
func DecodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
