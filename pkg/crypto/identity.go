package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Identity is the 32-byte public identity of a market participant or a
// program-derived account (vault, market record). Wallet-backed identities
// embed the 20-byte EVM address left-aligned; derived identities are
// keccak256 outputs.
type Identity [32]byte

var ZeroIdentity Identity

// IdentityFromAddress embeds an EVM wallet address into an Identity.
func IdentityFromAddress(addr common.Address) Identity {
	var id Identity
	copy(id[:20], addr[:])
	return id
}

// IdentityFromHex parses a 0x-prefixed or bare hex identity.
// Accepts 20-byte (wallet address) and 32-byte encodings.
func IdentityFromHex(s string) (Identity, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid hex identity: %w", err)
	}
	switch len(raw) {
	case 20:
		return IdentityFromAddress(common.BytesToAddress(raw)), nil
	case 32:
		var id Identity
		copy(id[:], raw)
		return id, nil
	default:
		return Identity{}, fmt.Errorf("identity must be 20 or 32 bytes, got %d", len(raw))
	}
}

func (id Identity) Hex() string    { return "0x" + hex.EncodeToString(id[:]) }
func (id Identity) String() string { return id.Hex() }

// MarshalText/UnmarshalText let identities serialize as hex in JSON bodies
// and storage rows.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := IdentityFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id Identity) IsZero() bool { return id == ZeroIdentity }

// OwnerTag returns the low 64 bits of keccak256(identity). It is the stable
// owner hash folded into order IDs.
func (id Identity) OwnerTag() uint64 {
	h := sha3.NewLegacyKeccak256()
	h.Write(id[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[24:32])
}

// DeriveIdentity computes a program-derived identity from a fixed seed and
// the token mint. Derivation is a pure function of the two, so every caller
// computes the same address. No private key exists for a derived identity.
func DeriveIdentity(seed string, mint Identity) Identity {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(seed))
	h.Write(mint[:])
	var out Identity
	copy(out[:], h.Sum(nil))
	return out
}

// Seeds for the per-market program-owned records.
const (
	SeedMarket = "zk2p/market"
	SeedBook   = "zk2p/orderbook"
	SeedEscrow = "zk2p/escrow"
)
