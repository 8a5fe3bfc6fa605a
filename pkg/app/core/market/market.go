// Package market holds the per-market global record: authority, token
// mint, and the monotonic sequence that order ids are minted from.
package market

import (
	"errors"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/crypto"
)

var (
	ErrMintMismatch         = errors.New("token mint mismatch")
	ErrPaymentMethodTooLong = errors.New("payment method too long")
	ErrPaused               = errors.New("market paused")
)

type Status uint8

const (
	Active Status = iota
	Paused
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Market is the fixed global state of one trading pair: base token against
// off-chain fiat. Its record address derives from the mint, so every node
// computes the same one.
type Market struct {
	Address           crypto.Identity
	Authority         crypto.Identity
	TokenMint         crypto.Identity
	NextOrderSequence uint64
	Status            Status
	CreatedTs         int64
}

func New(authority, mint crypto.Identity, now int64) *Market {
	return &Market{
		Address:   crypto.DeriveIdentity(crypto.SeedMarket, mint),
		Authority: authority,
		TokenMint: mint,
		Status:    Active,
		CreatedTs: now,
	}
}

// ValidateMint rejects operations addressed to a different mint.
func (m *Market) ValidateMint(mint crypto.Identity) error {
	if mint != m.TokenMint {
		return ErrMintMismatch
	}
	return nil
}

// ValidateOrder checks the admission inputs that are market policy rather
// than book mechanics.
func (m *Market) ValidateOrder(paymentMethod string) error {
	if m.Status != Active {
		return ErrPaused
	}
	if len(paymentMethod) > book.MaxPaymentMethodLen {
		return ErrPaymentMethodTooLong
	}
	return nil
}

// MintOrderID stamps the next order id without advancing the sequence;
// CommitSequence advances it once the placement is accepted, so rejected
// placements leave no gap.
func (m *Market) MintOrderID(owner crypto.Identity) book.OrderID {
	return book.MakeOrderID(m.NextOrderSequence, owner)
}

func (m *Market) CommitSequence() { m.NextOrderSequence++ }
