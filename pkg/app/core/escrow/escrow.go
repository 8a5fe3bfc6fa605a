// Package escrow models the base-token ledger and the program-owned vault
// that holds maker deposits between order admission and settlement release.
package escrow

import (
	"errors"
	"fmt"
	"math"

	"github.com/azank1/zk2p/pkg/crypto"
)

var (
	ErrInsufficient = errors.New("insufficient token balance")
	// ErrVaultInsufficient guards the vault invariant: the vault can never
	// go negative, and a refund or release exceeding its balance means an
	// accounting bug upstream.
	ErrVaultInsufficient = errors.New("escrow vault balance too low")
	ErrOverflow          = errors.New("token amount overflow")
)

// Ledger tracks base-token balances for one mint. Quote legs are fiat and
// settle off-chain; only the base token exists on the ledger.
type Ledger struct {
	mint     crypto.Identity
	balances map[crypto.Identity]uint64
}

func NewLedger(mint crypto.Identity) *Ledger {
	return &Ledger{
		mint:     mint,
		balances: make(map[crypto.Identity]uint64),
	}
}

func (l *Ledger) Mint() crypto.Identity { return l.mint }

func (l *Ledger) BalanceOf(id crypto.Identity) uint64 { return l.balances[id] }

// Issue credits freshly minted test tokens. Devnet faucet only; guarded by
// the market authority at the app layer.
func (l *Ledger) Issue(to crypto.Identity, amount uint64) error {
	return l.credit(to, amount)
}

func (l *Ledger) credit(to crypto.Identity, amount uint64) error {
	cur := l.balances[to]
	if cur > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.balances[to] = cur + amount
	return nil
}

func (l *Ledger) Transfer(from, to crypto.Identity, amount uint64) error {
	if l.balances[from] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficient, l.balances[from], amount)
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	l.balances[from] -= amount
	return nil
}

// Balances snapshots every account for persistence.
func (l *Ledger) Balances() map[crypto.Identity]uint64 {
	out := make(map[crypto.Identity]uint64, len(l.balances))
	for id, bal := range l.balances {
		out[id] = bal
	}
	return out
}

// SetBalance overwrites one account; used when rehydrating a snapshot.
func (l *Ledger) SetBalance(id crypto.Identity, amount uint64) {
	if amount == 0 {
		delete(l.balances, id)
		return
	}
	l.balances[id] = amount
}

// TotalSupply sums every balance; conservation checks in tests rely on it.
func (l *Ledger) TotalSupply() uint64 {
	var total uint64
	for _, bal := range l.balances {
		total += bal
	}
	return total
}

// Vault is the per-market escrow account. Its owner is a program-derived
// identity with no private key; only core operations move its funds.
type Vault struct {
	ledger *Ledger
	owner  crypto.Identity
}

func NewVault(ledger *Ledger) *Vault {
	return &Vault{
		ledger: ledger,
		owner:  crypto.DeriveIdentity(crypto.SeedEscrow, ledger.Mint()),
	}
}

func (v *Vault) Owner() crypto.Identity { return v.owner }

func (v *Vault) Balance() uint64 { return v.ledger.BalanceOf(v.owner) }

// Deposit locks base tokens on ask admission.
func (v *Vault) Deposit(from crypto.Identity, amount uint64) error {
	return v.ledger.Transfer(from, v.owner, amount)
}

// Refund returns locked tokens on ask cancellation, leftover discard, or
// self-trade cancel.
func (v *Vault) Refund(to crypto.Identity, amount uint64) error {
	if v.Balance() < amount {
		return ErrVaultInsufficient
	}
	return v.ledger.Transfer(v.owner, to, amount)
}

// Release pays out matched tokens to the buyer once settlement verifies.
func (v *Vault) Release(to crypto.Identity, amount uint64) error {
	if v.Balance() < amount {
		return ErrVaultInsufficient
	}
	return v.ledger.Transfer(v.owner, to, amount)
}
