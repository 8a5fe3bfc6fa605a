package escrow

import (
	"errors"
	"math"
	"testing"

	"github.com/azank1/zk2p/pkg/crypto"
)

func ident(b byte) crypto.Identity {
	var id crypto.Identity
	id[0] = b
	return id
}

func TestLedgerTransfer(t *testing.T) {
	mint := ident(9)
	l := NewLedger(mint)
	a, b := ident(1), ident(2)

	if err := l.Issue(a, 1000); err != nil {
		t.Fatal(err)
	}
	if err := l.Transfer(a, b, 400); err != nil {
		t.Fatal(err)
	}
	if l.BalanceOf(a) != 600 || l.BalanceOf(b) != 400 {
		t.Errorf("balances = %d/%d, want 600/400", l.BalanceOf(a), l.BalanceOf(b))
	}
	if err := l.Transfer(a, b, 601); !errors.Is(err, ErrInsufficient) {
		t.Errorf("overdraft = %v, want ErrInsufficient", err)
	}
	// Failed transfer moved nothing.
	if l.TotalSupply() != 1000 {
		t.Errorf("supply = %d, want 1000", l.TotalSupply())
	}
}

func TestLedgerOverflow(t *testing.T) {
	l := NewLedger(ident(9))
	a := ident(1)
	if err := l.Issue(a, math.MaxUint64); err != nil {
		t.Fatal(err)
	}
	if err := l.Issue(a, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("overflow issue = %v, want ErrOverflow", err)
	}
}

func TestVaultLifecycle(t *testing.T) {
	mint := ident(9)
	l := NewLedger(mint)
	v := NewVault(l)
	seller, buyer := ident(1), ident(2)

	if v.Owner() != crypto.DeriveIdentity(crypto.SeedEscrow, mint) {
		t.Error("vault owner must be the derived escrow signer")
	}

	l.Issue(seller, 500)
	if err := v.Deposit(seller, 200); err != nil {
		t.Fatal(err)
	}
	if v.Balance() != 200 || l.BalanceOf(seller) != 300 {
		t.Errorf("after deposit: vault=%d seller=%d", v.Balance(), l.BalanceOf(seller))
	}

	if err := v.Refund(seller, 50); err != nil {
		t.Fatal(err)
	}
	if err := v.Release(buyer, 150); err != nil {
		t.Fatal(err)
	}
	if v.Balance() != 0 || l.BalanceOf(seller) != 350 || l.BalanceOf(buyer) != 150 {
		t.Errorf("final: vault=%d seller=%d buyer=%d", v.Balance(), l.BalanceOf(seller), l.BalanceOf(buyer))
	}

	// The vault can never go negative.
	if err := v.Refund(seller, 1); !errors.Is(err, ErrVaultInsufficient) {
		t.Errorf("over-refund = %v, want ErrVaultInsufficient", err)
	}
	if err := v.Release(buyer, 1); !errors.Is(err, ErrVaultInsufficient) {
		t.Errorf("over-release = %v, want ErrVaultInsufficient", err)
	}

	// Conservation across the whole sequence.
	if l.TotalSupply() != 500 {
		t.Errorf("supply = %d, want 500", l.TotalSupply())
	}
}

func TestLedgerSnapshotRoundTrip(t *testing.T) {
	l := NewLedger(ident(9))
	a, b := ident(1), ident(2)
	l.Issue(a, 10)
	l.Issue(b, 20)

	snap := l.Balances()
	restored := NewLedger(ident(9))
	for id, amt := range snap {
		restored.SetBalance(id, amt)
	}
	if restored.BalanceOf(a) != 10 || restored.BalanceOf(b) != 20 {
		t.Error("snapshot round trip lost balances")
	}
}
