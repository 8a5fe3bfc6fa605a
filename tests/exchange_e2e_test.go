package tests

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/app/core/escrow"
	"github.com/azank1/zk2p/pkg/app/core/settlement"
	"github.com/azank1/zk2p/pkg/app/exchange"
	"github.com/azank1/zk2p/pkg/crypto"
	"github.com/azank1/zk2p/pkg/storage"
	"github.com/azank1/zk2p/pkg/util"
)

var (
	authority = ident(0xAA)
	mint      = ident(0x99)
)

func ident(b byte) crypto.Identity {
	var id crypto.Identity
	id[0] = b
	return id
}

func newTestExchange(t *testing.T, delay time.Duration, store *storage.Store) (*exchange.App, *util.ManualClock) {
	t.Helper()
	clock := &util.ManualClock{T: time.Unix(1_700_000_000, 0)}
	app := exchange.New(exchange.Options{
		SettlementDelay: delay,
		Clock:           clock,
		Store:           store,
	})
	if err := app.InitializeMarket(authority, mint); err != nil {
		t.Fatalf("init market: %v", err)
	}
	if err := app.InitializeOrderBook(mint); err != nil {
		t.Fatalf("init orderbook: %v", err)
	}
	if err := app.InitializeEscrow(mint); err != nil {
		t.Fatalf("init escrow: %v", err)
	}
	return app, clock
}

func fund(t *testing.T, app *exchange.App, to crypto.Identity, amount uint64) {
	t.Helper()
	if err := app.Faucet(authority, to, amount); err != nil {
		t.Fatalf("faucet: %v", err)
	}
}

func place(t *testing.T, app *exchange.App, p exchange.PlaceParams) (book.OrderID, *book.PlaceResult) {
	t.Helper()
	id, res, err := app.PlaceOrder(p)
	if err != nil {
		t.Fatalf("place %s %s %d@%d: %v", p.Side, p.Type, p.Quantity, p.Price, err)
	}
	return id, res
}

func TestInitializationGuards(t *testing.T) {
	app := exchange.New(exchange.Options{})

	if err := app.InitializeOrderBook(mint); !errors.Is(err, exchange.ErrNotInitialized) {
		t.Errorf("book before market = %v, want ErrNotInitialized", err)
	}
	if err := app.InitializeMarket(authority, mint); err != nil {
		t.Fatal(err)
	}
	if err := app.InitializeMarket(authority, mint); !errors.Is(err, exchange.ErrAlreadyInitialized) {
		t.Errorf("second market init = %v, want ErrAlreadyInitialized", err)
	}
	if err := app.InitializeOrderBook(ident(0x42)); err == nil {
		t.Error("wrong mint accepted")
	}
	if err := app.InitializeOrderBook(mint); err != nil {
		t.Fatal(err)
	}
	if err := app.InitializeOrderBook(mint); !errors.Is(err, exchange.ErrAlreadyInitialized) {
		t.Errorf("second book init = %v, want ErrAlreadyInitialized", err)
	}
}

func TestEndToEndSettlement(t *testing.T) {
	app, clock := newTestExchange(t, 10*time.Second, nil)
	seller, buyer := ident(1), ident(2)
	fund(t, app, seller, 1000)

	// Seller escrows 100 base units.
	_, askRes := place(t, app, exchange.PlaceParams{
		Owner: seller, Side: book.Ask, Type: book.Limit,
		Price: 50, Quantity: 100, PaymentMethod: "SEPA instant",
	})
	if askRes.FilledQty != 0 || !askRes.Rested {
		t.Fatalf("ask should rest: %+v", askRes)
	}
	if app.VaultBalance() != 100 || app.BalanceOf(seller) != 900 {
		t.Fatalf("after ask: vault=%d seller=%d", app.VaultBalance(), app.BalanceOf(seller))
	}

	// Buyer crosses; tokens stay in escrow pending the fiat leg.
	bidID, bidRes := place(t, app, exchange.PlaceParams{
		Owner: buyer, Side: book.Bid, Type: book.Limit,
		Price: 50, Quantity: 100, PaymentMethod: "SEPA instant",
	})
	if bidRes.FilledQty != 100 || len(bidRes.Fills) != 1 {
		t.Fatalf("bid should fully match: %+v", bidRes)
	}
	if app.TotalOrders() != 0 {
		t.Error("book should be empty after the match")
	}
	if app.VaultBalance() != 100 {
		t.Errorf("vault = %d, want 100 held for settlement", app.VaultBalance())
	}

	rec, ok := app.Settlement(bidID)
	if !ok || rec.Qty != 100 || rec.Status != settlement.Pending {
		t.Fatalf("settlement record = %+v", rec)
	}
	if rec.PaymentMethod != "SEPA instant" {
		t.Errorf("payment method = %q", rec.PaymentMethod)
	}

	// Only the buyer can mark.
	if err := app.MarkPaymentMade(bidID, seller); !errors.Is(err, settlement.ErrNotBuyer) {
		t.Errorf("seller mark = %v, want ErrNotBuyer", err)
	}
	if err := app.MarkPaymentMade(bidID, buyer); err != nil {
		t.Fatal(err)
	}

	// Inside the delay window the release is gated.
	proof := []byte{0x01}
	if _, err := app.VerifySettlement(bidID, proof); !errors.Is(err, settlement.ErrDelayNotExpired) {
		t.Fatalf("early verify = %v, want ErrDelayNotExpired", err)
	}

	clock.Advance(10 * time.Second)
	released, err := app.VerifySettlement(bidID, proof)
	if err != nil {
		t.Fatal(err)
	}
	if released != 100 {
		t.Errorf("released = %d, want 100", released)
	}
	if app.VaultBalance() != 0 || app.BalanceOf(buyer) != 100 {
		t.Errorf("final: vault=%d buyer=%d", app.VaultBalance(), app.BalanceOf(buyer))
	}
	// No tokens created or destroyed across the whole flow.
	if total := app.BalanceOf(seller) + app.BalanceOf(buyer) + app.VaultBalance(); total != 1000 {
		t.Errorf("supply = %d, want 1000", total)
	}
	if _, ok := app.Settlement(bidID); ok {
		t.Error("verified settlement record should be freed")
	}
}

func TestCancelRoundTrip(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	seller := ident(1)
	fund(t, app, seller, 1000)

	m, _ := app.Market()
	seqBefore := m.NextOrderSequence

	id, _ := place(t, app, exchange.PlaceParams{
		Owner: seller, Side: book.Ask, Type: book.Limit, Price: 60, Quantity: 200,
	})
	if app.VaultBalance() != 200 {
		t.Fatalf("vault = %d, want 200", app.VaultBalance())
	}

	refunded, err := app.CancelOrder(id, seller)
	if err != nil {
		t.Fatal(err)
	}
	if refunded != 200 {
		t.Errorf("refunded = %d, want 200", refunded)
	}
	if app.BalanceOf(seller) != 1000 || app.VaultBalance() != 0 {
		t.Errorf("balances not restored: seller=%d vault=%d", app.BalanceOf(seller), app.VaultBalance())
	}
	if app.TotalOrders() != 0 {
		t.Error("book not empty")
	}
	m, _ = app.Market()
	if m.NextOrderSequence != seqBefore+1 {
		t.Errorf("sequence advanced by %d, want exactly 1", m.NextOrderSequence-seqBefore)
	}
}

func TestBidCancelReportsNotional(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	buyer := ident(2)

	id, _ := place(t, app, exchange.PlaceParams{
		Owner: buyer, Side: book.Bid, Type: book.Limit, Price: 50, Quantity: 40,
	})
	refunded, err := app.CancelOrder(id, buyer)
	if err != nil {
		t.Fatal(err)
	}
	// Bids escrow nothing on-chain; the freed quote notional is reported.
	if refunded != 50*40 {
		t.Errorf("refunded = %d, want %d", refunded, 50*40)
	}
	if app.VaultBalance() != 0 {
		t.Error("bid cancel moved tokens")
	}
}

func TestCancelAuthorization(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	seller, stranger := ident(1), ident(7)
	fund(t, app, seller, 100)

	id, _ := place(t, app, exchange.PlaceParams{
		Owner: seller, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 100,
	})
	if _, err := app.CancelOrder(id, stranger); !errors.Is(err, book.ErrUnauthorized) {
		t.Errorf("stranger cancel = %v, want ErrUnauthorized", err)
	}
	if _, err := app.CancelOrder(book.MakeOrderID(999, seller), seller); !errors.Is(err, book.ErrUnknownOrder) {
		t.Errorf("unknown cancel = %v, want ErrUnknownOrder", err)
	}
}

func TestSelfTradeRefundsEscrow(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	a, c := ident(1), ident(3)
	fund(t, app, a, 1000)
	fund(t, app, c, 1000)

	place(t, app, exchange.PlaceParams{Owner: a, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 100})
	place(t, app, exchange.PlaceParams{Owner: c, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 40})
	if app.VaultBalance() != 140 {
		t.Fatalf("vault = %d, want 140", app.VaultBalance())
	}

	_, res := place(t, app, exchange.PlaceParams{Owner: a, Side: book.Bid, Type: book.Limit, Price: 50, Quantity: 50})
	if len(res.SelfCancels) != 1 || res.FilledQty != 40 {
		t.Fatalf("result = %+v, want own ask cancelled and 40 filled from C", res)
	}
	// A's 100 came straight back; C's filled 40 is held for settlement.
	if app.BalanceOf(a) != 1000 {
		t.Errorf("A balance = %d, want 1000", app.BalanceOf(a))
	}
	if app.VaultBalance() != 40 {
		t.Errorf("vault = %d, want 40", app.VaultBalance())
	}
	if bb, ok := app.BestBid(); !ok || bb != 50 {
		t.Errorf("best bid = %d, want A's leftover 10 at 50", bb)
	}
}

func TestFOKLeavesStateUntouched(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	seller, buyer := ident(1), ident(2)
	fund(t, app, seller, 1000)

	place(t, app, exchange.PlaceParams{Owner: seller, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 80})
	m, _ := app.Market()
	seqBefore := m.NextOrderSequence
	vaultBefore := app.VaultBalance()

	_, _, err := app.PlaceOrder(exchange.PlaceParams{
		Owner: buyer, Side: book.Bid, Type: book.FOK, Price: 55, Quantity: 100,
	})
	if !errors.Is(err, book.ErrFillOrKillNotFilled) {
		t.Fatalf("err = %v, want ErrFillOrKillNotFilled", err)
	}

	m, _ = app.Market()
	if m.NextOrderSequence != seqBefore {
		t.Error("rejected FOK advanced the sequence")
	}
	if app.VaultBalance() != vaultBefore {
		t.Error("rejected FOK moved escrow")
	}
	if app.TotalOrders() != 1 {
		t.Error("rejected FOK mutated the book")
	}

	// The sized-down FOK clears.
	_, res := place(t, app, exchange.PlaceParams{
		Owner: buyer, Side: book.Bid, Type: book.FOK, Price: 55, Quantity: 70,
	})
	if res.FilledQty != 70 {
		t.Errorf("filled = %d, want 70", res.FilledQty)
	}
}

func TestMarketOrderZeroFill(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	buyer := ident(2)

	// Empty book: zero-fill success, nothing rests.
	_, res := place(t, app, exchange.PlaceParams{
		Owner: buyer, Side: book.Bid, Type: book.Market, Quantity: 50,
	})
	if res.FilledQty != 0 || res.Rested || res.DiscardedQty != 50 {
		t.Errorf("market zero-fill = %+v", res)
	}
}

func TestIOCAskDiscardRefunds(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	seller := ident(1)
	fund(t, app, seller, 500)

	// Ask with no bids: deposit is taken and fully refunded on discard.
	_, res := place(t, app, exchange.PlaceParams{
		Owner: seller, Side: book.Ask, Type: book.IOC, Price: 50, Quantity: 200,
	})
	if res.DiscardedQty != 200 {
		t.Fatalf("discarded = %d, want 200", res.DiscardedQty)
	}
	if app.BalanceOf(seller) != 500 || app.VaultBalance() != 0 {
		t.Errorf("IOC discard leaked escrow: seller=%d vault=%d", app.BalanceOf(seller), app.VaultBalance())
	}
}

func TestAskWithoutFundsRejected(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	seller := ident(1)
	fund(t, app, seller, 10)

	_, _, err := app.PlaceOrder(exchange.PlaceParams{
		Owner: seller, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 100,
	})
	if !errors.Is(err, escrow.ErrInsufficient) {
		t.Fatalf("err = %v, want escrow.ErrInsufficient", err)
	}
	m, _ := app.Market()
	if m.NextOrderSequence != 0 {
		t.Error("rejected placement advanced the sequence")
	}
}

func TestFaucetAuthorityOnly(t *testing.T) {
	app, _ := newTestExchange(t, time.Second, nil)
	if err := app.Faucet(ident(7), ident(1), 100); !errors.Is(err, book.ErrUnauthorized) {
		t.Errorf("stranger faucet = %v, want ErrUnauthorized", err)
	}
}

func TestEscrowConservationAcrossSequence(t *testing.T) {
	app, clock := newTestExchange(t, 5*time.Second, nil)
	a, b, c := ident(1), ident(2), ident(3)
	fund(t, app, a, 1000)
	fund(t, app, c, 1000)
	const supply = 2000

	checkSupply := func(stage string) {
		t.Helper()
		total := app.BalanceOf(a) + app.BalanceOf(b) + app.BalanceOf(c) + app.VaultBalance()
		if total != supply {
			t.Fatalf("%s: supply = %d, want %d", stage, total, supply)
		}
	}

	place(t, app, exchange.PlaceParams{Owner: a, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 300})
	checkSupply("ask placed")

	bidID, _ := place(t, app, exchange.PlaceParams{Owner: b, Side: book.Bid, Type: book.Limit, Price: 55, Quantity: 120})
	checkSupply("bid matched")

	askID2, _ := place(t, app, exchange.PlaceParams{Owner: c, Side: book.Ask, Type: book.Limit, Price: 60, Quantity: 50})
	if _, err := app.CancelOrder(askID2, c); err != nil {
		t.Fatal(err)
	}
	checkSupply("ask cancelled")

	if err := app.MarkPaymentMade(bidID, b); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Second)
	if _, err := app.VerifySettlement(bidID, []byte{0x01}); err != nil {
		t.Fatal(err)
	}
	checkSupply("settled")

	// Vault backs exactly the resting asks plus unreleased matches.
	var restingAsk uint64
	for _, lvl := range app.Depth(book.Ask) {
		restingAsk += lvl.Qty
	}
	if app.VaultBalance() != restingAsk {
		t.Errorf("vault = %d, resting asks = %d (nothing pending)", app.VaultBalance(), restingAsk)
	}
}

func TestRehydrateFromStorage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zk2p.db")

	store, err := storage.NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	app, _ := newTestExchange(t, time.Second, store)
	seller, buyer := ident(1), ident(2)
	fund(t, app, seller, 1000)

	place(t, app, exchange.PlaceParams{Owner: seller, Side: book.Ask, Type: book.Limit, Price: 50, Quantity: 100})
	bidID, _ := place(t, app, exchange.PlaceParams{Owner: buyer, Side: book.Bid, Type: book.Limit, Price: 45, Quantity: 30})
	m, _ := app.Market()
	seqBefore := m.NextOrderSequence
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store2, err := storage.NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	clock := &util.ManualClock{T: time.Unix(1_700_000_100, 0)}
	app2 := exchange.New(exchange.Options{
		SettlementDelay: time.Second,
		Clock:           clock,
		Store:           store2,
	})
	if err := app2.Rehydrate(); err != nil {
		t.Fatal(err)
	}

	m2, ok := app2.Market()
	if !ok || m2.NextOrderSequence != seqBefore {
		t.Fatalf("sequence = %d, want %d", m2.NextOrderSequence, seqBefore)
	}
	if app2.BalanceOf(seller) != 900 {
		t.Errorf("seller balance = %d, want 900", app2.BalanceOf(seller))
	}
	if app2.VaultBalance() != 100 {
		t.Errorf("vault = %d, want 100", app2.VaultBalance())
	}
	if ba, ok := app2.BestAsk(); !ok || ba != 50 {
		t.Errorf("best ask = %d, want 50", ba)
	}
	if bb, ok := app2.BestBid(); !ok || bb != 45 {
		t.Errorf("best bid = %d, want 45", bb)
	}
	// The resting bid survives and can still be cancelled.
	if _, err := app2.CancelOrder(bidID, buyer); err != nil {
		t.Errorf("cancel after rehydrate: %v", err)
	}
}
