// Package exchange composes the core into the operation surface callers
// see: market/book/escrow initialization, order placement and
// cancellation, and the two settlement transitions. Every operation runs
// atomically under one lock: it either commits completely or leaves
// observable state untouched.
package exchange

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/app/core/escrow"
	"github.com/azank1/zk2p/pkg/app/core/market"
	"github.com/azank1/zk2p/pkg/app/core/settlement"
	"github.com/azank1/zk2p/pkg/crypto"
	"github.com/azank1/zk2p/pkg/metrics"
	"github.com/azank1/zk2p/pkg/storage"
	"github.com/azank1/zk2p/pkg/util"
)

var (
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("market not initialized")
)

// SettlementEvent is broadcast to websocket clients and gossip peers when
// a payment is marked or a settlement releases.
type SettlementEvent struct {
	OrderID   book.OrderID    `json:"orderId"`
	Buyer     crypto.Identity `json:"buyer"`
	Qty       uint64          `json:"qty"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"ts"`
}

type Options struct {
	SettlementDelay time.Duration
	Clock           util.Clock
	Logger          *zap.SugaredLogger
	Verifier        settlement.Verifier
	Store           *storage.Store // nil disables persistence
}

type App struct {
	mu sync.Mutex

	log   *zap.SugaredLogger
	clock util.Clock
	store *storage.Store
	met   *metrics.Metrics

	delay    time.Duration
	verifier settlement.Verifier

	mkt    *market.Market
	ob     *book.OrderBook
	ledger *escrow.Ledger
	vault  *escrow.Vault
	fsm    *settlement.FSM

	// Callbacks for external integrations (WebSocket, gossip).
	OnTrade      func(storage.Trade)
	OnSettlement func(SettlementEvent)
}

func New(opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Verifier == nil {
		opts.Verifier = settlement.StubVerifier{}
	}
	if opts.SettlementDelay <= 0 {
		opts.SettlementDelay = 10 * time.Second
	}
	return &App{
		log:      opts.Logger,
		clock:    opts.Clock,
		store:    opts.Store,
		met:      metrics.New(),
		delay:    opts.SettlementDelay,
		verifier: opts.Verifier,
	}
}

func (a *App) Metrics() *metrics.Metrics { return a.met }

// ============================================================================
// Initialization
// ============================================================================

func (a *App) InitializeMarket(authority, mint crypto.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mkt != nil {
		return ErrAlreadyInitialized
	}
	a.mkt = market.New(authority, mint, a.clock.Now().Unix())
	a.persistMarket()
	a.log.Infow("market_initialized",
		"address", a.mkt.Address, "authority", authority, "mint", mint)
	return nil
}

func (a *App) InitializeOrderBook(mint crypto.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mkt == nil {
		return ErrNotInitialized
	}
	if err := a.mkt.ValidateMint(mint); err != nil {
		return err
	}
	if a.ob != nil {
		return ErrAlreadyInitialized
	}
	a.ob = book.NewOrderBook()
	a.log.Infow("orderbook_initialized",
		"address", crypto.DeriveIdentity(crypto.SeedBook, mint),
		"price_levels", book.MaxPriceLevels, "arena", book.OrderArenaCapacity)
	return nil
}

func (a *App) InitializeEscrow(mint crypto.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mkt == nil {
		return ErrNotInitialized
	}
	if err := a.mkt.ValidateMint(mint); err != nil {
		return err
	}
	if a.vault != nil {
		return ErrAlreadyInitialized
	}
	a.ledger = escrow.NewLedger(mint)
	a.vault = escrow.NewVault(a.ledger)
	a.fsm = settlement.NewFSM(a.delay, a.clock, a.verifier)
	a.log.Infow("escrow_initialized", "vault", a.vault.Owner(), "mint", mint)
	return nil
}

func (a *App) ready() error {
	if a.mkt == nil || a.ob == nil || a.vault == nil {
		return ErrNotInitialized
	}
	return nil
}

// ============================================================================
// Orders
// ============================================================================

type PlaceParams struct {
	Owner         crypto.Identity
	Side          book.Side
	Type          book.OrderType
	Price         uint64
	Quantity      uint64
	ClientOrderID uint64
	PaymentMethod string
}

// PlaceOrder admits an order, runs the match pass, and settles all escrow
// movements the placement implies. On any error the book, ledger and
// sequence are exactly as before the call.
func (a *App) PlaceOrder(p PlaceParams) (book.OrderID, *book.PlaceResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return book.OrderID{}, nil, err
	}
	if err := a.mkt.ValidateOrder(p.PaymentMethod); err != nil {
		a.met.OrdersRejected.WithLabelValues("validation").Inc()
		return book.OrderID{}, nil, err
	}
	// Reject cheap validation failures before touching the ledger.
	if p.Quantity == 0 {
		a.met.OrdersRejected.WithLabelValues("validation").Inc()
		return book.OrderID{}, nil, book.ErrInvalidAmount
	}
	if p.Price == 0 && p.Type != book.Market {
		a.met.OrdersRejected.WithLabelValues("validation").Inc()
		return book.OrderID{}, nil, book.ErrInvalidPrice
	}

	o := &book.Order{
		ID:            a.mkt.MintOrderID(p.Owner),
		ClientOrderID: p.ClientOrderID,
		Owner:         p.Owner,
		Side:          p.Side,
		Type:          p.Type,
		Price:         p.Price,
		Quantity:      p.Quantity,
		Timestamp:     a.clock.Now().UnixMilli(),
		PaymentMethod: p.PaymentMethod,
	}

	// Asks escrow their full size up front; the unmatched part is either
	// left in the vault (resting) or refunded below (discarded).
	deposited := false
	if p.Side == book.Ask {
		if err := a.vault.Deposit(p.Owner, p.Quantity); err != nil {
			a.met.OrdersRejected.WithLabelValues("escrow").Inc()
			return book.OrderID{}, nil, err
		}
		deposited = true
	}

	res, err := a.ob.Place(o)
	if err != nil {
		if deposited {
			// Place mutates nothing on error; undo the deposit.
			_ = a.vault.Refund(p.Owner, p.Quantity)
		}
		a.met.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		return book.OrderID{}, nil, err
	}
	a.mkt.CommitSequence()

	a.applyPlaceEffects(o, res)

	a.persistMarket()
	a.persistLedger()
	a.updateGauges()
	a.met.OrdersPlaced.WithLabelValues(p.Side.String(), p.Type.String()).Inc()
	a.log.Infow("order_placed",
		"id", o.ID, "owner", p.Owner, "side", p.Side.String(),
		"type", p.Type.String(), "price", p.Price, "qty", p.Quantity,
		"filled", res.FilledQty, "rested", res.Rested,
		"fills", len(res.Fills), "self_cancels", len(res.SelfCancels))
	return o.ID, res, nil
}

// applyPlaceEffects runs the escrow, settlement, persistence and event
// consequences of an accepted placement.
func (a *App) applyPlaceEffects(o *book.Order, res *book.PlaceResult) {
	for _, sc := range res.SelfCancels {
		if sc.Side == book.Ask {
			_ = a.vault.Refund(sc.Owner, sc.Remaining)
		}
		if a.store != nil {
			a.warnOn(a.store.DeleteOrder(sc.OrderID), "delete_order")
		}
		a.met.SelfTradeCancels.Inc()
		a.log.Infow("self_trade_cancelled",
			"id", sc.OrderID, "owner", sc.Owner, "side", sc.Side.String(),
			"price", sc.Price, "refunded", sc.Remaining)
	}

	for _, f := range res.Fills {
		a.fsm.Accumulate(f, f.BuyerPaymentMethod)
		if rec, ok := a.fsm.Get(f.BuyOrderID()); ok {
			a.persistSettlement(rec)
		}

		trade := storage.Trade{
			ID:        uuid.NewString(),
			MakerID:   f.MakerID,
			TakerID:   f.TakerID,
			Buyer:     f.Buyer(),
			Seller:    a.sellerOf(f),
			TakerSide: f.TakerSide.String(),
			Price:     f.Price,
			Qty:       f.Qty,
			Timestamp: f.Timestamp,
		}
		if a.store != nil {
			a.warnOn(a.store.SaveTrade(trade), "save_trade")
		}
		a.met.Matches.Inc()
		a.met.MatchVolume.Add(float64(f.Qty))
		if a.OnTrade != nil {
			a.OnTrade(trade)
		}

		// Keep the maker's persisted row in step with its remaining.
		if a.store != nil {
			if maker, ok := a.ob.FindOrder(f.MakerID); ok {
				a.warnOn(a.store.SaveOrder(maker), "save_order")
			} else {
				a.warnOn(a.store.DeleteOrder(f.MakerID), "delete_order")
			}
		}
	}

	if res.DiscardedQty > 0 && o.Side == book.Ask {
		_ = a.vault.Refund(o.Owner, res.DiscardedQty)
	}
	if res.Rested && a.store != nil {
		if rested, ok := a.ob.FindOrder(o.ID); ok {
			a.warnOn(a.store.SaveOrder(rested), "save_order")
		}
	}
}

func (a *App) sellerOf(f book.Fill) crypto.Identity {
	if f.TakerSide == book.Ask {
		return f.TakerOwner
	}
	return f.MakerOwner
}

// CancelOrder removes a resting order and refunds its outstanding escrow.
// The returned amount is base units for asks and the freed quote notional
// for bids (whose fiat leg lives off-chain).
func (a *App) CancelOrder(id book.OrderID, requester crypto.Identity) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return 0, err
	}
	removed, err := a.ob.Cancel(id, requester)
	if err != nil {
		return 0, err
	}

	var refunded uint64
	if removed.Side == book.Ask {
		refunded = removed.Remaining
		_ = a.vault.Refund(removed.Owner, removed.Remaining)
	} else {
		refunded = book.QuoteNotional(removed.Price, removed.Remaining)
	}

	if a.store != nil {
		a.warnOn(a.store.DeleteOrder(id), "delete_order")
	}
	a.persistLedger()
	a.updateGauges()
	a.met.OrdersCancelled.Inc()
	a.log.Infow("order_cancelled",
		"id", id, "owner", requester, "side", removed.Side.String(),
		"remaining", removed.Remaining, "refunded", refunded)
	return refunded, nil
}

// ============================================================================
// Settlement
// ============================================================================

// MarkPaymentMade is the buyer's declaration that fiat was sent; it starts
// the verification delay.
func (a *App) MarkPaymentMade(id book.OrderID, buyer crypto.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return err
	}
	if err := a.fsm.MarkPayment(id, buyer); err != nil {
		return err
	}
	rec, _ := a.fsm.Get(id)
	a.persistSettlement(rec)
	a.met.PaymentsMarked.Inc()
	a.emitSettlement(rec)
	a.log.Infow("payment_marked",
		"order", id, "buyer", buyer, "deadline_ts", rec.DeadlineTs)
	return nil
}

// VerifySettlement consumes the payment proof and, once it passes, releases
// the matched base tokens from the vault to the buyer.
func (a *App) VerifySettlement(id book.OrderID, proof []byte) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return 0, err
	}
	// Keep a copy so a vault failure can restore the record untouched.
	before, _ := a.fsm.Get(id)
	qty, buyer, err := a.fsm.Verify(id, proof)
	if err != nil {
		return 0, err
	}
	if err := a.vault.Release(buyer, qty); err != nil {
		a.fsm.Load(before)
		return 0, err
	}

	if a.store != nil {
		a.warnOn(a.store.DeleteSettlement(id), "delete_settlement")
	}
	a.persistLedger()
	a.updateGauges()
	a.met.Settlements.Inc()
	a.emitSettlement(settlement.Record{
		OrderID: id, Buyer: buyer, Qty: qty, Status: settlement.Verified,
	})
	a.log.Infow("settlement_verified", "order", id, "buyer", buyer, "released", qty)
	return qty, nil
}

func (a *App) emitSettlement(rec settlement.Record) {
	if a.OnSettlement == nil {
		return
	}
	a.OnSettlement(SettlementEvent{
		OrderID:   rec.OrderID,
		Buyer:     rec.Buyer,
		Qty:       rec.Qty,
		Status:    rec.Status.String(),
		Timestamp: a.clock.Now().Unix(),
	})
}

// ============================================================================
// Faucet (devnet)
// ============================================================================

// Faucet issues test base tokens. Authority only.
func (a *App) Faucet(requester, to crypto.Identity, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ready(); err != nil {
		return err
	}
	if requester != a.mkt.Authority {
		return book.ErrUnauthorized
	}
	if err := a.ledger.Issue(to, amount); err != nil {
		return err
	}
	a.persistLedger()
	a.log.Infow("faucet_issue", "to", to, "amount", amount)
	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (a *App) Market() (market.Market, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mkt == nil {
		return market.Market{}, false
	}
	return *a.mkt, true
}

func (a *App) Depth(s book.Side) []book.Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ob == nil {
		return nil
	}
	return a.ob.Depth(s)
}

func (a *App) BestBid() (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ob == nil {
		return 0, false
	}
	return a.ob.BestBid()
}

func (a *App) BestAsk() (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ob == nil {
		return 0, false
	}
	return a.ob.BestAsk()
}

func (a *App) Order(id book.OrderID) (book.Order, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ob == nil {
		return book.Order{}, false
	}
	return a.ob.FindOrder(id)
}

func (a *App) Settlement(id book.OrderID) (settlement.Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fsm == nil {
		return settlement.Record{}, false
	}
	return a.fsm.Get(id)
}

func (a *App) BalanceOf(id crypto.Identity) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ledger == nil {
		return 0
	}
	return a.ledger.BalanceOf(id)
}

func (a *App) VaultBalance() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.vault == nil {
		return 0
	}
	return a.vault.Balance()
}

func (a *App) TotalOrders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ob == nil {
		return 0
	}
	return a.ob.TotalOrders()
}

func (a *App) RecentTrades(n int) ([]storage.Trade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil, nil
	}
	return a.store.LoadRecentTrades(n)
}

// ============================================================================
// Rehydration
// ============================================================================

// Rehydrate rebuilds in-memory state from storage after a restart: market
// record, ledger snapshot, settlement records, and the resting orders in
// timestamp order (preserving FIFO within each level).
func (a *App) Rehydrate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	mkt, ok, err := a.store.LoadMarket()
	if err != nil {
		return err
	}
	if !ok {
		return nil // fresh node
	}
	a.mkt = mkt
	a.ob = book.NewOrderBook()
	a.ledger = escrow.NewLedger(mkt.TokenMint)
	a.vault = escrow.NewVault(a.ledger)
	a.fsm = settlement.NewFSM(a.delay, a.clock, a.verifier)

	entries, ok, err := a.store.LoadLedger()
	if err != nil {
		return err
	}
	if ok {
		for _, e := range entries {
			a.ledger.SetBalance(e.Account, e.Amount)
		}
	}

	recs, err := a.store.LoadSettlements()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		a.fsm.Load(rec)
	}

	orders, err := a.store.LoadOpenOrders()
	if err != nil {
		return err
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Timestamp != orders[j].Timestamp {
			return orders[i].Timestamp < orders[j].Timestamp
		}
		return orders[i].ID.Seq < orders[j].ID.Seq
	})
	for _, o := range orders {
		if err := a.ob.Restore(o); err != nil {
			a.log.Warnw("restore_order_failed", "id", o.ID, "err", err)
		}
	}

	a.updateGauges()
	a.log.Infow("state_rehydrated",
		"orders", len(orders), "settlements", len(recs),
		"sequence", a.mkt.NextOrderSequence)
	return nil
}

// ============================================================================
// Internal helpers
// ============================================================================

func (a *App) persistMarket() {
	if a.store == nil || a.mkt == nil {
		return
	}
	a.warnOn(a.store.SaveMarket(a.mkt), "save_market")
}

func (a *App) persistLedger() {
	if a.store == nil || a.ledger == nil {
		return
	}
	balances := a.ledger.Balances()
	entries := make([]storage.BalanceEntry, 0, len(balances))
	for id, amount := range balances {
		entries = append(entries, storage.BalanceEntry{Account: id, Amount: amount})
	}
	a.warnOn(a.store.SaveLedger(entries), "save_ledger")
}

func (a *App) persistSettlement(rec settlement.Record) {
	if a.store == nil {
		return
	}
	a.warnOn(a.store.SaveSettlement(rec), "save_settlement")
}

func (a *App) warnOn(err error, op string) {
	if err != nil {
		a.log.Warnw("persist_failed", "op", op, "err", err)
	}
}

func (a *App) updateGauges() {
	if a.vault != nil {
		a.met.VaultBalance.Set(float64(a.vault.Balance()))
	}
	if a.ob != nil {
		a.met.RestingOrders.Set(float64(a.ob.TotalOrders()))
	}
	if a.fsm != nil {
		a.met.PendingQty.Set(float64(a.fsm.PendingQty()))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, book.ErrInvalidAmount), errors.Is(err, book.ErrInvalidPrice):
		return "validation"
	case errors.Is(err, book.ErrOrderBookFull), errors.Is(err, book.ErrTreeFull):
		return "capacity"
	case errors.Is(err, book.ErrPostOnlyWouldMatch):
		return "post_only"
	case errors.Is(err, book.ErrFillOrKillNotFilled):
		return "fok"
	default:
		return "other"
	}
}
