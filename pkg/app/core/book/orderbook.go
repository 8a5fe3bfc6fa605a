package book

import (
	"github.com/azank1/zk2p/pkg/app/core/critbit"
	"github.com/azank1/zk2p/pkg/crypto"
)

// OrderBook holds two sides, each a crit-bit price index over a fixed pool
// of per-level FIFO queues, sharing one order arena. It is not
// self-synchronizing: the exchange runs every operation under a single
// transaction lock, so each call executes atomically to completion.
type OrderBook struct {
	bids sideBook
	asks sideBook

	arena *OrderArena

	// order id -> (side, price, arena index) for O(1) cancels and lookups.
	locations map[OrderID]location

	bestBid    uint64
	bestAsk    uint64
	hasBestBid bool
	hasBestAsk bool

	totalOrders int
}

type sideBook struct {
	side   Side
	tree   *critbit.Tree
	queues *QueueArena
}

type location struct {
	side  Side
	price uint64
	idx   uint32
}

// PlaceResult reports everything a placement did: fills, self-trade
// cancellations, and what happened to the leftover quantity.
type PlaceResult struct {
	OrderID      OrderID
	Fills        []Fill
	SelfCancels  []SelfTradeCancel
	FilledQty    uint64
	Rested       bool
	RestedQty    uint64
	DiscardedQty uint64 // Market/IOC leftover, never inserted
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: sideBook{
			side:   Bid,
			tree:   critbit.New(2 * MaxPriceLevels),
			queues: NewQueueArena(MaxPriceLevels),
		},
		asks: sideBook{
			side:   Ask,
			tree:   critbit.New(2 * MaxPriceLevels),
			queues: NewQueueArena(MaxPriceLevels),
		},
		arena:     NewOrderArena(OrderArenaCapacity),
		locations: make(map[OrderID]location),
	}
}

func (b *OrderBook) sideBookFor(s Side) *sideBook {
	if s == Bid {
		return &b.bids
	}
	return &b.asks
}

// Place admits an order. Validation and capacity checks run before any
// mutation, so an error always leaves the book untouched. The order's
// Remaining is set from Quantity on entry and decremented by matching.
func (b *OrderBook) Place(o *Order) (*PlaceResult, error) {
	if o.Quantity == 0 {
		return nil, ErrInvalidAmount
	}
	if o.Price == 0 && o.Type != Market {
		return nil, ErrInvalidPrice
	}
	o.Remaining = o.Quantity

	if !b.arena.HasFree() {
		return nil, ErrOrderBookFull
	}
	if o.Type.rests() {
		// The match pass only touches the opposite side, so a resting
		// slot checked here is still there after matching.
		own := b.sideBookFor(o.Side)
		if qh, ok := own.tree.Find(o.Price); ok {
			if own.queues.Get(qh).Len() >= MaxOrdersPerLevel {
				return nil, ErrOrderBookFull
			}
		} else if !own.tree.CanInsert(o.Price) || !own.queues.HasFree() {
			return nil, ErrTreeFull
		}
	}

	switch o.Type {
	case PostOnly:
		if b.wouldMatch(o) {
			return nil, ErrPostOnlyWouldMatch
		}
	case FOK:
		if b.availableQty(o) < o.Quantity {
			return nil, ErrFillOrKillNotFilled
		}
	}

	res := &PlaceResult{OrderID: o.ID}
	if o.Type.matches() {
		b.matchPass(o, res)
	}
	res.FilledQty = o.Quantity - o.Remaining

	if o.Remaining > 0 {
		if o.Type.rests() {
			b.rest(o)
			res.Rested = true
			res.RestedQty = o.Remaining
		} else {
			res.DiscardedQty = o.Remaining
		}
	}

	b.updateBest()
	return res, nil
}

// bestOpposite returns the best eligible opposite level for taker o.
func (b *OrderBook) bestOpposite(o *Order) (price uint64, qh uint32, ok bool) {
	opp := b.sideBookFor(o.Side.Opposite())
	if o.Side == Bid {
		price, qh, ok = opp.tree.Min()
		if ok && o.Type != Market && price > o.Price {
			ok = false
		}
	} else {
		price, qh, ok = opp.tree.Max()
		if ok && o.Type != Market && price < o.Price {
			ok = false
		}
	}
	return price, qh, ok
}

// matchPass runs the admission-phase match loop: walk eligible opposite
// levels best-first, fill FIFO heads, cancel own resting orders instead of
// self-matching.
func (b *OrderBook) matchPass(o *Order, res *PlaceResult) {
	opp := b.sideBookFor(o.Side.Opposite())
	for o.Remaining > 0 {
		price, qh, ok := b.bestOpposite(o)
		if !ok {
			break
		}
		q := opp.queues.Get(qh)
		headIdx, _ := q.PeekFront()
		maker := b.arena.Get(headIdx)

		if maker.Owner == o.Owner {
			// Cancel-oldest self-trade prevention: drop the resting
			// order without filling and keep walking.
			res.SelfCancels = append(res.SelfCancels, SelfTradeCancel{
				OrderID:   maker.ID,
				Owner:     maker.Owner,
				Side:      maker.Side,
				Price:     maker.Price,
				Remaining: maker.Remaining,
			})
			b.unlink(opp, q, qh, headIdx, maker.ID, price)
			continue
		}

		fill := min(o.Remaining, maker.Remaining)
		o.Remaining -= fill
		maker.Remaining -= fill
		buyerMethod := o.PaymentMethod
		if o.Side == Ask {
			buyerMethod = maker.PaymentMethod
		}
		res.Fills = append(res.Fills, Fill{
			MakerID:            maker.ID,
			TakerID:            o.ID,
			MakerOwner:         maker.Owner,
			TakerOwner:         o.Owner,
			TakerSide:          o.Side,
			Price:              price,
			Qty:                fill,
			Timestamp:          o.Timestamp,
			BuyerPaymentMethod: buyerMethod,
		})
		if maker.Remaining == 0 {
			b.unlink(opp, q, qh, headIdx, maker.ID, price)
		}
	}
}

// unlink pops the queue head, frees its arena slot, and removes the price
// level when the queue empties.
func (b *OrderBook) unlink(sb *sideBook, q *Queue, qh, idx uint32, id OrderID, price uint64) {
	q.PopFront(b.arena)
	delete(b.locations, id)
	b.arena.Free(idx)
	b.totalOrders--
	if q.IsEmpty() {
		sb.tree.Remove(price)
		sb.queues.Free(qh)
	}
}

// wouldMatch reports whether a post-only order would take liquidity. Levels
// holding only the placer's own orders do not count: a real match pass
// would cancel those without producing a fill.
func (b *OrderBook) wouldMatch(o *Order) bool {
	would := false
	b.walkEligible(o, func(q *Queue) bool {
		for cur, _ := q.PeekFront(); cur != empty; cur = b.arena.Get(cur).next {
			if b.arena.Get(cur).Owner != o.Owner {
				would = true
				return false
			}
		}
		return true
	})
	return would
}

// availableQty is the FOK dry-run: total opposite quantity reachable at the
// taker's limit, skipping the taker's own resting orders.
func (b *OrderBook) availableQty(o *Order) uint64 {
	var avail uint64
	b.walkEligible(o, func(q *Queue) bool {
		for cur, _ := q.PeekFront(); cur != empty; cur = b.arena.Get(cur).next {
			ord := b.arena.Get(cur)
			if ord.Owner != o.Owner {
				avail += ord.Remaining
				if avail >= o.Quantity {
					return false
				}
			}
		}
		return true
	})
	return avail
}

// walkEligible visits opposite-side level queues best-first while the level
// price crosses the taker. fn returns false to stop early.
func (b *OrderBook) walkEligible(o *Order, fn func(q *Queue) bool) {
	if o.Side == Bid {
		b.asks.tree.Ascend(func(price uint64, qh uint32) bool {
			if o.Type != Market && price > o.Price {
				return false
			}
			return fn(b.asks.queues.Get(qh))
		})
	} else {
		b.bids.tree.Descend(func(price uint64, qh uint32) bool {
			if o.Type != Market && price < o.Price {
				return false
			}
			return fn(b.bids.queues.Get(qh))
		})
	}
}

// rest inserts the leftover as a maker order at its limit price. Capacity
// was pre-flighted in Place, so the inserts cannot fail.
func (b *OrderBook) rest(o *Order) {
	own := b.sideBookFor(o.Side)
	qh, ok := own.tree.Find(o.Price)
	if !ok {
		qh, _ = own.queues.Alloc(o.Price)
		_ = own.tree.Insert(o.Price, qh)
	}
	idx, _ := b.arena.Alloc()
	slot := b.arena.Get(idx)
	*slot = *o
	own.queues.Get(qh).PushBack(b.arena, idx)
	b.locations[o.ID] = location{side: o.Side, price: o.Price, idx: idx}
	b.totalOrders++
}

// Restore re-admits a persisted resting order without running a match
// pass, preserving its Remaining. Used when rebuilding the book from
// storage; callers feed orders in timestamp order to keep FIFO intact.
func (b *OrderBook) Restore(o Order) error {
	if o.Remaining == 0 || o.Remaining > o.Quantity {
		return ErrInvalidAmount
	}
	if o.Price == 0 {
		return ErrInvalidPrice
	}
	if !b.arena.HasFree() {
		return ErrOrderBookFull
	}
	own := b.sideBookFor(o.Side)
	if qh, ok := own.tree.Find(o.Price); ok {
		if own.queues.Get(qh).Len() >= MaxOrdersPerLevel {
			return ErrOrderBookFull
		}
	} else if !own.tree.CanInsert(o.Price) || !own.queues.HasFree() {
		return ErrTreeFull
	}
	b.rest(&o)
	b.updateBest()
	return nil
}

// Cancel removes a resting order owned by requester and returns a copy of
// it at removal time (Remaining tells the caller what to refund).
func (b *OrderBook) Cancel(id OrderID, requester crypto.Identity) (Order, error) {
	loc, ok := b.locations[id]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	o := b.arena.Get(loc.idx)
	if o.Owner != requester {
		return Order{}, ErrUnauthorized
	}
	removed := *o

	sb := b.sideBookFor(loc.side)
	qh, _ := sb.tree.Find(loc.price)
	q := sb.queues.Get(qh)
	q.Remove(b.arena, loc.idx)
	delete(b.locations, id)
	b.arena.Free(loc.idx)
	b.totalOrders--
	if q.IsEmpty() {
		sb.tree.Remove(loc.price)
		sb.queues.Free(qh)
	}
	b.updateBest()
	return removed, nil
}

// FindOrder returns a copy of a resting order.
func (b *OrderBook) FindOrder(id OrderID) (Order, bool) {
	loc, ok := b.locations[id]
	if !ok {
		return Order{}, false
	}
	return *b.arena.Get(loc.idx), true
}

func (b *OrderBook) updateBest() {
	b.bestBid, _, b.hasBestBid = b.bids.tree.Max()
	b.bestAsk, _, b.hasBestAsk = b.asks.tree.Min()
}

func (b *OrderBook) BestBid() (uint64, bool) { return b.bestBid, b.hasBestBid }
func (b *OrderBook) BestAsk() (uint64, bool) { return b.bestAsk, b.hasBestAsk }

func (b *OrderBook) TotalOrders() int { return b.totalOrders }

// RestingBase returns the total Remaining over live orders on a side. The
// ask-side total backs the escrow vault invariant.
func (b *OrderBook) RestingBase(s Side) uint64 {
	var total uint64
	sb := b.sideBookFor(s)
	sb.tree.Ascend(func(_ uint64, qh uint32) bool {
		q := sb.queues.Get(qh)
		for cur, _ := q.PeekFront(); cur != empty; cur = b.arena.Get(cur).next {
			total += b.arena.Get(cur).Remaining
		}
		return true
	})
	return total
}

// Depth returns aggregated levels best-first: descending prices for bids,
// ascending for asks.
func (b *OrderBook) Depth(s Side) []Level {
	var levels []Level
	sb := b.sideBookFor(s)
	visit := func(price uint64, qh uint32) bool {
		q := sb.queues.Get(qh)
		lvl := Level{Price: price, Orders: q.Len()}
		for cur, _ := q.PeekFront(); cur != empty; cur = b.arena.Get(cur).next {
			lvl.Qty += b.arena.Get(cur).Remaining
		}
		levels = append(levels, lvl)
		return true
	}
	if s == Bid {
		sb.tree.Descend(visit)
	} else {
		sb.tree.Ascend(visit)
	}
	return levels
}

// OrdersAt lists the resting orders at a price level in queue order.
func (b *OrderBook) OrdersAt(s Side, price uint64) []Order {
	sb := b.sideBookFor(s)
	qh, ok := sb.tree.Find(price)
	if !ok {
		return nil
	}
	q := sb.queues.Get(qh)
	out := make([]Order, 0, q.Len())
	for cur, _ := q.PeekFront(); cur != empty; cur = b.arena.Get(cur).next {
		out = append(out, *b.arena.Get(cur))
	}
	return out
}
