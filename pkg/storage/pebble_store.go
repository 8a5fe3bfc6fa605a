// Package storage persists the exchange's durable records in Pebble:
// the market record, resting orders, settlement records, executed trades,
// and the token ledger snapshot.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/app/core/market"
	"github.com/azank1/zk2p/pkg/app/core/settlement"
	"github.com/azank1/zk2p/pkg/crypto"
)

// Trade is the persisted record of one executed fill.
type Trade struct {
	ID        string          `json:"id"`
	MakerID   book.OrderID    `json:"makerId"`
	TakerID   book.OrderID    `json:"takerId"`
	Buyer     crypto.Identity `json:"buyer"`
	Seller    crypto.Identity `json:"seller"`
	TakerSide string          `json:"takerSide"`
	Price     uint64          `json:"price"`
	Qty       uint64          `json:"qty"`
	Timestamp int64           `json:"ts"`
}

// BalanceEntry is one row of the ledger snapshot.
type BalanceEntry struct {
	Account crypto.Identity `json:"account"`
	Amount  uint64          `json:"amount"`
}

type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) set(key []byte, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	if err := decodeJSON(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// ============================================================================
// Market
// ============================================================================

func (s *Store) SaveMarket(m *market.Market) error {
	return s.set(kMarket(), m)
}

func (s *Store) LoadMarket() (*market.Market, bool, error) {
	var m market.Market
	ok, err := s.get(kMarket(), &m)
	if !ok || err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

// ============================================================================
// Orders
// ============================================================================

func (s *Store) SaveOrder(o book.Order) error {
	return s.set(kOrder(o.ID), o)
}

func (s *Store) DeleteOrder(id book.OrderID) error {
	if err := s.db.Delete(kOrder(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// LoadOpenOrders returns every persisted resting order. Callers re-admit
// them into a fresh book in timestamp order.
func (s *Store) LoadOpenOrders() ([]book.Order, error) {
	p := prefix("o:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []book.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := decodeJSON(iter.Value(), &o); err != nil {
			continue // skip corrupt rows
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// ============================================================================
// Settlement records
// ============================================================================

func (s *Store) SaveSettlement(rec settlement.Record) error {
	return s.set(kSettlement(rec.OrderID), rec)
}

func (s *Store) DeleteSettlement(id book.OrderID) error {
	if err := s.db.Delete(kSettlement(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete settlement %s: %w", id, err)
	}
	return nil
}

func (s *Store) LoadSettlements() ([]settlement.Record, error) {
	p := prefix("s:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var recs []settlement.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec settlement.Record
		if err := decodeJSON(iter.Value(), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ============================================================================
// Trades
// ============================================================================

func (s *Store) SaveTrade(t Trade) error {
	return s.set(kTrade(t.Timestamp, t.ID), t)
}

// LoadRecentTrades returns up to n trades, newest first.
func (s *Store) LoadRecentTrades(n int) ([]Trade, error) {
	p := prefix("t:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []Trade
	for valid := iter.Last(); valid && len(trades) < n; valid = iter.Prev() {
		var t Trade
		if err := decodeJSON(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// ============================================================================
// Ledger snapshot
// ============================================================================

func (s *Store) SaveLedger(entries []BalanceEntry) error {
	return s.set(kLedger(), entries)
}

func (s *Store) LoadLedger() ([]BalanceEntry, bool, error) {
	var entries []BalanceEntry
	ok, err := s.get(kLedger(), &entries)
	if !ok || err != nil {
		return nil, false, err
	}
	return entries, true, nil
}
