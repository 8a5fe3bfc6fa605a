// Package settlement tracks the per-buy-order payment state machine that
// gates escrow release: Pending -> PaymentMarked -> Verified. The fiat leg
// happens off-chain; the chain only sees the mark and, after the
// verification delay, the proof.
package settlement

import (
	"errors"
	"time"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/crypto"
	"github.com/azank1/zk2p/pkg/util"
)

type Status uint8

const (
	Pending Status = iota
	PaymentMarked
	Verified
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case PaymentMarked:
		return "payment_marked"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

var (
	ErrUnknown           = errors.New("no settlement record for order")
	ErrNotBuyer          = errors.New("caller is not the buyer")
	ErrIllegalTransition = errors.New("illegal settlement state transition")
	ErrDelayNotExpired   = errors.New("settlement delay has not expired")
	ErrInvalidProof      = errors.New("payment proof rejected")
)

// Record is the payment state of one buy order. Matched base quantity
// accumulates while the record is live; Verify releases the accumulated
// amount and frees the record.
type Record struct {
	OrderID       book.OrderID
	Buyer         crypto.Identity
	Qty           uint64 // matched base units awaiting release
	LastPrice     uint64
	PaymentMethod string
	Status        Status
	CreatedTs     int64
	MarkedTs      int64
	DeadlineTs    int64
}

// FSM owns every live settlement record of a market.
type FSM struct {
	delay    time.Duration
	clock    util.Clock
	verifier Verifier
	records  map[book.OrderID]*Record
}

func NewFSM(delay time.Duration, clock util.Clock, verifier Verifier) *FSM {
	return &FSM{
		delay:    delay,
		clock:    clock,
		verifier: verifier,
		records:  make(map[book.OrderID]*Record),
	}
}

// Accumulate folds a fill into the buy order's settlement record, creating
// it on first match. paymentMethod travels with the buy order.
func (f *FSM) Accumulate(fill book.Fill, paymentMethod string) {
	id := fill.BuyOrderID()
	rec, ok := f.records[id]
	if !ok {
		rec = &Record{
			OrderID:       id,
			Buyer:         fill.Buyer(),
			PaymentMethod: paymentMethod,
			Status:        Pending,
			CreatedTs:     f.clock.Now().Unix(),
		}
		f.records[id] = rec
	}
	rec.Qty += fill.Qty
	rec.LastPrice = fill.Price
}

// MarkPayment is the buyer's declaration that the fiat leg was sent.
// Starts the verification delay.
func (f *FSM) MarkPayment(id book.OrderID, caller crypto.Identity) error {
	rec, ok := f.records[id]
	if !ok {
		return ErrUnknown
	}
	if rec.Buyer != caller {
		return ErrNotBuyer
	}
	if rec.Status != Pending {
		return ErrIllegalTransition
	}
	now := f.clock.Now()
	rec.Status = PaymentMarked
	rec.MarkedTs = now.Unix()
	rec.DeadlineTs = now.Add(f.delay).Unix()
	return nil
}

// Verify consumes a payment proof. On success the record is terminal and
// removed; the caller releases the returned quantity from escrow to the
// buyer. Every failure leaves the record unchanged.
func (f *FSM) Verify(id book.OrderID, proof []byte) (uint64, crypto.Identity, error) {
	rec, ok := f.records[id]
	if !ok {
		return 0, crypto.Identity{}, ErrUnknown
	}
	if rec.Status != PaymentMarked {
		return 0, crypto.Identity{}, ErrIllegalTransition
	}
	if f.clock.Now().Unix() < rec.DeadlineTs {
		return 0, crypto.Identity{}, ErrDelayNotExpired
	}
	if !f.verifier.Verify(proof, id, rec.Qty) {
		return 0, crypto.Identity{}, ErrInvalidProof
	}
	qty, buyer := rec.Qty, rec.Buyer
	delete(f.records, id)
	return qty, buyer, nil
}

// Get returns a copy of a live record.
func (f *FSM) Get(id book.OrderID) (Record, bool) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// PendingQty is the total matched quantity not yet released. The vault
// invariant is: vault balance == resting ask base + PendingQty.
func (f *FSM) PendingQty() uint64 {
	var total uint64
	for _, rec := range f.records {
		total += rec.Qty
	}
	return total
}

// Records snapshots every live record.
func (f *FSM) Records() []Record {
	out := make([]Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out
}

// Load rehydrates a persisted record on startup.
func (f *FSM) Load(rec Record) {
	cp := rec
	f.records[rec.OrderID] = &cp
}
