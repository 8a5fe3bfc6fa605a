package api

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/app/core/settlement"
	"github.com/azank1/zk2p/pkg/crypto"
	"github.com/azank1/zk2p/pkg/storage"
)

// ==============================
// Requests
// ==============================

type InitMarketRequest struct {
	Authority string `json:"authority"`
	TokenMint string `json:"tokenMint"`
}

type InitRequest struct {
	TokenMint string `json:"tokenMint"`
}

type PlaceOrderRequest struct {
	Owner         string `json:"owner"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         uint64 `json:"price"`
	Quantity      uint64 `json:"quantity"`
	ClientOrderID uint64 `json:"clientOrderId"`
	PaymentMethod string `json:"paymentMethod"`
	Signature     string `json:"signature"`
}

type CancelOrderRequest struct {
	OrderID   string `json:"orderId"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
}

type MarkPaymentRequest struct {
	OrderID   string `json:"orderId"`
	Buyer     string `json:"buyer"`
	Signature string `json:"signature"`
}

type VerifySettlementRequest struct {
	OrderID string `json:"orderId"`
	Proof   string `json:"proof"` // hex-encoded attestation
}

type FaucetRequest struct {
	Authority string `json:"authority"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
}

// ==============================
// Submission digests
// ==============================

// PlaceDigest is the keccak256 message a wallet signs to authorize a
// placement. ClientOrderID is part of the signed message, but the server
// keeps no record of used values: resubmitting the same signed body places
// the order again.
func PlaceDigest(owner crypto.Identity, side, orderType string, price, qty, clientOrderID uint64, paymentMethod string) []byte {
	msg := fmt.Sprintf("ZK2P_PLACE:%s:%s:%s:%d:%d:%d:%s",
		owner.Hex(), side, orderType, price, qty, clientOrderID, paymentMethod)
	return crypto.Keccak256([]byte(msg))
}

func CancelDigest(owner crypto.Identity, orderID string) []byte {
	msg := fmt.Sprintf("ZK2P_CANCEL:%s:%s", owner.Hex(), orderID)
	return crypto.Keccak256([]byte(msg))
}

func MarkPaymentDigest(buyer crypto.Identity, orderID string) []byte {
	msg := fmt.Sprintf("ZK2P_MARK:%s:%s", buyer.Hex(), orderID)
	return crypto.Keccak256([]byte(msg))
}

// ==============================
// Responses
// ==============================

type PlaceOrderResponse struct {
	OrderID     string      `json:"orderId"`
	FilledQty   uint64      `json:"filledQty"`
	Rested      bool        `json:"rested"`
	RestedQty   uint64      `json:"restedQty"`
	Discarded   uint64      `json:"discardedQty"`
	Fills       []TradeInfo `json:"fills"`
	SelfCancels int         `json:"selfCancels"`
}

type CancelOrderResponse struct {
	OrderID  string `json:"orderId"`
	Refunded uint64 `json:"refunded"`
}

type VerifyResponse struct {
	OrderID  string `json:"orderId"`
	Released uint64 `json:"released"`
}

type MarketInfo struct {
	Address   string `json:"address"`
	Authority string `json:"authority"`
	TokenMint string `json:"tokenMint"`
	Sequence  uint64 `json:"nextOrderSequence"`
	Status    string `json:"status"`
}

type LevelInfo struct {
	Price      uint64 `json:"price"`
	Qty        uint64 `json:"qty"`
	QtyDecimal string `json:"qtyDecimal"`
	Orders     int    `json:"orders"`
}

type OrderBookInfo struct {
	Bids    []LevelInfo `json:"bids"`
	Asks    []LevelInfo `json:"asks"`
	BestBid uint64      `json:"bestBid,omitempty"`
	BestAsk uint64      `json:"bestAsk,omitempty"`
	Orders  int         `json:"totalOrders"`
}

type OrderInfo struct {
	ID            string `json:"id"`
	Owner         string `json:"owner"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         uint64 `json:"price"`
	Quantity      uint64 `json:"quantity"`
	Remaining     uint64 `json:"remaining"`
	Timestamp     int64  `json:"ts"`
	PaymentMethod string `json:"paymentMethod"`
}

type TradeInfo struct {
	ID         string `json:"id,omitempty"`
	MakerID    string `json:"makerId"`
	TakerID    string `json:"takerId"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	TakerSide  string `json:"takerSide"`
	Price      uint64 `json:"price"`
	Qty        uint64 `json:"qty"`
	QtyDecimal string `json:"qtyDecimal"`
	Timestamp  int64  `json:"ts"`
}

type SettlementInfo struct {
	OrderID       string `json:"orderId"`
	Buyer         string `json:"buyer"`
	Qty           uint64 `json:"qty"`
	PaymentMethod string `json:"paymentMethod"`
	Status        string `json:"status"`
	MarkedTs      int64  `json:"markedTs,omitempty"`
	DeadlineTs    int64  `json:"deadlineTs,omitempty"`
}

type BalanceInfo struct {
	Account       string `json:"account"`
	Amount        uint64 `json:"amount"`
	AmountDecimal string `json:"amountDecimal"`
}

// ==============================
// Conversions
// ==============================

// baseDecimal renders integer base units at the configured token decimals.
func baseDecimal(units uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals).String()
}

func levelInfos(levels []book.Level, decimals int32) []LevelInfo {
	out := make([]LevelInfo, len(levels))
	for i, lvl := range levels {
		out[i] = LevelInfo{
			Price:      lvl.Price,
			Qty:        lvl.Qty,
			QtyDecimal: baseDecimal(lvl.Qty, decimals),
			Orders:     lvl.Orders,
		}
	}
	return out
}

func orderInfo(o book.Order) OrderInfo {
	return OrderInfo{
		ID:            o.ID.String(),
		Owner:         o.Owner.Hex(),
		Side:          o.Side.String(),
		Type:          o.Type.String(),
		Price:         o.Price,
		Quantity:      o.Quantity,
		Remaining:     o.Remaining,
		Timestamp:     o.Timestamp,
		PaymentMethod: o.PaymentMethod,
	}
}

func tradeInfo(t storage.Trade, decimals int32) TradeInfo {
	return TradeInfo{
		ID:         t.ID,
		MakerID:    t.MakerID.String(),
		TakerID:    t.TakerID.String(),
		Buyer:      t.Buyer.Hex(),
		Seller:     t.Seller.Hex(),
		TakerSide:  t.TakerSide,
		Price:      t.Price,
		Qty:        t.Qty,
		QtyDecimal: baseDecimal(t.Qty, decimals),
		Timestamp:  t.Timestamp,
	}
}

func settlementInfo(rec settlement.Record) SettlementInfo {
	return SettlementInfo{
		OrderID:       rec.OrderID.String(),
		Buyer:         rec.Buyer.Hex(),
		Qty:           rec.Qty,
		PaymentMethod: rec.PaymentMethod,
		Status:        rec.Status.String(),
		MarkedTs:      rec.MarkedTs,
		DeadlineTs:    rec.DeadlineTs,
	}
}
