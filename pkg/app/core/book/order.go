package book

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/azank1/zk2p/pkg/crypto"
)

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

type OrderType uint8

const (
	Limit OrderType = iota
	Market
	PostOnly
	IOC
	FOK
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	case PostOnly:
		return "post_only"
	case IOC:
		return "ioc"
	case FOK:
		return "fok"
	default:
		return "unknown"
	}
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(s) {
	case "limit", "gtc":
		return Limit, nil
	case "market":
		return Market, nil
	case "post_only", "postonly", "gtx":
		return PostOnly, nil
	case "ioc":
		return IOC, nil
	case "fok":
		return FOK, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

// rests reports whether leftover quantity may stay on the book.
func (t OrderType) rests() bool { return t == Limit || t == PostOnly }

// matches reports whether admission runs a match pass.
func (t OrderType) matches() bool { return t != PostOnly }

// OrderID is the 128-bit order identifier: the market's monotonic sequence
// in the high half, the low 64 bits of the owner's identity hash in the low
// half. The sequence half alone makes it unique for a market's lifetime.
type OrderID struct {
	Seq uint64
	Tag uint64
}

func MakeOrderID(seq uint64, owner crypto.Identity) OrderID {
	return OrderID{Seq: seq, Tag: owner.OwnerTag()}
}

func (id OrderID) String() string {
	return fmt.Sprintf("0x%016x%016x", id.Seq, id.Tag)
}

func (id OrderID) IsZero() bool { return id == OrderID{} }

func (id OrderID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OrderID) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseOrderID parses the hex form produced by String.
func ParseOrderID(s string) (OrderID, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) != 32 {
		return OrderID{}, fmt.Errorf("order id must be 32 hex chars, got %d", len(s))
	}
	seq, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("invalid order id: %w", err)
	}
	tag, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return OrderID{}, fmt.Errorf("invalid order id: %w", err)
	}
	return OrderID{Seq: seq, Tag: tag}, nil
}

// MaxPaymentMethodLen bounds the free-form payment method string carried on
// every order.
const MaxPaymentMethodLen = 100

// Order is a fixed-size book record. Quantity is immutable after admission;
// matching only ever decrements Remaining.
type Order struct {
	ID            OrderID
	ClientOrderID uint64
	Owner         crypto.Identity
	Side          Side
	Type          OrderType
	Price         uint64 // quote units per base unit; ignored for Market
	Quantity      uint64 // original size, base units
	Remaining     uint64 // outstanding size, Remaining <= Quantity
	Timestamp     int64
	PaymentMethod string

	// next threads the FIFO queue at this order's price level through the
	// arena. Doubles as the free-list link for unused slots.
	next uint32
}

// Fill records one maker/taker match. BuyerPaymentMethod is captured here
// because the buy order may be fully consumed (and its slot freed) by the
// time settlement needs it.
type Fill struct {
	MakerID            OrderID
	TakerID            OrderID
	MakerOwner         crypto.Identity
	TakerOwner         crypto.Identity
	TakerSide          Side
	Price              uint64
	Qty                uint64
	Timestamp          int64
	BuyerPaymentMethod string
}

// Buyer returns the bid-side owner of the fill: the party that owes the
// off-chain fiat payment and later claims the escrowed base tokens.
func (f Fill) Buyer() crypto.Identity {
	if f.TakerSide == Bid {
		return f.TakerOwner
	}
	return f.MakerOwner
}

// BuyOrderID returns the bid-side order id of the fill.
func (f Fill) BuyOrderID() OrderID {
	if f.TakerSide == Bid {
		return f.TakerID
	}
	return f.MakerID
}

// SelfTradeCancel records a resting order removed by the cancel-oldest
// self-trade policy during a match pass.
type SelfTradeCancel struct {
	OrderID   OrderID
	Owner     crypto.Identity
	Side      Side
	Price     uint64
	Remaining uint64
}

// Level is one aggregated price level of a depth snapshot.
type Level struct {
	Price  uint64
	Qty    uint64
	Orders int
}

// QuoteNotional is price*qty in quote units, saturating at the 64-bit
// ceiling. Wraparound is never permitted; saturated values only ever feed
// informational fields, not token movements.
func QuoteNotional(price, qty uint64) uint64 {
	hi, lo := bits.Mul64(price, qty)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
