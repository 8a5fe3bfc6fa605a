package storage

import (
	"encoding/binary"

	"github.com/azank1/zk2p/pkg/app/core/book"
)

// Key layout:
//   m:                   market record
//   l:                   ledger snapshot
//   o:<order-id>         resting order
//   s:<order-id>         settlement record
//   t:<ts-be>:<trade-id> executed trade
func kMarket() []byte { return []byte("m:") }
func kLedger() []byte { return []byte("l:") }

func kOrder(id book.OrderID) []byte {
	return append([]byte("o:"), []byte(id.String())...)
}

func kSettlement(id book.OrderID) []byte {
	return append([]byte("s:"), []byte(id.String())...)
}

func kTrade(ts int64, tradeID string) []byte {
	key := make([]byte, 0, 2+8+1+len(tradeID))
	key = append(key, 't', ':')
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
	key = append(key, tsBuf[:]...)
	key = append(key, ':')
	return append(key, tradeID...)
}

func prefix(p string) []byte { return []byte(p) }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
