package tests

import (
	"testing"

	"github.com/azank1/zk2p/pkg/app/core/book"
)

func BenchmarkPlaceResting(b *testing.B) {
	ob := book.NewOrderBook()
	owner := ident(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o := &book.Order{
			ID:        book.MakeOrderID(uint64(i), owner),
			Owner:     owner,
			Side:      book.Bid,
			Type:      book.Limit,
			Price:     uint64(100 + i%book.MaxPriceLevels),
			Quantity:  10,
			Timestamp: int64(i),
		}
		if _, err := ob.Place(o); err != nil {
			// Arena full: drain and keep going.
			b.StopTimer()
			ob = book.NewOrderBook()
			b.StartTimer()
		}
	}
}

func BenchmarkMatchCrossing(b *testing.B) {
	ob := book.NewOrderBook()
	maker, taker := ident(1), ident(2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ask := &book.Order{
			ID:        book.MakeOrderID(uint64(2*i), maker),
			Owner:     maker,
			Side:      book.Ask,
			Type:      book.Limit,
			Price:     100,
			Quantity:  10,
			Timestamp: int64(2 * i),
		}
		bid := &book.Order{
			ID:        book.MakeOrderID(uint64(2*i+1), taker),
			Owner:     taker,
			Side:      book.Bid,
			Type:      book.Limit,
			Price:     100,
			Quantity:  10,
			Timestamp: int64(2*i + 1),
		}
		if _, err := ob.Place(ask); err != nil {
			b.Fatal(err)
		}
		if _, err := ob.Place(bid); err != nil {
			b.Fatal(err)
		}
	}
}
