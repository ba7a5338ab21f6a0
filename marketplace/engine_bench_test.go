package marketplace

import (
	"fmt"
	"testing"
)

func BenchmarkCreateOrder(b *testing.B) {
	e := NewEngine()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.CreateOrder("bench-owner", testSpec(), price(100)); err != nil {
			b.Fatalf("create order: %v", err)
		}
	}
}

func BenchmarkMatchOrder(b *testing.B) {
	e := NewEngine()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		order, err := e.CreateOrder("bench-owner", testSpec(), price(1000))
		if err != nil {
			b.Fatalf("create order: %v", err)
		}
		for p := 0; p < 8; p++ {
			provider := fmt.Sprintf("prov-%d", p)
			if _, err := e.SubmitBid(order.ID, provider, price(int64(900-p))); err != nil {
				b.Fatalf("submit bid: %v", err)
			}
		}
		if _, err := e.MatchOrder(order.ID); err != nil {
			b.Fatalf("match order: %v", err)
		}
	}
}
