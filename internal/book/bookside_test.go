package book_test

import (
	"errors"
	"testing"

	"LyraeLedger/internal/book"

	"github.com/google/uuid"
)

func mustInsert(t *testing.T, s *book.BookSide, price int64, seq uint64, qty int64) book.OrderKey {
	t.Helper()
	key := book.NewOrderKey(s.Side(), price, seq)
	if err := s.Insert(book.Order{Key: key, Owner: uuid.New(), Quantity: qty}); err != nil {
		t.Fatalf("insert price=%d seq=%d: %v", price, seq, err)
	}
	return key
}

// ============================================================================
// Test: ordering
// ============================================================================

func TestAsks_IterateLowestFirstThenFIFO(t *testing.T) {
	asks := book.NewBookSide(book.Ask, 63)
	mustInsert(t, asks, 105, 1, 1)
	mustInsert(t, asks, 100, 2, 2)
	mustInsert(t, asks, 100, 3, 3)
	mustInsert(t, asks, 101, 4, 4)

	var got []int64
	asks.Iter(func(o book.Order) bool {
		got = append(got, o.Quantity)
		return true
	})
	want := []int64{2, 3, 4, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iteration order = %v, want %v", got, want)
		}
	}
}

func TestBids_IterateHighestFirstThenFIFO(t *testing.T) {
	bids := book.NewBookSide(book.Bid, 63)
	mustInsert(t, bids, 95, 1, 1)
	mustInsert(t, bids, 99, 2, 2)
	mustInsert(t, bids, 99, 3, 3)
	mustInsert(t, bids, 90, 4, 4)

	best, ok := bids.Best()
	if !ok || best.Quantity != 2 {
		t.Fatalf("best bid = %+v, want earliest order at 99", best)
	}
	orders := bids.Orders(0)
	want := []int64{2, 3, 1, 4}
	for i, o := range orders {
		if o.Quantity != want[i] {
			t.Fatalf("bid %d qty = %d, want %d", i, o.Quantity, want[i])
		}
	}
}

// ============================================================================
// Test: insert/remove bookkeeping
// ============================================================================

func TestRemove_RecyclesSlots(t *testing.T) {
	side := book.NewBookSide(book.Ask, 7) // room for 4 orders
	var keys []book.OrderKey
	for i := uint64(0); i < 4; i++ {
		keys = append(keys, mustInsert(t, side, int64(100+i), i, 1))
	}
	if side.HasRoom() {
		t.Fatal("side of 4 orders in 7 slots must be full")
	}
	err := side.Insert(book.Order{Key: book.NewOrderKey(book.Ask, 50, 99), Quantity: 1})
	if !errors.Is(err, book.ErrSideFull) {
		t.Fatalf("insert into full side: %v", err)
	}

	for _, k := range keys {
		if _, ok := side.Remove(k); !ok {
			t.Fatalf("remove %s failed", k)
		}
	}
	if !side.IsEmpty() || side.Len() != 0 {
		t.Fatalf("side not empty after removing everything: len=%d", side.Len())
	}
	for i := uint64(0); i < 4; i++ {
		mustInsert(t, side, int64(200+i), 10+i, 1)
	}
}

func TestRemove_Missing(t *testing.T) {
	side := book.NewBookSide(book.Bid, 15)
	mustInsert(t, side, 10, 1, 1)
	if _, ok := side.Remove(book.NewOrderKey(book.Bid, 10, 2)); ok {
		t.Fatal("removed a key that was never inserted")
	}
	if side.Len() != 1 {
		t.Fatalf("len = %d, want 1", side.Len())
	}
}

func TestInsert_Duplicate(t *testing.T) {
	side := book.NewBookSide(book.Ask, 15)
	key := mustInsert(t, side, 10, 1, 1)
	if err := side.Insert(book.Order{Key: key}); !errors.Is(err, book.ErrDuplicateKey) {
		t.Fatalf("duplicate insert: %v", err)
	}
}

func TestClone_Independent(t *testing.T) {
	side := book.NewBookSide(book.Ask, 15)
	key := mustInsert(t, side, 10, 1, 5)
	c := side.Clone()
	side.SetQuantity(key, 1)
	if o, _ := c.Find(key); o.Quantity != 5 {
		t.Fatalf("clone saw mutation: qty=%d", o.Quantity)
	}
}

// ============================================================================
// Test: book queries
// ============================================================================

func TestImpactPrice(t *testing.T) {
	b := book.New(63)
	mustInsert(t, b.Asks, 100, 1, 60)
	mustInsert(t, b.Asks, 102, 2, 60)

	if p, ok := b.ImpactPrice(book.Ask, 100); !ok || p != 102 {
		t.Fatalf("impact ask = %d ok=%v, want 102", p, ok)
	}
	if _, ok := b.ImpactPrice(book.Ask, 500); ok {
		t.Fatal("thin book must report no impact price")
	}
}

func TestSizeAhead(t *testing.T) {
	b := book.New(63)
	first := mustInsert(t, b.Bids, 100, 1, 5)
	mustInsert(t, b.Bids, 100, 2, 7)
	third := mustInsert(t, b.Bids, 99, 3, 9)

	if got := b.SizeAhead(book.Bid, 100, 1000); got != 12 {
		t.Errorf("size at or above 100 = %d, want 12", got)
	}
	if got := b.SizeAheadOfOrder(book.Bid, third, 1000); got != 12 {
		t.Errorf("size ahead of third = %d, want 12", got)
	}
	if got := b.SizeAheadOfOrder(book.Bid, first, 1000); got != 0 {
		t.Errorf("size ahead of first = %d, want 0", got)
	}
	if got := b.SizeAhead(book.Bid, 0, 10); got != 10 {
		t.Errorf("capped size = %d, want 10", got)
	}
}

func TestOrderKey_TextRoundTrip(t *testing.T) {
	k := book.NewOrderKey(book.Bid, 9400, 17)
	back, err := book.ParseOrderKey(k.String())
	if err != nil || back != k {
		t.Fatalf("round trip %s -> %s (%v)", k, back, err)
	}
	if back.Seq(book.Bid) != 17 || back.Price() != 9400 {
		t.Fatalf("decoded price=%d seq=%d", back.Price(), back.Seq(book.Bid))
	}
}
