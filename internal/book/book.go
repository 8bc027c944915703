package book

// DefaultCapacity is the arena size of each side; it holds 512 orders.
const DefaultCapacity = 1023

// Book is the pair of sides of one perp market.
type Book struct {
	Bids *BookSide
	Asks *BookSide
}

func New(capacity int) *Book {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Book{
		Bids: NewBookSide(Bid, capacity),
		Asks: NewBookSide(Ask, capacity),
	}
}

func (b *Book) Side(s Side) *BookSide {
	if s == Bid {
		return b.Bids
	}
	return b.Asks
}

// BestPrice returns the best price on side s in lots.
func (b *Book) BestPrice(s Side) (int64, bool) {
	o, ok := b.Side(s).Best()
	if !ok {
		return 0, false
	}
	return o.Price(), true
}

// ImpactPrice returns the price reached after walking qty base lots from the
// top of side s, or false if the side is thinner than qty.
func (b *Book) ImpactPrice(s Side, qty int64) (int64, bool) {
	var (
		sum   int64
		price int64
		found bool
	)
	b.Side(s).Iter(func(o Order) bool {
		sum += o.Quantity
		if sum >= qty {
			price, found = o.Price(), true
			return false
		}
		return true
	})
	return price, found
}

// SizeAhead is the resting quantity on side s at prices strictly better than
// or equal to price, capped at maxDepth.
func (b *Book) SizeAhead(s Side, price, maxDepth int64) int64 {
	var sum int64
	b.Side(s).Iter(func(o Order) bool {
		if sum >= maxDepth || !atLeastAsGood(s, o.Price(), price) {
			return false
		}
		sum += o.Quantity
		return true
	})
	return min(sum, maxDepth)
}

// SizeAheadOfOrder is the resting quantity queued before key on side s,
// capped at maxDepth. If key is absent it is the side's size up to maxDepth.
func (b *Book) SizeAheadOfOrder(s Side, key OrderKey, maxDepth int64) int64 {
	var sum int64
	b.Side(s).Iter(func(o Order) bool {
		if sum >= maxDepth || o.Key == key {
			return false
		}
		sum += o.Quantity
		return true
	})
	return min(sum, maxDepth)
}

func atLeastAsGood(s Side, have, ref int64) bool {
	if s == Bid {
		return have >= ref
	}
	return have <= ref
}

// Level is an aggregated price level.
type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Depth aggregates up to levels price levels of side s, best first.
func (b *Book) Depth(s Side, levels int) []Level {
	var out []Level
	b.Side(s).Iter(func(o Order) bool {
		if n := len(out); n > 0 && out[n-1].Price == o.Price() {
			out[n-1].Quantity += o.Quantity
			out[n-1].Orders++
			return true
		}
		if len(out) == levels {
			return false
		}
		out = append(out, Level{Price: o.Price(), Quantity: o.Quantity, Orders: 1})
		return true
	})
	return out
}

func (b *Book) Clone() *Book {
	return &Book{Bids: b.Bids.Clone(), Asks: b.Asks.Clone()}
}
