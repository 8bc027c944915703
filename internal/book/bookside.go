package book

import "errors"

var (
	ErrSideFull     = errors.New("book side full")
	ErrDuplicateKey = errors.New("duplicate order key")
)

const nilHandle = ^uint32(0)

type nodeTag uint8

const (
	tagFree nodeTag = iota
	tagInner
	tagLeaf
)

// node is one arena slot. Inner nodes use prefixLen, key and children;
// leaves use order; free slots use nextFree.
type node struct {
	tag       nodeTag
	prefixLen uint32
	key       OrderKey
	children  [2]uint32
	order     Order
	nextFree  uint32
}

// BookSide is a fixed-capacity crit-bit trie of orders for one side of a
// market. Nodes live in an arena slab addressed by index; freed slots are
// recycled through a free list.
type BookSide struct {
	side      Side
	nodes     []node
	root      uint32
	freeHead  uint32
	freeCount int
	leafCount int
}

// NewBookSide allocates an arena of capacity nodes. A trie holding n orders
// uses 2n-1 nodes.
func NewBookSide(side Side, capacity int) *BookSide {
	b := &BookSide{
		side:  side,
		nodes: make([]node, capacity),
		root:  nilHandle,
	}
	b.freeHead = nilHandle
	for i := capacity - 1; i >= 0; i-- {
		b.nodes[i].nextFree = b.freeHead
		b.freeHead = uint32(i)
	}
	b.freeCount = capacity
	return b
}

func (b *BookSide) Side() Side    { return b.side }
func (b *BookSide) Len() int      { return b.leafCount }
func (b *BookSide) Capacity() int { return len(b.nodes) }
func (b *BookSide) IsEmpty() bool { return b.root == nilHandle }

// HasRoom reports whether one more order can be inserted.
func (b *BookSide) HasRoom() bool {
	if b.root == nilHandle {
		return b.freeCount >= 1
	}
	return b.freeCount >= 2
}

func (b *BookSide) alloc(n node) uint32 {
	h := b.freeHead
	b.freeHead = b.nodes[h].nextFree
	b.freeCount--
	b.nodes[h] = n
	return h
}

func (b *BookSide) free(h uint32) {
	b.nodes[h] = node{tag: tagFree, nextFree: b.freeHead}
	b.freeHead = h
	b.freeCount++
}

// Insert adds o keyed by o.Key.
func (b *BookSide) Insert(o Order) error {
	if !b.HasRoom() {
		return ErrSideFull
	}
	if b.root == nilHandle {
		b.root = b.alloc(node{tag: tagLeaf, key: o.Key, order: o})
		b.leafCount++
		return nil
	}

	h := b.root
	for {
		n := &b.nodes[h]
		shared := n.key.commonPrefix(o.Key)
		if n.tag == tagInner && shared >= n.prefixLen {
			h = n.children[o.Key.bit(n.prefixLen)]
			continue
		}
		if n.tag == tagLeaf && shared == 128 {
			return ErrDuplicateKey
		}

		// split: the current node moves to a fresh slot and h becomes the
		// inner node discriminating on the first differing bit
		moved := b.alloc(*n)
		leaf := b.alloc(node{tag: tagLeaf, key: o.Key, order: o})
		inner := node{tag: tagInner, prefixLen: shared, key: o.Key}
		if o.Key.bit(shared) == 1 {
			inner.children = [2]uint32{moved, leaf}
		} else {
			inner.children = [2]uint32{leaf, moved}
		}
		b.nodes[h] = inner
		b.leafCount++
		return nil
	}
}

// Remove deletes the order with key and returns it.
func (b *BookSide) Remove(key OrderKey) (Order, bool) {
	if b.root == nilHandle {
		return Order{}, false
	}
	root := &b.nodes[b.root]
	if root.tag == tagLeaf {
		if root.key != key {
			return Order{}, false
		}
		o := root.order
		b.free(b.root)
		b.root = nilHandle
		b.leafCount--
		return o, true
	}

	h := b.root
	for {
		n := b.nodes[h]
		if n.key.commonPrefix(key) < n.prefixLen {
			return Order{}, false
		}
		dir := key.bit(n.prefixLen)
		child := n.children[dir]
		c := b.nodes[child]
		if c.tag == tagLeaf {
			if c.key != key {
				return Order{}, false
			}
			sibling := n.children[1-dir]
			b.nodes[h] = b.nodes[sibling]
			b.free(sibling)
			b.free(child)
			b.leafCount--
			return c.order, true
		}
		h = child
	}
}

func (b *BookSide) findHandle(key OrderKey) uint32 {
	h := b.root
	for h != nilHandle {
		n := &b.nodes[h]
		if n.tag == tagLeaf {
			if n.key == key {
				return h
			}
			return nilHandle
		}
		if n.key.commonPrefix(key) < n.prefixLen {
			return nilHandle
		}
		h = n.children[key.bit(n.prefixLen)]
	}
	return nilHandle
}

// Find returns the order with key.
func (b *BookSide) Find(key OrderKey) (Order, bool) {
	h := b.findHandle(key)
	if h == nilHandle {
		return Order{}, false
	}
	return b.nodes[h].order, true
}

// SetQuantity updates the remaining quantity of a resting order in place.
func (b *BookSide) SetQuantity(key OrderKey, qty int64) bool {
	h := b.findHandle(key)
	if h == nilHandle {
		return false
	}
	b.nodes[h].order.Quantity = qty
	return true
}

func (b *BookSide) extreme(dir int) (Order, bool) {
	if b.root == nilHandle {
		return Order{}, false
	}
	h := b.root
	for b.nodes[h].tag == tagInner {
		h = b.nodes[h].children[dir]
	}
	return b.nodes[h].order, true
}

// Min and Max return the orders with the smallest and largest keys.
func (b *BookSide) Min() (Order, bool) { return b.extreme(0) }
func (b *BookSide) Max() (Order, bool) { return b.extreme(1) }

// Best returns the highest bid or the lowest ask.
func (b *BookSide) Best() (Order, bool) {
	if b.side == Bid {
		return b.Max()
	}
	return b.Min()
}

// Iter walks orders from best to worst price; equal prices come out in
// placement order. Returning false from fn stops the walk. fn must not
// mutate the side.
func (b *BookSide) Iter(fn func(o Order) bool) {
	if b.root == nilHandle {
		return
	}
	// asks ascend (left first), bids descend (right first)
	first, second := 0, 1
	if b.side == Bid {
		first, second = 1, 0
	}
	stack := make([]uint32, 0, 64)
	stack = append(stack, b.root)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &b.nodes[h]
		if n.tag == tagLeaf {
			if !fn(n.order) {
				return
			}
			continue
		}
		stack = append(stack, n.children[second], n.children[first])
	}
}

// Orders returns up to limit orders best-first; limit <= 0 means all.
func (b *BookSide) Orders(limit int) []Order {
	out := make([]Order, 0, b.leafCount)
	b.Iter(func(o Order) bool {
		out = append(out, o)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Clone returns a deep copy of the arena.
func (b *BookSide) Clone() *BookSide {
	c := *b
	c.nodes = make([]node, len(b.nodes))
	copy(c.nodes, b.nodes)
	return &c
}
