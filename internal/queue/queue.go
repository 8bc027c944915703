package queue

import (
	"errors"

	"github.com/google/uuid"
)

var ErrQueueFull = errors.New("event queue full")

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 256

// EventQueue is a fixed-capacity FIFO ring. A full queue rejects pushes;
// unconsumed slots are never overwritten.
type EventQueue struct {
	buf    []Event
	head   int
	count  int
	seqNum uint64
}

func New(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventQueue{buf: make([]Event, capacity)}
}

// Restore rebuilds a queue from a snapshot.
func Restore(capacity int, seqNum uint64, events []Event) (*EventQueue, error) {
	q := New(capacity)
	if len(events) > len(q.buf) {
		return nil, ErrQueueFull
	}
	copy(q.buf, events)
	q.count = len(events)
	q.seqNum = seqNum
	return q, nil
}

func (q *EventQueue) Len() int       { return q.count }
func (q *EventQueue) Capacity() int  { return len(q.buf) }
func (q *EventQueue) Empty() bool    { return q.count == 0 }
func (q *EventQueue) Full() bool     { return q.count == len(q.buf) }
func (q *EventQueue) SeqNum() uint64 { return q.seqNum }

// PushBack stamps e with the next sequence number and appends it.
func (q *EventQueue) PushBack(e Event) (uint64, error) {
	if q.Full() {
		return 0, ErrQueueFull
	}
	seq := q.seqNum
	e.setSeq(seq)
	q.buf[(q.head+q.count)%len(q.buf)] = e
	q.count++
	q.seqNum++
	return seq, nil
}

func (q *EventQueue) PeekFront() (Event, bool) {
	if q.count == 0 {
		return Event{}, false
	}
	return q.buf[q.head], true
}

func (q *EventQueue) PopFront() (Event, bool) {
	e, ok := q.PeekFront()
	if !ok {
		return e, false
	}
	q.buf[q.head] = Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return e, true
}

// Iter walks queued events front to back.
func (q *EventQueue) Iter(fn func(Event) bool) {
	for i := 0; i < q.count; i++ {
		if !fn(q.buf[(q.head+i)%len(q.buf)]) {
			return
		}
	}
}

// Events returns the queued events front to back.
func (q *EventQueue) Events() []Event {
	out := make([]Event, 0, q.count)
	q.Iter(func(e Event) bool {
		out = append(out, e)
		return true
	})
	return out
}

func (q *EventQueue) Clone() *EventQueue {
	c := *q
	c.buf = make([]Event, len(q.buf))
	copy(c.buf, q.buf)
	return &c
}

// EffectiveBasePosition is base plus the base change of every queued fill
// in which owner is the maker or the taker.
func (q *EventQueue) EffectiveBasePosition(owner uuid.UUID, base int64) int64 {
	q.Iter(func(e Event) bool {
		if e.Type != EventFill {
			return true
		}
		f := e.Fill
		if f.Maker == owner {
			b, _ := f.BaseQuoteChange(f.TakerSide.Invert())
			base += b
		}
		if f.Taker == owner {
			b, _ := f.BaseQuoteChange(f.TakerSide)
			base += b
		}
		return true
	})
	return base
}

// HasFillsFor reports whether any queued fill references owner.
func (q *EventQueue) HasFillsFor(owner uuid.UUID) bool {
	found := false
	q.Iter(func(e Event) bool {
		if e.Type == EventFill && (e.Fill.Maker == owner || e.Fill.Taker == owner) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Accounts returns the distinct accounts named by the first n events, in
// the order they first appear.
func (q *EventQueue) Accounts(n int) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	q.Iter(func(e Event) bool {
		if n <= 0 {
			return false
		}
		n--
		switch e.Type {
		case EventFill:
			add(e.Fill.Maker)
			add(e.Fill.Taker)
		case EventOut:
			add(e.Out.Owner)
		}
		return true
	})
	return out
}
