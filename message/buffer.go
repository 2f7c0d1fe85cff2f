package message

import (
	"container/heap"
	"fmt"
	"time"
)

// DefaultTimeout is the staleness timeout a Buffer uses when none is
// configured: ten seconds, per the original implementation's default.
const DefaultTimeout = 10 * time.Second

// Buffer is a time-ordered priority queue of Messages, bounded by a
// staleness timeout. It is not safe for concurrent use: per the core's
// single-threaded design, every Buffer is read and written only from the
// main loop goroutine (see the supervisor package).
type Buffer struct {
	timeout  time.Duration
	disabled bool
	now      func() time.Time
	items    msgHeap
}

// NewBuffer returns an empty, enabled Buffer with the given staleness
// timeout.
func NewBuffer(timeout time.Duration) *Buffer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	b := &Buffer{timeout: timeout, now: time.Now}
	heap.Init(&b.items)
	return b
}

// SetClock overrides the buffer's notion of "now". Tests use this to make
// staleness checks deterministic; production code never calls it.
func (b *Buffer) SetClock(now func() time.Time) { b.now = now }

// SetDisabled suppresses (or re-enables) all future pushes. Messages
// already queued are unaffected.
func (b *Buffer) SetDisabled(disabled bool) { b.disabled = disabled }

// Disabled reports whether the buffer currently drops pushes.
func (b *Buffer) Disabled() bool { return b.disabled }

// Len returns the number of Messages currently queued.
func (b *Buffer) Len() int { return b.items.Len() }

// Push inserts m in timestamp order. A disabled Buffer silently drops it.
func (b *Buffer) Push(m Message) {
	if b.disabled {
		return
	}
	heap.Push(&b.items, m)
}

// Peek returns the head Message without removing it.
func (b *Buffer) Peek() (Message, bool) {
	if b.items.Len() == 0 {
		return Message{}, false
	}
	return b.items[0], true
}

// Pop purges stale entries (see Purge) if the head has gone stale, then
// removes and returns the new head, which may be a synthesized
// "skipped N lines" notice.
func (b *Buffer) Pop() (Message, bool) {
	if head, ok := b.Peek(); ok && b.isStale(head) {
		b.Purge()
	}
	if b.items.Len() == 0 {
		return Message{}, false
	}
	return heap.Pop(&b.items).(Message), true
}

// HasCommand reports whether any queued Message carries the given
// command. Weight sync uses this to tell whether a JOIN is already
// pending for a channel before issuing another.
func (b *Buffer) HasCommand(cmd Command) bool {
	for _, m := range b.items {
		if m.Command == cmd {
			return true
		}
	}
	return false
}

// Any reports whether some queued Message satisfies pred. Weight sync
// uses this to check for a JOIN already pending for a specific channel,
// rather than merely any JOIN at all.
func (b *Buffer) Any(pred func(Message) bool) bool {
	for _, m := range b.items {
		if pred(m) {
			return true
		}
	}
	return false
}

func (b *Buffer) isStale(m Message) bool {
	stale := float64(b.now().UnixNano())/1e9 - b.timeout.Seconds()
	return m.Timestamp < stale
}

// Purge repeatedly removes the head while it is stale, except JOIN
// Messages, which are never purged: a dropped JOIN would silently strand
// a pipe below its target weight. Every purged PRIVMSG/PRIVNOTICE that
// is not itself a system notice increments a per-target skip counter;
// once the stale run ends, one synthetic notice per affected target is
// pushed, timestamped now so it sorts after everything that remains.
//
// A purged PRIVMSG/PRIVNOTICE whose arguments don't decompose into
// (target, text) is defensively re-pushed and the purge aborts, per the
// original implementation's handling of malformed packets.
func (b *Buffer) Purge() {
	skipped := make(map[string]int)
	var order []string
	for b.items.Len() > 0 {
		head := b.items[0]
		if !b.isStale(head) {
			break
		}
		if head.Command == Join {
			break
		}
		m := heap.Pop(&b.items).(Message)
		if m.Command != Privmsg && m.Command != Privnotice {
			continue
		}
		if len(m.Arguments) < 2 {
			// Malformed: put it back and stop purging defensively.
			heap.Push(&b.items, m)
			break
		}
		if m.IsSystemNotice() {
			continue
		}
		target := m.Arguments[0]
		if _, ok := skipped[target]; !ok {
			order = append(order, target)
		}
		skipped[target]++
	}
	now := float64(b.now().UnixNano()) / 1e9
	for _, target := range order {
		n := skipped[target]
		text := fmt.Sprintf("-- Message lags over %f seconds. Skipping %d line(s)..",
			b.timeout.Seconds(), n)
		heap.Push(&b.items, Message{
			Command:   Privmsg,
			Arguments: []string{target, text},
			Timestamp: now,
		})
	}
}

// msgHeap implements container/heap.Interface, ordering by Timestamp
// ascending. container/heap does not preserve insertion order, so
// Messages with equal Timestamps come out in no defined order.
type msgHeap []Message

func (h msgHeap) Len() int            { return len(h) }
func (h msgHeap) Less(i, j int) bool  { return h[i].Timestamp < h[j].Timestamp }
func (h msgHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *msgHeap) Push(x interface{}) { *h = append(*h, x.(Message)) }
func (h *msgHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
