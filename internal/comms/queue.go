package comms

import (
	"container/heap"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// queueItem is one enqueued message with its admission sequence number.
type queueItem struct {
	msg *models.Message
	seq uint64
}

// pairKey identifies a (sender, receiver) delivery stream.
type pairKey struct {
	sender   string
	receiver string
}

// pairStream is the FIFO of undelivered messages for one pair. Keeping a
// FIFO per pair and a heap of pair heads gives priority ordering across
// pairs while preserving send order within a pair.
type pairStream struct {
	key   pairKey
	items []*queueItem
	index int // heap index
}

func (p *pairStream) head() *queueItem {
	return p.items[0]
}

// streamHeap orders pair streams by their head message: higher priority
// first, then lower sequence number (FIFO within a priority level).
type streamHeap []*pairStream

func (h streamHeap) Len() int { return len(h) }

func (h streamHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.msg.Priority != b.msg.Priority {
		return a.msg.Priority > b.msg.Priority
	}
	return a.seq < b.seq
}

func (h streamHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *streamHeap) Push(x any) {
	s := x.(*pairStream)
	s.index = len(*h)
	*h = append(*h, s)
}

func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

// priorityQueue is the delivery queue: five priority levels, FIFO within
// a level, and strict send-order preservation per (sender, receiver)
// pair. Not safe for concurrent use; the manager guards it.
type priorityQueue struct {
	heap    streamHeap
	streams map[pairKey]*pairStream
	nextSeq uint64
	size    int
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{
		streams: make(map[pairKey]*pairStream),
	}
}

// Push enqueues a message. Appending to a pair's tail never changes the
// pair's head, so the heap only needs fixing when a new stream appears.
func (q *priorityQueue) Push(msg *models.Message) {
	q.nextSeq++
	item := &queueItem{msg: msg, seq: q.nextSeq}
	key := pairKey{sender: msg.Sender, receiver: msg.Receiver}

	stream, ok := q.streams[key]
	if !ok {
		stream = &pairStream{key: key}
		q.streams[key] = stream
	}

	stream.items = append(stream.items, item)
	q.size++

	if len(stream.items) == 1 {
		heap.Push(&q.heap, stream)
	}
}

// Pop dequeues the highest-priority head message across all pairs.
// Returns nil when the queue is empty.
func (q *priorityQueue) Pop() *models.Message {
	if q.heap.Len() == 0 {
		return nil
	}

	stream := q.heap[0]
	item := stream.items[0]
	stream.items = stream.items[1:]
	q.size--

	if len(stream.items) == 0 {
		heap.Pop(&q.heap)
		delete(q.streams, stream.key)
	} else {
		// The stream's head changed; restore heap order.
		heap.Fix(&q.heap, stream.index)
	}

	return item.msg
}

// Len returns the number of queued messages.
func (q *priorityQueue) Len() int {
	return q.size
}
