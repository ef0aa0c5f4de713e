package framecore

import (
	"container/heap"
	"sync"

	"github.com/visiona/framecore/internal/frame"
)

// FrameCallback receives the outcome of a request issued through
// Core.RequestFrameAsync. Exactly one of result/err is non-nil, unless
// the request was cancelled, in which case err is ErrRequestCancelled.
type FrameCallback func(result *frame.Frame, err error, n int64, node *Node, userData any)

// outputKey identifies the (node, output) pair a lockOnOutput request
// is ordered against. Two requests only contend for ordering if they
// target the same node and output.
type outputKey struct {
	node   *Node
	output int
}

// pendingDelivery is one completed lockOnOutput request waiting for
// its turn to be delivered in submission order.
type pendingDelivery struct {
	seq      uint64
	result   *frame.Frame
	err      error
	n        int64
	node     *Node
	userData any
	callback FrameCallback
}

// deliveryHeap orders pendingDeliveries by submission sequence, so the
// lowest unsent seq is always at the root.
type deliveryHeap []*pendingDelivery

func (h deliveryHeap) Len() int            { return len(h) }
func (h deliveryHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h deliveryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deliveryHeap) Push(x any)         { *h = append(*h, x.(*pendingDelivery)) }
func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// outputOrder is the Core's output mutex for one (node, output) pair:
// it assigns the monotonic sequence number a lockOnOutput request is
// submitted under, and serializes delivery of completed requests back
// to the caller strictly in that order, holding results that finish
// early in a min-heap until every earlier-submitted request has been
// delivered.
type outputOrder struct {
	mu          sync.Mutex
	nextSeq     uint64
	nextDeliver uint64
	pending     deliveryHeap
}

// RequestFrameAsync submits node's output at frame/sample n for
// evaluation without blocking the caller, returning the RequestContext
// so the caller may Cancel it before the filter chain completes.
// userCallback is invoked exactly once, from a scheduler-owned
// goroutine, with the result or error.
//
// When lockOnOutput is true, completion callbacks for every
// lockOnOutput request previously submitted against the same (node,
// output) pair are serialized through that pair's output mutex and
// fire in submission order, even if this request's filter chain
// finishes before an earlier one's. Without lockOnOutput, the callback
// fires as soon as this request completes, in whatever order that
// happens to be.
func (c *Core) RequestFrameAsync(node *Node, output int, n int64, lockOnOutput bool, userCallback FrameCallback, userData any) *RequestContext {
	order := c.reqOrder.Add(1)
	rc := newRequestContext(node, output, n, nil, order)

	if !lockOnOutput {
		c.asyncWG.Add(1)
		go func() {
			defer c.asyncWG.Done()
			res, err := c.scheduler.RunRequest(node, rc)
			userCallback(res, err, n, node, userData)
		}()
		return rc
	}

	key := outputKey{node: node, output: output}
	c.outputOrdersMu.Lock()
	oo, ok := c.outputOrders[key]
	if !ok {
		oo = &outputOrder{}
		c.outputOrders[key] = oo
	}
	seq := oo.nextSeq
	oo.nextSeq++
	c.outputOrdersMu.Unlock()

	c.asyncWG.Add(1)
	go func() {
		defer c.asyncWG.Done()
		res, err := c.scheduler.RunRequest(node, rc)
		c.deliverLinearized(oo, &pendingDelivery{
			seq:      seq,
			result:   res,
			err:      err,
			n:        n,
			node:     node,
			userData: userData,
			callback: userCallback,
		})
	}()
	return rc
}

// deliverLinearized queues one completed lockOnOutput request and
// drains the heap for every now-contiguous run starting at
// oo.nextDeliver, holding oo.mu (the output mutex) across the whole
// drain so callbacks for the same output never run concurrently with
// one another.
func (c *Core) deliverLinearized(oo *outputOrder, d *pendingDelivery) {
	oo.mu.Lock()
	defer oo.mu.Unlock()

	heap.Push(&oo.pending, d)
	for oo.pending.Len() > 0 && oo.pending[0].seq == oo.nextDeliver {
		next := heap.Pop(&oo.pending).(*pendingDelivery)
		oo.nextDeliver++
		next.callback(next.result, next.err, next.n, next.node, next.userData)
	}
}
