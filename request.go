package framecore

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/visiona/framecore/internal/frame"
)

// ActivationReason tells a filter callback why it is being invoked.
type ActivationReason int

const (
	// ArInitial is the first call for a given request: the filter has
	// not yet issued any upstream requests.
	ArInitial ActivationReason = iota
	// ArAllFramesReady is delivered once every upstream request the
	// filter issued during ArInitial has completed successfully.
	ArAllFramesReady
	// ArError is delivered if any upstream request the filter issued
	// failed; Error() on the context holds the upstream message.
	ArError
)

func (r ActivationReason) String() string {
	switch r {
	case ArInitial:
		return "initial"
	case ArAllFramesReady:
		return "allFramesReady"
	case ArError:
		return "error"
	default:
		return "unknown"
	}
}

// upstreamKey identifies one upstream request issued by a filter
// during ArInitial, so its result can be looked up again at
// ArAllFramesReady.
type upstreamKey struct {
	node   *Node
	output int
	n      int64
}

// RequestContext carries one request for a frame through a node's
// callback, across however many activation reasons it takes to
// complete.
type RequestContext struct {
	traceID string

	node   *Node
	output int
	n      int64
	reason ActivationReason

	upstream *RequestContext // nil for a root (externally issued) request

	errMsg string

	ready map[upstreamKey]*frame.Frame

	reqOrder uint64

	cancelled atomic.Bool

	// requested accumulates the upstream keys this context issued
	// during ArInitial, so the scheduler knows what to wait on.
	requested []upstreamKey
}

func newRequestContext(node *Node, output int, n int64, upstream *RequestContext, reqOrder uint64) *RequestContext {
	return &RequestContext{
		traceID:  uuid.NewString(),
		node:     node,
		output:   output,
		n:        n,
		reason:   ArInitial,
		upstream: upstream,
		ready:    make(map[upstreamKey]*frame.Frame),
		reqOrder: reqOrder,
	}
}

// TraceID returns a unique identifier for this request, for log
// correlation.
func (c *RequestContext) TraceID() string { return c.traceID }

// Node returns the node this request is running against.
func (c *RequestContext) Node() *Node { return c.node }

// Output returns the requested output index.
func (c *RequestContext) Output() int { return c.output }

// FrameNumber returns the requested frame/sample index.
func (c *RequestContext) FrameNumber() int64 { return c.n }

// Reason returns why the callback is being invoked on this pass.
func (c *RequestContext) Reason() ActivationReason { return c.reason }

// Error returns the upstream error message, valid when Reason() is
// ArError.
func (c *RequestContext) Error() string { return c.errMsg }

// Cancel marks the request as cancelled. The scheduler checks this
// flag at activation-reason boundaries and reports the request as
// errored with ErrRequestCancelled rather than invoking the filter
// again; upstream work already in flight is allowed to complete, with
// its result simply discarded.
func (c *RequestContext) Cancel() { c.cancelled.Store(true) }

func (c *RequestContext) isCancelled() bool { return c.cancelled.Load() }

// RequestFrame registers a dependency on an upstream node's output at
// frame n, to be resolved before ArAllFramesReady is delivered. Valid
// only during ArInitial.
func (c *RequestContext) RequestFrame(upstreamNode *Node, output int, n int64) {
	c.requested = append(c.requested, upstreamKey{node: upstreamNode, output: output, n: n})
}

// GetFrame returns the result of a previously requested upstream
// frame. Valid only during ArAllFramesReady; panics if the key was
// never requested, matching the reference runtime's contract that a
// filter only asks for frames it explicitly requested.
func (c *RequestContext) GetFrame(upstreamNode *Node, output int, n int64) *frame.Frame {
	key := upstreamKey{node: upstreamNode, output: output, n: n}
	res, ok := c.ready[key]
	if !ok {
		panic("framecore: GetFrame called for a frame that was never requested")
	}
	return res
}
