package framecore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/visiona/framecore/internal/frame"
)

// Scheduler runs filter callbacks across a bounded pool of concurrent
// slots, honoring each Node's FilterMode and a thread-reservation
// escape hatch for callbacks that are about to block.
//
// Thread-safety: Scheduler is safe for concurrent RunRequest calls
// from any number of goroutines; internally, request evaluation
// recurses via goroutines rather than a hand-rolled ready queue, which
// keeps the activation-reason protocol's control flow a direct
// mirror of a filter author's mental model (call upstream, wait,
// resume) instead of a manually reassembled continuation.
type Scheduler struct {
	core *Core

	slotMu   sync.Mutex
	slotCond *sync.Cond
	capacity int
	inUse    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopped   bool
}

// NewScheduler creates a scheduler with capacity concurrent callback
// slots. capacity <= 0 defaults to 1.
func NewScheduler(capacity int) *Scheduler {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Scheduler{capacity: capacity}
	s.slotCond = sync.NewCond(&s.slotMu)
	return s
}

// bindCore gives the scheduler a back-reference to its owning Core, so
// structural invariant violations (guard-band corruption) can be
// escalated through Core.LogMessage's fatal path. Set once, from
// NewCore, before the scheduler is started.
func (s *Scheduler) bindCore(c *Core) {
	s.core = c
}

// Start marks the scheduler as accepting work. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
}

// Stop marks the scheduler as refusing new top-level requests. Frames
// already being computed run to completion; Stop does not cancel them.
// Idempotent.
func (s *Scheduler) Stop() {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) isStopped() bool {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()
	return s.stopped
}

func (s *Scheduler) acquireSlot() {
	s.slotMu.Lock()
	for s.inUse >= s.capacity {
		s.slotCond.Wait()
	}
	s.inUse++
	s.slotMu.Unlock()
}

func (s *Scheduler) releaseSlot() {
	s.slotMu.Lock()
	s.inUse--
	s.slotCond.Signal()
	s.slotMu.Unlock()
}

// ReserveThread grants a filter callback an extra concurrent slot
// ahead of a call it expects to block on (I/O, a mutex external to
// the graph, and so on), so the blocked callback doesn't starve the
// rest of the pool. Must be paired with ReleaseThread.
func (s *Scheduler) ReserveThread() {
	s.slotMu.Lock()
	s.capacity++
	s.slotCond.Signal()
	s.slotMu.Unlock()
}

// ReleaseThread gives back a slot reserved with ReserveThread.
func (s *Scheduler) ReleaseThread() {
	s.slotMu.Lock()
	s.capacity--
	s.slotMu.Unlock()
}

// RunRequest evaluates node's callback for the given RequestContext,
// gating execution per the node's FilterMode and, for nodes flagged
// nfMakeLinear, an additional ascending-frame-order gate independent
// of FilterMode, then recursing into any upstream frames the callback
// requests during ArInitial.
func (s *Scheduler) RunRequest(n *Node, rc *RequestContext) (*frame.Frame, error) {
	if rc.upstream == nil && s.isStopped() {
		return nil, ErrSchedulerStopped
	}
	if rc.isCancelled() {
		return nil, ErrRequestCancelled
	}

	if n.flags&FlagMakeLinear != 0 {
		n.linearMu.Lock()
		for n.nextLinear != rc.n {
			n.linearCond.Wait()
		}
		res, err := s.dispatch(n, rc)
		n.nextLinear = rc.n + 1
		n.linearCond.Broadcast()
		n.linearMu.Unlock()
		return res, err
	}
	return s.dispatch(n, rc)
}

// dispatch gates one request per the node's FilterMode.
func (s *Scheduler) dispatch(n *Node, rc *RequestContext) (*frame.Frame, error) {
	switch n.mode {
	case FMUnordered:
		<-n.unorderedMu
		defer func() { n.unorderedMu <- struct{}{} }()
		return s.invoke(n, rc)

	case FMFrameState:
		n.frameStateMu.Lock()
		for n.serialFrame != rc.n {
			n.frameStateCond.Wait()
		}
		res, err := s.invoke(n, rc)
		n.serialFrame = rc.n + 1
		n.frameStateCond.Broadcast()
		n.frameStateMu.Unlock()
		return res, err

	case FMParallelRequests:
		key := inFlightKey{output: rc.output, n: rc.n, reason: rc.reason}
		n.inFlightMu.Lock()
		if existing, ok := n.inFlight[key]; ok {
			n.inFlightMu.Unlock()
			<-existing.done
			return existing.result, existing.err
		}
		call := &inFlightCall{done: make(chan struct{})}
		n.inFlight[key] = call
		n.inFlightMu.Unlock()

		res, err := s.invoke(n, rc)

		n.inFlightMu.Lock()
		delete(n.inFlight, key)
		n.inFlightMu.Unlock()
		call.result, call.err = res, err
		close(call.done)
		return res, err

	default: // FMParallel
		return s.invoke(n, rc)
	}
}

// invoke runs the full activation-reason protocol for one request:
// ArInitial, then (if the filter deferred) a concurrent fan-out over
// every upstream frame it requested, then ArAllFramesReady or ArError.
func (s *Scheduler) invoke(n *Node, rc *RequestContext) (*frame.Frame, error) {
	if rc.isCancelled() {
		return nil, ErrRequestCancelled
	}

	s.acquireSlot()
	rc.reason = ArInitial
	res, err := n.callback(rc)
	s.releaseSlot()
	if err != nil {
		return nil, fmt.Errorf("%w: node %q: %v", ErrFilterError, n.name, err)
	}
	if res != nil {
		return s.checkGuard(n, res)
	}

	if len(rc.requested) == 0 {
		return nil, fmt.Errorf("framecore: node %q: callback returned no frame and requested no upstream frame", n.name)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, key := range rc.requested {
		wg.Add(1)
		go func(key upstreamKey) {
			defer wg.Done()
			child := newRequestContext(key.node, key.output, key.n, rc, 0)
			result, err := s.RunRequest(key.node, child)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			rc.ready[key] = result
		}(key)
	}
	wg.Wait()

	// Upstream work above is allowed to run to completion even if this
	// request was cancelled while it waited; only the result is
	// discarded.
	if rc.isCancelled() {
		return nil, ErrRequestCancelled
	}

	if firstErr != nil {
		rc.reason = ArError
		rc.errMsg = firstErr.Error()
		s.acquireSlot()
		_, _ = n.callback(rc) // let the filter log/clean up; its result is not used
		s.releaseSlot()
		slog.Warn("framecore: upstream request failed", "node", n.name, "trace", rc.traceID, "err", firstErr)
		return nil, firstErr
	}

	rc.reason = ArAllFramesReady
	s.acquireSlot()
	res, err = n.callback(rc)
	s.releaseSlot()
	if err != nil {
		return nil, fmt.Errorf("%w: node %q: %v", ErrFilterError, n.name, err)
	}
	if res == nil {
		return nil, fmt.Errorf("framecore: node %q: callback returned no frame at allFramesReady", n.name)
	}
	return s.checkGuard(n, res)
}

// checkGuard verifies a returned frame's guard bands. A mismatch is a
// structural invariant violation (spec error category 3: memory
// corruption or ABI misuse) and is escalated to Core.LogMessage's
// fatal path, which terminates the process after logging, in addition
// to returning ErrGuardCorruption to the immediate caller.
func (s *Scheduler) checkGuard(n *Node, f *frame.Frame) (*frame.Frame, error) {
	if !f.VerifyGuardPattern() {
		if s.core != nil {
			s.core.LogMessage(SeverityFatal, "guard corrupted: node %q", n.name)
		}
		return nil, fmt.Errorf("%w: node %q", ErrGuardCorruption, n.name)
	}
	return f, nil
}
