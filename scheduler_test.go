package framecore_test

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visiona/framecore"
	"github.com/visiona/framecore/internal/frame"
	"github.com/visiona/framecore/internal/propval"
)

// Scenario: a node in FMUnordered mode must never run its callback
// concurrently with itself.
// Contract: concurrent GetFrame calls against the same FMUnordered
// node are serialized.
func TestFMUnorderedSerializesCallbacks(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 4})
	defer core.Free()

	var active int32
	var sawOverlap int32

	node, err := core.NewNode("unordered", sourceOutputs(), framecore.FMUnordered, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&sawOverlap, 1)
			}
			defer atomic.AddInt32(&active, -1)
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			if _, err := core.GetFrame(node, 0, n); err != nil {
				t.Errorf("GetFrame(%d): %v", n, err)
			}
		}(int64(i % 3))
	}
	wg.Wait()

	if sawOverlap != 0 {
		t.Fatalf("FMUnordered node ran concurrently with itself")
	}
}

// Scenario: an FMFrameState node must only be asked for frames in
// strictly ascending order.
// Contract: the scheduler blocks a later frame's call until every
// earlier frame has completed.
func TestFMFrameStateEnforcesOrder(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 4})
	defer core.Free()

	var mu sync.Mutex
	var seen []int64

	node, err := core.NewNode("stateful", sourceOutputs(), framecore.FMFrameState, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			mu.Lock()
			seen = append(seen, rc.FrameNumber())
			mu.Unlock()
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var wg sync.WaitGroup
	for i := int64(4); i >= 0; i-- {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			if _, err := core.GetFrame(node, 0, n); err != nil {
				t.Errorf("GetFrame(%d): %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		if n != int64(i) {
			t.Fatalf("expected ascending frame order, got %v", seen)
		}
	}
}

// Scenario: an upstream node that returns an error during fan-out.
// Contract: the downstream filter is resumed with ArError and the
// error propagates out of GetFrame.
func TestUpstreamErrorPropagates(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 2})
	defer core.Free()

	failing, err := core.NewNode("failing", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			return nil, errBoom
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var sawError bool
	downstream, err := core.NewNode("downstream", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			switch rc.Reason() {
			case framecore.ArInitial:
				rc.RequestFrame(failing, 0, 0)
				return nil, nil
			case framecore.ArError:
				sawError = true
				return nil, nil
			default:
				return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
			}
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	if _, err := core.GetFrame(downstream, 0, 0); err == nil {
		t.Fatalf("expected error from GetFrame")
	}
	if !sawError {
		t.Fatalf("expected downstream callback to observe ArError")
	}
}

// Scenario: a filter callback returns a frame whose guard band has
// been corrupted — a structural invariant violation, not an ordinary
// filter error.
// Contract: the scheduler escalates through Core.LogMessage at
// SeverityFatal with a message naming "guard corrupted", in addition
// to returning ErrGuardCorruption to the caller.
func TestGuardCorruptionEscalatesToFatal(t *testing.T) {
	var fatalCalls int32
	var fatalMsg string
	var mu sync.Mutex

	core := framecore.NewCore(framecore.CoreOptions{
		NumThreads:   2,
		FatalHandler: func() { atomic.AddInt32(&fatalCalls, 1) },
	})
	defer core.Free()
	core.AddMessageHandler(func(severity framecore.Severity, message string) {
		if severity == framecore.SeverityFatal {
			mu.Lock()
			fatalMsg = message
			mu.Unlock()
		}
	})

	node, err := core.NewNode("corrupt", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			f, err := frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, true)
			if err != nil {
				return nil, err
			}
			f.DebugSmashGuard(0)
			return f, nil
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	if _, err := core.GetFrame(node, 0, 0); !errors.Is(err, framecore.ErrGuardCorruption) {
		t.Fatalf("expected ErrGuardCorruption, got %v", err)
	}
	if atomic.LoadInt32(&fatalCalls) != 1 {
		t.Fatalf("expected fatal handler invoked once, got %d", fatalCalls)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(fatalMsg, "guard corrupted") {
		t.Fatalf("expected fatal message to contain %q, got %q", "guard corrupted", fatalMsg)
	}
}

// Scenario: a node flagged FlagMakeLinear runs under FMParallel (a
// mode with no ordering guarantee of its own), requested out of order
// with later frame numbers given a shorter artificial delay so they
// would complete first without the flag's gate.
// Contract: completions still happen in strictly ascending frame
// order, independent of FilterMode.
func TestFlagMakeLinearEnforcesAscendingCompletion(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 8})
	defer core.Free()

	var mu sync.Mutex
	var seen []int64

	node, err := core.NewNode("linear", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache|framecore.FlagMakeLinear,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			time.Sleep(time.Duration(4-rc.FrameNumber()) * 10 * time.Millisecond)
			mu.Lock()
			seen = append(seen, rc.FrameNumber())
			mu.Unlock()
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var wg sync.WaitGroup
	for i := int64(0); i < 5; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			if _, err := core.GetFrame(node, 0, n); err != nil {
				t.Errorf("GetFrame(%d): %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		if n != int64(i) {
			t.Fatalf("expected ascending completion order, got %v", seen)
		}
	}
}

// Scenario: one filter callback reserves an extra scheduler slot
// before blocking on something external to the graph, while 4 other
// requests against a different node are submitted concurrently.
// Contract: the 4 other requests still dispatch and complete while
// the reserving callback is blocked, rather than starving behind it.
func TestReserveThreadAvoidsStarvation(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 4})
	defer core.Free()

	release := make(chan struct{})
	blocker, err := core.NewNode("blocker", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			core.ReserveThread()
			defer core.ReleaseThread()
			<-release
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	other, err := core.NewNode("other", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var blockerWG sync.WaitGroup
	blockerWG.Add(1)
	go func() {
		defer blockerWG.Done()
		if _, err := core.GetFrame(blocker, 0, 0); err != nil {
			t.Errorf("GetFrame(blocker): %v", err)
		}
	}()

	// Give the blocker time to reserve its extra slot and start
	// waiting before saturating the pool's remaining 4 slots.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := int64(0); i < 4; i++ {
			wg.Add(1)
			go func(n int64) {
				defer wg.Done()
				if _, err := core.GetFrame(other, 0, n); err != nil {
					t.Errorf("GetFrame(other,%d): %v", n, err)
				}
			}(i)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("4 concurrent requests did not complete while blocker held a reserved thread")
	}

	close(release)
	blockerWG.Wait()
}

// Scenario: several lockOnOutput requests against the same node
// output are submitted together, with later submissions given a
// shorter artificial delay so they would finish first left
// unordered.
// Contract: userCallback fires in strict submission order regardless
// of completion order.
func TestRequestFrameAsyncLockOnOutputOrdersCallbacks(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 8})
	defer core.Free()

	node, err := core.NewNode("asyncsrc", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			time.Sleep(time.Duration(4-rc.FrameNumber()) * 10 * time.Millisecond)
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var mu sync.Mutex
	var delivered []int64
	var wg sync.WaitGroup
	wg.Add(5)
	for i := int64(0); i < 5; i++ {
		core.RequestFrameAsync(node, 0, i, true, func(result *frame.Frame, err error, n int64, _ *framecore.Node, _ any) {
			defer wg.Done()
			if err != nil {
				t.Errorf("RequestFrameAsync(%d): %v", n, err)
				return
			}
			mu.Lock()
			delivered = append(delivered, n)
			mu.Unlock()
		}, nil)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, n := range delivered {
		if n != int64(i) {
			t.Fatalf("expected callbacks delivered in submission order, got %v", delivered)
		}
	}
}

// Scenario: an async request is cancelled while the upstream request
// its filter issued during ArInitial is still running.
// Contract: the callback observes ErrRequestCancelled, but the
// upstream node's own callback still runs to completion rather than
// being aborted.
func TestCancelDiscardsResultButLetsUpstreamFinish(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 4})
	defer core.Free()

	upstreamDone := make(chan struct{})
	upstream, err := core.NewNode("upstream", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			time.Sleep(40 * time.Millisecond)
			close(upstreamDone)
			return frame.NewVideoFrame(core.Pool(), grayFormat(), 4, 4, false)
		}, nil)
	if err != nil {
		t.Fatalf("NewNode upstream: %v", err)
	}

	downstream, err := core.NewNode("downstream", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) {
			switch rc.Reason() {
			case framecore.ArInitial:
				rc.RequestFrame(upstream, 0, rc.FrameNumber())
				return nil, nil
			case framecore.ArAllFramesReady:
				return rc.GetFrame(upstream, 0, rc.FrameNumber()), nil
			default:
				return nil, nil
			}
		}, nil)
	if err != nil {
		t.Fatalf("NewNode downstream: %v", err)
	}

	done := make(chan error, 1)
	rc := core.RequestFrameAsync(downstream, 0, 0, false, func(_ *frame.Frame, err error, _ int64, _ *framecore.Node, _ any) {
		done <- err
	}, nil)

	time.Sleep(5 * time.Millisecond)
	rc.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, framecore.ErrRequestCancelled) {
			t.Fatalf("expected ErrRequestCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback never fired")
	}

	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream callback did not run to completion after cancellation")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestPluginReadOnlyRejectsRegistration(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 1})
	defer core.Free()

	plugin, _ := core.RegisterPlugin("com.example.sealed", "sealed", "Sealed")
	plugin.Seal()

	err := plugin.RegisterFunction("Late", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatalf("expected error registering on a sealed plugin")
	}
}
