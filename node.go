package framecore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/visiona/framecore/internal/frame"
)

// FilterMode controls how a Node's callback may be invoked across
// concurrent requests.
type FilterMode int

const (
	// FMParallel allows any number of frames to be requested from
	// the node concurrently, with no ordering or dedup guarantees.
	FMParallel FilterMode = iota
	// FMParallelRequests allows concurrent requests but deduplicates
	// in-flight requests for the same (frame number, activation
	// reason) pair, resuming every waiter once the shared callback
	// completes.
	FMParallelRequests
	// FMUnordered serializes all callback invocations for the node
	// behind a single lock, in whatever order requests arrive.
	FMUnordered
	// FMFrameState serializes callback invocations and additionally
	// requires strictly ascending frame numbers, giving the filter a
	// place to keep running state between frames.
	FMFrameState
)

// NodeFlags is a bitset of node lifecycle hints.
type NodeFlags uint32

const (
	// FlagNoCache tells the scheduler not to retain completed frames
	// from this node in any upstream cache.
	FlagNoCache NodeFlags = 1 << iota
	// FlagIsCache marks the node itself as a caching node. Requires
	// FlagNoCache (a cache must not be re-cached upstream of itself).
	FlagIsCache
	// FlagMakeLinear makes the scheduler run this node's requests
	// strictly in ascending frame order starting at frame 0, whatever
	// its FilterMode: a request for frame n waits until frame n-1 has
	// completed.
	FlagMakeLinear
)

// validateFlags enforces the one documented flag dependency: a node
// marked as a cache must also disable caching of its own output.
func validateFlags(flags NodeFlags) error {
	if flags&FlagIsCache != 0 && flags&FlagNoCache == 0 {
		return fmt.Errorf("%w: nfIsCache requires nfNoCache", ErrNodeFlagsInvalid)
	}
	return nil
}

// OutputInfo describes one of a Node's output streams.
type OutputInfo struct {
	IsAudio bool

	// Video fields, valid when !IsAudio.
	Width, Height int
	FPSNum, FPSDen int64
	NumFrames      int

	// Audio fields, valid when IsAudio.
	SampleRate int
	NumSamples int64
}

func (o OutputInfo) validate() error {
	if o.IsAudio {
		if o.SampleRate <= 0 {
			return fmt.Errorf("framecore: audio output: invalid sample rate %d", o.SampleRate)
		}
		if o.NumSamples < 0 || o.NumSamples > maxAudioSamplesBound {
			return fmt.Errorf("framecore: audio output: sample count %d out of bounds", o.NumSamples)
		}
		return nil
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("framecore: video output: invalid dimensions %dx%d", o.Width, o.Height)
	}
	if o.FPSNum < 0 || o.FPSDen < 0 {
		return fmt.Errorf("framecore: video output: invalid fps %d/%d", o.FPSNum, o.FPSDen)
	}
	if (o.FPSNum == 0) != (o.FPSDen == 0) {
		return fmt.Errorf("framecore: video output: fps numerator and denominator must both be zero or both non-zero")
	}
	if o.NumFrames <= 0 {
		return fmt.Errorf("framecore: video output: invalid frame count %d", o.NumFrames)
	}
	return nil
}

// FilterCallback produces or advances a frame at the given request. It
// is invoked once per activation reason the scheduler delivers, and
// must return (nil, nil) when it needs to defer (having issued further
// upstream requests) rather than complete this call.
type FilterCallback func(ctx *RequestContext) (*frame.Frame, error)

// Node is one filter instance in the graph.
type Node struct {
	core *Core

	name    string
	traceID string

	outputs []OutputInfo
	mode    FilterMode
	flags   NodeFlags

	callback     FilterCallback
	instanceData any

	refcount atomic.Int32

	// serialFrame is the next frame number FMFrameState will admit;
	// frames must be requested in ascending order. Guarded by
	// frameStateMu.
	serialFrame    int64
	frameStateMu   sync.Mutex
	frameStateCond *sync.Cond

	// unorderedMu serializes FMUnordered callback invocations.
	unorderedMu chan struct{} // 1-buffered semaphore

	// nextLinear is the next frame number admitted for a node flagged
	// nfMakeLinear; enforced independently of FilterMode, unlike
	// serialFrame above which only applies to FMFrameState. Guarded by
	// linearMu.
	nextLinear int64
	linearMu   sync.Mutex
	linearCond *sync.Cond

	// inFlight dedups FMParallelRequests callers on the same (frame, reason).
	inFlightMu sync.Mutex
	inFlight   map[inFlightKey]*inFlightCall

	// creationFunction records which plugin function created this
	// node, surfaced for graph inspection.
	creationFunction string

	// IsCompat marks a node produced through the V3 legacy API
	// surface; plugins that have not called Plugin.EnableCompat
	// reject such nodes as arguments.
	IsCompat bool
}

type inFlightKey struct {
	output int
	n      int64
	reason ActivationReason
}

type inFlightCall struct {
	done   chan struct{}
	result *frame.Frame
	err    error
}

func newNode(core *Core, name string, outputs []OutputInfo, mode FilterMode, flags NodeFlags, cb FilterCallback, instanceData any, creationFunction string) (*Node, error) {
	if err := validateFlags(flags); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("framecore: node %q: must declare at least one output", name)
	}
	for i, o := range outputs {
		if err := o.validate(); err != nil {
			return nil, fmt.Errorf("framecore: node %q output %d: %w", name, i, err)
		}
	}

	n := &Node{
		core:             core,
		name:             name,
		traceID:          uuid.NewString(),
		outputs:          outputs,
		mode:             mode,
		flags:            flags,
		callback:         cb,
		instanceData:     instanceData,
		creationFunction: creationFunction,
	}
	n.refcount.Store(1)
	n.frameStateCond = sync.NewCond(&n.frameStateMu)
	n.linearCond = sync.NewCond(&n.linearMu)
	if mode == FMUnordered {
		n.unorderedMu = make(chan struct{}, 1)
		n.unorderedMu <- struct{}{}
	}
	if mode == FMParallelRequests {
		n.inFlight = make(map[inFlightKey]*inFlightCall)
	}
	return n, nil
}

// Name returns the node's diagnostic name (the plugin function it was
// created by, by convention).
func (n *Node) Name() string { return n.name }

// NumOutputs returns the number of output streams the node declares.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// OutputInfo returns the declared OutputInfo for output index.
func (n *Node) OutputInfo(index int) OutputInfo { return n.outputs[index] }

// CreationFunctionName returns the name of the plugin function that
// created this node, supporting graph inspection tooling.
func (n *Node) CreationFunctionName() string { return n.creationFunction }

// AddRef adds one external reference to n and returns n, for a filter
// instance that stores n as an upstream dependency it intends to hold
// for its own lifetime. Pair with Core.ReleaseNode — directly, or via
// UpstreamRefs in instanceData — when that dependency is dropped.
func (n *Node) AddRef() *Node {
	n.refcount.Add(1)
	return n
}

// RefCount returns n's current external reference count, for graph
// inspection.
func (n *Node) RefCount() int32 { return n.refcount.Load() }

func (n *Node) IsVideoNode() {}
func (n *Node) IsAudioNode() {}

// UpstreamRefs is a ready-made Releasable for the common case of a
// filter instance that holds exactly the upstream nodes it AddRef'd at
// construction time. A NodeFactory that does this should store an
// UpstreamRefs value as instanceData so Core.ReleaseNode's deferred
// teardown releases those upstream references automatically.
type UpstreamRefs []*Node

// ReleaseUpstream implements Releasable.
func (u UpstreamRefs) ReleaseUpstream() []*Node { return u }

const maxAudioSamplesBound = frame.MaxAudioSamples
