package framecore_test

import (
	"testing"

	"github.com/visiona/framecore"
	"github.com/visiona/framecore/internal/frame"
	"github.com/visiona/framecore/internal/propval"
)

func sourceOutputs() []framecore.OutputInfo {
	return []framecore.OutputInfo{{Width: 4, Height: 4, FPSNum: 24, FPSDen: 1, NumFrames: 10}}
}

func grayFormat() frame.VideoFormat {
	return frame.VideoFormat{ColorFamily: 1, BitsPerSample: 8, NumPlanes: 1}
}

// Scenario: a source node whose callback produces a frame immediately
// at ArInitial.
// Contract: GetFrame returns that frame without any upstream fan-out.
func TestGetFrameSourcePassthrough(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 2})
	defer core.Free()

	plugin, err := core.RegisterPlugin("com.example.test", "test", "Test")
	if err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}

	err = plugin.RegisterFunction("Source", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return c.NewNode("Source", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				return frame.NewVideoFrame(c.Pool(), grayFormat(), 4, 4, false)
			}, nil)
	})
	if err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}

	node, err := plugin.Invoke("Source", propval.New())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	f, err := core.GetFrame(node, 0, 0)
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if f.Width() != 4 || f.Height() != 4 {
		t.Fatalf("unexpected frame dimensions %dx%d", f.Width(), f.Height())
	}
}

// Scenario: a filter node that defers at ArInitial by requesting a
// single upstream frame, then completes at ArAllFramesReady.
// Contract: the scheduler performs the upstream fan-out and resumes
// the filter with the result available via RequestContext.GetFrame.
func TestGetFrameChainedFilter(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 2})
	defer core.Free()

	plugin, _ := core.RegisterPlugin("com.example.test", "test", "Test")

	_ = plugin.RegisterFunction("Source", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return c.NewNode("Source", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				return frame.NewVideoFrame(c.Pool(), grayFormat(), 4, 4, false)
			}, nil)
	})

	srcPlugin, _ := core.Plugin("test")
	source, err := srcPlugin.Invoke("Source", propval.New())
	if err != nil {
		t.Fatalf("Invoke Source: %v", err)
	}

	_ = plugin.RegisterFunction("Passthrough", "clip:vnode;", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		upstreamHandle, _ := args.GetVideoNode("clip", 0)
		upstream := upstreamHandle.(*framecore.Node)

		return c.NewNode("Passthrough", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
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
	})

	passArgs := propval.New()
	passArgs.SetVideoNode("clip", source)
	pass, err := plugin.Invoke("Passthrough", passArgs)
	if err != nil {
		t.Fatalf("Invoke Passthrough: %v", err)
	}

	f, err := core.GetFrame(pass, 0, 3)
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if f.Width() != 4 {
		t.Fatalf("unexpected frame width %d", f.Width())
	}
}

func TestNodeFlagsValidation(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 1})
	defer core.Free()

	_, err := core.NewNode("bad", sourceOutputs(), framecore.FMParallel, framecore.FlagIsCache,
		func(rc *framecore.RequestContext) (*frame.Frame, error) { return nil, nil }, nil)
	if err == nil {
		t.Fatalf("expected error: FlagIsCache without FlagNoCache")
	}
}

func TestCoreDoubleFreeIsFatal(t *testing.T) {
	fatalCalls := 0
	core := framecore.NewCore(framecore.CoreOptions{
		NumThreads:   1,
		FatalHandler: func() { fatalCalls++ },
	})

	if err := core.Free(); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := core.Free(); err != framecore.ErrCoreDoubleFree {
		t.Fatalf("expected ErrCoreDoubleFree, got %v", err)
	}
	if fatalCalls != 1 {
		t.Fatalf("expected fatal handler invoked once, got %d", fatalCalls)
	}
}

// Scenario: a plugin function accepts a "func"-typed argument (a
// BoundFunction pointing at another registered function) and invokes
// it itself, rather than the caller invoking it directly.
// Contract: Plugin.Bind produces a propval.Function-compatible handle
// that round-trips through a Map and still reaches the right factory.
func TestBoundFunctionArgumentInvokesTarget(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 1})
	defer core.Free()

	plugin, _ := core.RegisterPlugin("com.example.test", "test", "Test")

	_ = plugin.RegisterFunction("MakeSource", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return c.NewNode("MakeSource", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				return frame.NewVideoFrame(c.Pool(), grayFormat(), 4, 4, false)
			}, nil)
	})

	selector, err := plugin.Bind("MakeSource")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	_ = plugin.RegisterFunction("Select", "selector:func;", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		fn, err := args.GetFunction("selector", 0)
		if err != nil {
			return nil, err
		}
		bound, ok := fn.(*framecore.BoundFunction)
		if !ok {
			return nil, framecore.ErrInvalidIdentifier
		}
		return bound.Call(propval.New())
	})

	selectArgs := propval.New()
	selectArgs.SetFunction("selector", selector)
	node, err := plugin.Invoke("Select", selectArgs)
	if err != nil {
		t.Fatalf("Invoke Select: %v", err)
	}

	f, err := core.GetFrame(node, 0, 0)
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if f.Width() != 4 {
		t.Fatalf("unexpected frame width %d", f.Width())
	}
}

func TestBindUnknownFunctionFails(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 1})
	defer core.Free()

	plugin, _ := core.RegisterPlugin("com.example.test", "test", "Test")
	if _, err := plugin.Bind("NoSuchFunction"); err == nil {
		t.Fatalf("expected error binding an unregistered function")
	}
}

// Scenario: a filter's factory AddRef's the upstream node it depends
// on and stores it via UpstreamRefs, while the caller releases its
// own handle to that upstream right after building the filter.
// Contract: the upstream's refcount reflects only the filter's
// reference until the filter itself is released, at which point
// deferred teardown cascades the release through to the upstream.
func TestReleaseNodeCascadesToUpstream(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 1})
	defer core.Free()

	plugin, _ := core.RegisterPlugin("com.example.test", "test", "Test")

	_ = plugin.RegisterFunction("Source", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return c.NewNode("Source", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				return frame.NewVideoFrame(c.Pool(), grayFormat(), 4, 4, false)
			}, nil)
	})
	source, err := plugin.Invoke("Source", propval.New())
	if err != nil {
		t.Fatalf("Invoke Source: %v", err)
	}

	_ = plugin.RegisterFunction("Hold", "clip:vnode;", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		upstreamHandle, _ := args.GetVideoNode("clip", 0)
		upstream := upstreamHandle.(*framecore.Node).AddRef()
		return c.NewNode("Hold", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				return frame.NewVideoFrame(c.Pool(), grayFormat(), 4, 4, false)
			}, framecore.UpstreamRefs{upstream})
	})

	holdArgs := propval.New()
	holdArgs.SetVideoNode("clip", source)
	hold, err := plugin.Invoke("Hold", holdArgs)
	if err != nil {
		t.Fatalf("Invoke Hold: %v", err)
	}

	if got := source.RefCount(); got != 2 {
		t.Fatalf("expected source refcount 2 after Hold's AddRef, got %d", got)
	}

	core.ReleaseNode(source)
	if got := source.RefCount(); got != 1 {
		t.Fatalf("expected source refcount 1 after releasing the caller's own handle, got %d", got)
	}

	core.ReleaseNode(hold)
	if got := source.RefCount(); got != 0 {
		t.Fatalf("expected releasing hold to cascade source's refcount to 0, got %d", got)
	}
}

func TestPluginInvokeRejectsUnknownArgs(t *testing.T) {
	core := framecore.NewCore(framecore.CoreOptions{NumThreads: 1})
	defer core.Free()

	plugin, _ := core.RegisterPlugin("com.example.test", "test", "Test")
	_ = plugin.RegisterFunction("NoArgs", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return c.NewNode("NoArgs", sourceOutputs(), framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) { return nil, nil }, nil)
	})

	args := propval.New()
	args.SetInt("unexpected", 1)
	if _, err := plugin.Invoke("NoArgs", args); err == nil {
		t.Fatalf("expected error for unknown argument")
	}
}
