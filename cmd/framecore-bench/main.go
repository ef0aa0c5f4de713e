// Command framecore-bench builds a small synthetic filter graph (a
// solid-color source feeding a pixel-inverting filter) and pulls frames
// from it sequentially, to exercise the scheduler and memory pool end
// to end outside of a test binary.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/visiona/framecore"
	"github.com/visiona/framecore/internal/frame"
	"github.com/visiona/framecore/internal/propval"
)

func main() {
	numFrames := flag.Int("frames", 50, "number of frames to pull from the graph")
	flag.Parse()

	core := framecore.NewCore(framecore.CoreOptions{})
	defer core.Free()

	plugin, err := core.RegisterPlugin("com.example.bench", "bench", "Bench Filters")
	if err != nil {
		slog.Error("framecore-bench: registering plugin failed", "err", err)
		os.Exit(1)
	}

	outputs := []framecore.OutputInfo{{Width: 640, Height: 480, FPSNum: 30, FPSDen: 1, NumFrames: *numFrames}}
	videoFormat := frame.VideoFormat{ColorFamily: 1, BitsPerSample: 8, NumPlanes: 1}

	err = plugin.RegisterFunction("SolidSource", "", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		return c.NewNode("SolidSource", outputs, framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				f, err := frame.NewVideoFrame(c.Pool(), videoFormat, 640, 480, false)
				if err != nil {
					return nil, err
				}
				plane := f.WritePtr(0)
				for i := range plane {
					plane[i] = 128
				}
				return f, nil
			}, nil)
	})
	if err != nil {
		slog.Error("framecore-bench: registering SolidSource failed", "err", err)
		os.Exit(1)
	}

	source, err := plugin.Invoke("SolidSource", propval.New())
	if err != nil {
		slog.Error("framecore-bench: invoking SolidSource failed", "err", err)
		os.Exit(1)
	}

	err = plugin.RegisterFunction("Invert", "clip:vnode;", func(c *framecore.Core, args *propval.Map) (*framecore.Node, error) {
		upstreamHandle, _ := args.GetVideoNode("clip", 0)
		upstream := upstreamHandle.(*framecore.Node).AddRef()
		return c.NewNode("Invert", outputs, framecore.FMParallel, framecore.FlagNoCache,
			func(rc *framecore.RequestContext) (*frame.Frame, error) {
				switch rc.Reason() {
				case framecore.ArInitial:
					rc.RequestFrame(upstream, 0, rc.FrameNumber())
					return nil, nil
				case framecore.ArAllFramesReady:
					src := rc.GetFrame(upstream, 0, rc.FrameNumber())
					out := src.Clone()
					src.Release()
					plane := out.WritePtr(0)
					for i := range plane {
						plane[i] = 255 - plane[i]
					}
					return out, nil
				default:
					return nil, nil
				}
			}, framecore.UpstreamRefs{upstream})
	})
	if err != nil {
		slog.Error("framecore-bench: registering Invert failed", "err", err)
		os.Exit(1)
	}

	invertArgs := propval.New()
	invertArgs.SetVideoNode("clip", source)
	output, err := plugin.Invoke("Invert", invertArgs)
	if err != nil {
		slog.Error("framecore-bench: invoking Invert failed", "err", err)
		os.Exit(1)
	}
	// Invert's factory AddRef'd source for itself; this script's own
	// handle to it is no longer needed.
	core.ReleaseNode(source)

	for n := 0; n < *numFrames; n++ {
		f, err := core.GetFrame(output, 0, int64(n))
		if err != nil {
			slog.Error("framecore-bench: GetFrame failed", "frame", n, "err", err)
			os.Exit(1)
		}
		f.Release()
	}

	fmt.Printf("pulled %d frames, pool in use: %d bytes\n", *numFrames, core.Pool().InUse())
	core.ReleaseNode(output)
}
