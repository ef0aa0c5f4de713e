// Package framecore is the runtime core of a DAG frame-server
// library: a graph of filter Nodes connected by lazy, asynchronous
// frame requests, scheduled onto a fixed worker pool and backed by a
// reference-counted, copy-on-write frame/plane memory model.
//
// Core Philosophy
//
// Nothing renders until it is asked for. Building a graph (wiring
// Nodes together) does no work; work happens only when GetFrame is
// called on an output Node, which fans a chain of RequestContexts
// out across upstream Nodes and resumes each one's callback as its
// dependencies become ready.
//
// Basic Usage
//
//	core := framecore.NewCore(framecore.CoreOptions{})
//	defer core.Free()
//
//	plugin, _ := core.RegisterPlugin("com.example.std", "std", "Standard filters")
//	plugin.RegisterFunction("Invert", "clip:vnode;", myInvertFilter)
//
//	node, _ := plugin.Invoke("Invert", args)
//	frame, err := core.GetFrame(node, 0, 0)
//
// Thread-Safety
//
// Core, Scheduler, and the plugin registry are safe for concurrent
// use from any number of goroutines. A Node's own callback
// concurrency is governed by its FilterMode — see node.go.
//
// Performance
//
// The scheduler serializes each node's gated FilterModes with a
// mutex+sync.Cond blocking wait/signal pair rather than busy-polling,
// and fans upstream requests for one activation out across one
// goroutine each, while filter callbacks themselves run only inside
// the worker pool's bounded slot count.
package framecore
