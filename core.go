package framecore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/visiona/framecore/internal/argspec"
	"github.com/visiona/framecore/internal/diagnostics"
	"github.com/visiona/framecore/internal/frame"
	"github.com/visiona/framecore/internal/membuf"
)

// Severity classifies a diagnostic message routed through
// Core.LogMessage.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	// SeverityFatal terminates the process after the message is
	// logged, matching the reference runtime's vsFatal contract: a
	// fatal message means the graph state is no longer trustworthy.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MessageHandler receives every message logged through Core.LogMessage,
// in addition to the structured slog sink.
type MessageHandler func(severity Severity, message string)

// CoreOptions configures a new Core. All fields are optional.
type CoreOptions struct {
	// NumThreads bounds concurrent filter callback execution. Defaults
	// to runtime.NumCPU().
	NumThreads int
	// MemoryLimitBytes overrides the memory pool's default budget.
	MemoryLimitBytes int64
	// Logger overrides the slog logger used for ambient diagnostics.
	// Defaults to slog.Default().
	Logger *slog.Logger
	// FatalHandler overrides what SeverityFatal does after logging.
	// Defaults to os.Exit(1). Tests inject a panic-based handler so
	// fatal paths are exercised without killing the test binary.
	FatalHandler func()
	// DiagnosticLogFile, if set, mirrors every log record to a
	// lumberjack-rotated file in addition to Logger's own handler.
	DiagnosticLogFile diagnostics.FileSinkOptions
	// EnableDiagnosticLogFile turns on DiagnosticLogFile; kept
	// separate from a zero-value Path check so an explicit opt-in is
	// required before framecore touches the filesystem.
	EnableDiagnosticLogFile bool
}

// Core owns the memory pool, scheduler, plugin registry, and message
// handlers for one frame-server instance.
type Core struct {
	pool      *membuf.Pool
	scheduler *Scheduler
	logger    *slog.Logger
	fatal     func()

	pluginsMu           sync.RWMutex
	pluginsByNamespace  map[string]*Plugin
	pluginsByIdentifier map[string]*Plugin

	handlersMu sync.Mutex
	handlers   []MessageHandler

	teardown teardownState

	reqOrder atomic.Uint64

	// outputOrders holds one sequence/heap pair per (node, output) that
	// has ever received a lockOnOutput RequestFrameAsync call, so that
	// pair's completions can be serialized in submission order.
	outputOrdersMu sync.Mutex
	outputOrders   map[outputKey]*outputOrder

	// asyncWG tracks in-flight RequestFrameAsync goroutines so Free can
	// wait for them to finish delivering before the pool is closed out
	// from under them.
	asyncWG sync.WaitGroup

	freedMu sync.Mutex
	freed   bool
}

type teardownState struct {
	mu    sync.Mutex
	depth int
	list  []*Node
}

// Releasable is implemented by a Node's instanceData when the filter
// itself holds strong references to other nodes that must be released
// in turn once this node is torn down.
type Releasable interface {
	ReleaseUpstream() []*Node
}

// NewCore constructs a Core. The scheduler and memory pool are started
// immediately; there is no separate Start step.
func NewCore(opts CoreOptions) *Core {
	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EnableDiagnosticLogFile {
		fileSink := diagnostics.NewFileSink(opts.DiagnosticLogFile)
		logger = slog.New(diagnostics.NewFanOut(logger.Handler(), fileSink))
	}

	fatal := opts.FatalHandler
	if fatal == nil {
		fatal = func() { os.Exit(1) }
	}

	pool := membuf.NewPool()
	if opts.MemoryLimitBytes > 0 {
		pool.SetLimit(opts.MemoryLimitBytes)
	}

	c := &Core{
		pool:                pool,
		scheduler:           NewScheduler(numThreads),
		logger:              logger,
		fatal:               fatal,
		pluginsByNamespace:  make(map[string]*Plugin),
		pluginsByIdentifier: make(map[string]*Plugin),
		outputOrders:        make(map[outputKey]*outputOrder),
	}
	c.scheduler.bindCore(c)
	c.scheduler.Start(context.Background())
	c.logger.Info("framecore: core initialized", "threads", numThreads, "memoryLimit", pool.Limit())
	return c
}

// Pool returns the core's memory pool, for filters that need to
// allocate plane storage directly.
func (c *Core) Pool() *membuf.Pool { return c.pool }

// RegisterPlugin creates and registers a new plugin. identifier should
// be a reverse-DNS-style unique string (e.g. "com.example.std");
// namespace is the short prefix scripts invoke functions through.
func (c *Core) RegisterPlugin(identifier, namespace, fullName string) (*Plugin, error) {
	if !argspec.IsValidIdentifier(namespace) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidIdentifier, namespace)
	}

	c.pluginsMu.Lock()
	defer c.pluginsMu.Unlock()

	if _, exists := c.pluginsByIdentifier[identifier]; exists {
		return nil, fmt.Errorf("%w: identifier %q", ErrPluginExists, identifier)
	}
	if _, exists := c.pluginsByNamespace[namespace]; exists {
		return nil, fmt.Errorf("%w: namespace %q", ErrPluginExists, namespace)
	}

	p := &Plugin{
		core:       c,
		identifier: identifier,
		namespace:  namespace,
		fullName:   fullName,
		functions:  make(map[string]*registeredFunction),
	}
	c.pluginsByIdentifier[identifier] = p
	c.pluginsByNamespace[namespace] = p
	c.logger.Debug("framecore: plugin registered", "identifier", identifier, "namespace", namespace)
	return p, nil
}

// Plugin looks up a registered plugin by its invocation namespace.
func (c *Core) Plugin(namespace string) (*Plugin, error) {
	c.pluginsMu.RLock()
	defer c.pluginsMu.RUnlock()
	p, ok := c.pluginsByNamespace[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, namespace)
	}
	return p, nil
}

// NewNode constructs a Node owned by this core. Used by NodeFactory
// implementations registered via Plugin.RegisterFunction.
func (c *Core) NewNode(name string, outputs []OutputInfo, mode FilterMode, flags NodeFlags, cb FilterCallback, instanceData any) (*Node, error) {
	return newNode(c, name, outputs, mode, flags, cb, instanceData, "")
}

// GetFrame evaluates node's output at the given output index and
// frame/sample number, running the full activation-reason protocol
// across however many upstream fan-outs the filter chain requires.
func (c *Core) GetFrame(node *Node, output int, n int64) (*frame.Frame, error) {
	if c.isFreed() {
		return nil, ErrCoreFreed
	}
	order := c.reqOrder.Add(1)
	rc := newRequestContext(node, output, n, nil, order)
	return c.scheduler.RunRequest(node, rc)
}

// ReserveThread grants the calling filter callback an extra concurrent
// scheduler slot ahead of a call it expects to block on, so the rest
// of the pool keeps dispatching other nodes' requests while this one
// waits. Must be paired with a deferred ReleaseThread call from the
// same callback invocation.
func (c *Core) ReserveThread() { c.scheduler.ReserveThread() }

// ReleaseThread gives back the slot reserved with ReserveThread.
func (c *Core) ReleaseThread() { c.scheduler.ReleaseThread() }

// AddMessageHandler registers a handler invoked on every LogMessage
// call, in addition to the slog sink.
func (c *Core) AddMessageHandler(h MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

// LogMessage routes a diagnostic message to every registered handler
// and the slog sink. SeverityFatal additionally invokes the core's
// fatal handler (os.Exit(1) by default) after logging.
func (c *Core) LogMessage(severity Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	c.handlersMu.Lock()
	for _, h := range c.handlers {
		h(severity, msg)
	}
	c.handlersMu.Unlock()

	switch severity {
	case SeverityDebug:
		c.logger.Debug("framecore: " + msg)
	case SeverityInfo:
		c.logger.Info("framecore: " + msg)
	case SeverityWarning:
		c.logger.Warn("framecore: " + msg)
	case SeverityError:
		c.logger.Error("framecore: " + msg)
	case SeverityFatal:
		c.logger.Error("framecore: fatal: "+msg, "fatal", true)
		c.fatal()
	}
}

// ReleaseNode decrements n's refcount, and once it reaches zero, tears
// the node down. Teardown is flattened into an iterative drain of a
// shared pending list rather than recursing through ReleaseUpstream
// chains directly, so releasing a long filter chain does not grow the
// call stack with it.
func (c *Core) ReleaseNode(n *Node) {
	if n.refcount.Add(-1) > 0 {
		return
	}

	c.teardown.mu.Lock()
	c.teardown.depth++
	reentrant := c.teardown.depth > 1
	c.teardown.list = append(c.teardown.list, n)
	c.teardown.mu.Unlock()

	if reentrant {
		// An outer ReleaseNode call is already draining the list;
		// this node has been queued onto it and will be processed
		// there.
		return
	}

	for {
		c.teardown.mu.Lock()
		if len(c.teardown.list) == 0 {
			c.teardown.depth = 0
			c.teardown.mu.Unlock()
			return
		}
		next := c.teardown.list[0]
		c.teardown.list = c.teardown.list[1:]
		c.teardown.mu.Unlock()

		c.teardownOne(next)
	}
}

func (c *Core) teardownOne(n *Node) {
	if r, ok := n.instanceData.(Releasable); ok {
		for _, up := range r.ReleaseUpstream() {
			c.ReleaseNode(up)
		}
	}
	c.logger.Debug("framecore: node torn down", "node", n.name)
}

func (c *Core) isFreed() bool {
	c.freedMu.Lock()
	defer c.freedMu.Unlock()
	return c.freed
}

// Free shuts the core down: stops the scheduler, warns about any
// resources still checked out, and releases the memory pool. Free is
// not idempotent — a second call logs ErrCoreDoubleFree as a fatal
// message, matching the reference runtime's explicit double-free
// guard.
func (c *Core) Free() error {
	c.freedMu.Lock()
	if c.freed {
		c.freedMu.Unlock()
		c.LogMessage(SeverityFatal, "double free of core")
		return ErrCoreDoubleFree
	}
	c.freed = true
	c.freedMu.Unlock()

	c.scheduler.Stop()
	c.asyncWG.Wait()

	if inUse := c.pool.InUse(); inUse > 0 {
		c.logger.Warn("framecore: core freed with outstanding pool usage", "bytesInUse", inUse)
	}
	c.pool.Close()

	c.logger.Info("framecore: core freed")
	return nil
}
