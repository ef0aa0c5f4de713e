package framecore

import (
	"fmt"
	"sync"

	"github.com/visiona/framecore/internal/argspec"
	"github.com/visiona/framecore/internal/propval"
)

// NodeFactory builds a Node from a validated argument map. Registered
// against a plugin function via RegisterFunction.
type NodeFactory func(core *Core, args *propval.Map) (*Node, error)

// BoundFunction is a reference to a registered plugin function, bound
// so it can be passed around as a property-map value (a "func"-typed
// argument) and invoked later by whatever filter received it.
type BoundFunction struct {
	plugin *Plugin
	name   string
}

// Bind returns a BoundFunction for name, suitable for storing in a
// property map under a "func"-typed key. Returns ErrUnknownFunction if
// name was never registered.
func (p *Plugin) Bind(name string) (*BoundFunction, error) {
	p.mu.RLock()
	_, ok := p.functions[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q.%s", ErrUnknownFunction, p.namespace, name)
	}
	return &BoundFunction{plugin: p, name: name}, nil
}

// Call invokes the bound function with args, exactly as if
// Plugin.Invoke had been called directly.
func (b *BoundFunction) Call(args *propval.Map) (*Node, error) {
	return b.plugin.Invoke(b.name, args)
}

func (b *BoundFunction) IsFunction() {}

type registeredFunction struct {
	name string
	spec *argspec.Spec
	impl NodeFactory
}

// Plugin is a namespace of registered functions, the unit a filter
// pack registers itself under.
type Plugin struct {
	core *Core

	identifier string
	namespace  string
	fullName   string

	mu        sync.RWMutex
	readOnly  bool
	compat    bool
	functions map[string]*registeredFunction
}

// Namespace returns the plugin's short invocation prefix.
func (p *Plugin) Namespace() string { return p.namespace }

// Identifier returns the plugin's reverse-DNS-style unique identifier.
func (p *Plugin) Identifier() string { return p.identifier }

// EnableCompat opts the plugin into accepting V3-compat nodes as
// arguments. Without this, Invoke rejects any compat node argument.
func (p *Plugin) EnableCompat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compat = true
}

// Seal marks the plugin read-only: further RegisterFunction calls
// fail. Core never seals a plugin on its own; a plugin stays open to
// registration until Seal is called.
func (p *Plugin) Seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readOnly = true
}

// RegisterFunction adds a function to the plugin. signature follows
// the argspec grammar (see internal/argspec's package doc).
func (p *Plugin) RegisterFunction(name, signature string, impl NodeFactory) error {
	if !argspec.IsValidIdentifier(name) {
		return fmt.Errorf("%w: function name %q", ErrInvalidIdentifier, name)
	}

	spec, err := argspec.Parse(signature)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readOnly {
		return fmt.Errorf("%w: plugin %q", ErrPluginReadOnly, p.namespace)
	}
	if _, exists := p.functions[name]; exists {
		return fmt.Errorf("%w: %q.%s", ErrFunctionExists, p.namespace, name)
	}
	p.functions[name] = &registeredFunction{name: name, spec: spec, impl: impl}
	return nil
}

// Invoke validates args against the named function's signature and
// runs its factory. Returns ErrUnknownFunction if name was never
// registered, and ErrCompatNodeRejected if args carries a V3-compat
// node handle and the plugin has not called EnableCompat.
func (p *Plugin) Invoke(name string, args *propval.Map) (*Node, error) {
	p.mu.RLock()
	fn, ok := p.functions[name]
	compat := p.compat
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q.%s", ErrUnknownFunction, p.namespace, name)
	}

	if err := argspec.Validate(fn.spec, args); err != nil {
		return nil, err
	}

	if !compat {
		if err := rejectCompatNodes(fn.spec, args); err != nil {
			return nil, err
		}
	}

	node, err := fn.impl(p.core, args)
	if err != nil {
		return nil, fmt.Errorf("%q.%s: %w", p.namespace, name, err)
	}
	node.creationFunction = p.namespace + "." + name
	return node, nil
}

func rejectCompatNodes(spec *argspec.Spec, args *propval.Map) error {
	for _, param := range spec.Params {
		if param.Type != argspec.TypeVideoNode && param.Type != argspec.TypeAudioNode {
			continue
		}
		n := args.NumElements(param.Name)
		for i := 0; i < n; i++ {
			var node *Node
			if param.Type == argspec.TypeVideoNode {
				vn, err := args.GetVideoNode(param.Name, i)
				if err != nil {
					continue
				}
				node, _ = vn.(*Node)
			} else {
				an, err := args.GetAudioNode(param.Name, i)
				if err != nil {
					continue
				}
				node, _ = an.(*Node)
			}
			if node != nil && node.IsCompat {
				return ErrCompatNodeRejected
			}
		}
	}
	return nil
}
