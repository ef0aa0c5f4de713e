// Package propval implements the runtime's typed property map.
//
// A Map is an ordered set of keys, each bound to a homogeneous array
// of exactly one value kind (integers, floats, opaque data, or one of
// five marker-interface handle kinds: video frame, audio frame, video
// node, audio node, and function). Handle kinds are deliberately
// expressed as marker interfaces rather than concrete struct types so
// this package never imports the frame or node packages — the frame
// and node types satisfy these interfaces structurally, which keeps
// the dependency graph acyclic (propval is a leaf package).
//
// Maps are copy-on-write: Clone is O(1) and only the first mutation
// after a clone pays the cost of copying the underlying storage.
package propval

// ValueKind identifies which of a Map key's typed arrays is populated.
type ValueKind int

const (
	// KindUnset marks a key that has never been set (never observed
	// on a stored value — only returned by queries against a missing key).
	KindUnset ValueKind = iota
	KindInt
	KindFloat
	KindData
	KindVideoFrame
	KindAudioFrame
	KindVideoNode
	KindAudioNode
	KindFunction
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindData:
		return "data"
	case KindVideoFrame:
		return "vframe"
	case KindAudioFrame:
		return "aframe"
	case KindVideoNode:
		return "vnode"
	case KindAudioNode:
		return "anode"
	case KindFunction:
		return "function"
	default:
		return "unset"
	}
}

// VideoFrame is satisfied by any value that can be stored under a
// video-frame-typed key. Implemented by internal/frame.Frame.
type VideoFrame interface{ IsVideoFrame() }

// AudioFrame is satisfied by any value that can be stored under an
// audio-frame-typed key. Implemented by internal/frame.Frame.
type AudioFrame interface{ IsAudioFrame() }

// VideoNode is satisfied by any value representing a video-producing
// node. Implemented by the root package's Node.
type VideoNode interface{ IsVideoNode() }

// AudioNode is satisfied by any value representing an audio-producing
// node. Implemented by the root package's Node.
type AudioNode interface{ IsAudioNode() }

// Function is satisfied by any value representing a bound, invokable
// plugin function. Implemented by the root package's BoundFunction.
type Function interface{ IsFunction() }
