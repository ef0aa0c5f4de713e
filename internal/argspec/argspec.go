// Package argspec implements the plugin function argument grammar:
// parsing the compact "name:type[:modifier]*;" signature strings
// plugins register functions with, and validating a call's property
// map against the parsed signature.
//
// Grammar, one parameter per semicolon-separated segment:
//
//	name:type;            required scalar
//	name:type:opt;        optional scalar
//	name:type[];           required array, must be non-empty
//	name:type[]:empty;     required array, empty allowed
//	name:type[]:opt;       optional array
//
// Two type-name generations are supported: the legacy ("clip",
// "frame") names used by API version 3 callers, and the current
// ("vnode", "anode", "vframe", "aframe") names. Both map to the same
// Type constants — the generation only affects which spelling
// CanonicalString emits.
package argspec

import (
	"fmt"
	"strings"
)

// Type identifies a parameter's value kind.
type Type int

const (
	TypeInt Type = iota
	TypeFloat
	TypeData
	TypeVideoNode
	TypeAudioNode
	TypeVideoFrame
	TypeAudioFrame
	TypeFunction
)

var currentNames = map[Type]string{
	TypeInt:        "int",
	TypeFloat:      "float",
	TypeData:       "data",
	TypeVideoNode:  "vnode",
	TypeAudioNode:  "anode",
	TypeVideoFrame: "vframe",
	TypeAudioFrame: "aframe",
	TypeFunction:   "func",
}

var legacyNames = map[Type]string{
	TypeInt:        "int",
	TypeFloat:      "float",
	TypeData:       "data",
	TypeVideoNode:  "clip",
	TypeAudioNode:  "clip",
	TypeVideoFrame: "frame",
	TypeAudioFrame: "frame",
	TypeFunction:   "func",
}

var nameToType = func() map[string]Type {
	m := make(map[string]Type)
	for t, n := range currentNames {
		m[n] = t
	}
	for t, n := range legacyNames {
		// The legacy generation has no audio types, so its "clip" and
		// "frame" tokens always resolve to the video types.
		if t == TypeAudioNode || t == TypeAudioFrame {
			continue
		}
		m[n] = t
	}
	return m
}()

// Param is one parsed parameter of a function signature.
type Param struct {
	Name     string
	Type     Type
	Array    bool
	Optional bool
	Empty    bool // array allowed to be empty; meaningless unless Array
}

// Spec is a fully parsed function signature.
type Spec struct {
	Params []Param
}

// IsValidIdentifier reports whether s is a letter followed by any
// number of letters, digits, or underscores — the same rule plugin
// identifiers, namespaces, and function names are held to.
func IsValidIdentifier(s string) bool {
	return isValidIdentifier(s)
}

// isValidIdentifier matches the original runtime's rule: a letter
// followed by any number of letters, digits, or underscores.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_' && i > 0:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Parse parses a signature string into a Spec.
func Parse(signature string) (*Spec, error) {
	spec := &Spec{}
	segments := strings.Split(signature, ";")
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		p, err := parseParam(seg)
		if err != nil {
			return nil, err
		}
		spec.Params = append(spec.Params, p)
	}
	return spec, nil
}

func parseParam(seg string) (Param, error) {
	tokens := strings.Split(seg, ":")
	if len(tokens) < 2 {
		return Param{}, fmt.Errorf("argspec: malformed parameter %q: expected name:type", seg)
	}

	name := tokens[0]
	if !isValidIdentifier(name) {
		return Param{}, fmt.Errorf("argspec: invalid identifier %q", name)
	}

	typeToken := tokens[1]
	array := false
	if strings.HasSuffix(typeToken, "[]") {
		array = true
		typeToken = strings.TrimSuffix(typeToken, "[]")
	}
	typ, ok := nameToType[typeToken]
	if !ok {
		return Param{}, fmt.Errorf("argspec: unknown type %q in parameter %q", typeToken, name)
	}

	p := Param{Name: name, Type: typ, Array: array}
	seen := make(map[string]bool, len(tokens)-2)
	for _, mod := range tokens[2:] {
		if seen[mod] {
			return Param{}, fmt.Errorf("argspec: %q: duplicate modifier %q", name, mod)
		}
		seen[mod] = true
		switch mod {
		case "opt":
			p.Optional = true
		case "empty":
			if !array {
				return Param{}, fmt.Errorf("argspec: %q: empty modifier only valid on array parameters", name)
			}
			p.Empty = true
		default:
			return Param{}, fmt.Errorf("argspec: %q: unknown modifier %q", name, mod)
		}
	}
	return p, nil
}

// CanonicalString re-emits the signature using the requested type-name
// generation (legacy or current). A round trip through Parse and
// CanonicalString with the same generation reproduces an equivalent
// signature string, except that in the legacy generation the audio
// node and frame types are emitted as "clip" and "frame", which parse
// back as the video types.
func (s *Spec) CanonicalString(legacy bool) string {
	names := currentNames
	if legacy {
		names = legacyNames
	}
	var b strings.Builder
	for _, p := range s.Params {
		b.WriteString(p.Name)
		b.WriteByte(':')
		b.WriteString(names[p.Type])
		if p.Array {
			b.WriteString("[]")
		}
		if p.Optional {
			b.WriteString(":opt")
		}
		if p.Empty {
			b.WriteString(":empty")
		}
		b.WriteByte(';')
	}
	return b.String()
}
