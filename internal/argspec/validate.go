package argspec

import (
	"fmt"
	"strings"

	"github.com/visiona/framecore/internal/propval"
)

var typeToKind = map[Type]propval.ValueKind{
	TypeInt:        propval.KindInt,
	TypeFloat:      propval.KindFloat,
	TypeData:       propval.KindData,
	TypeVideoNode:  propval.KindVideoNode,
	TypeAudioNode:  propval.KindAudioNode,
	TypeVideoFrame: propval.KindVideoFrame,
	TypeAudioFrame: propval.KindAudioFrame,
	TypeFunction:   propval.KindFunction,
}

// Validate checks args against spec the way the runtime validates a
// plugin function invocation: every unknown key is collected into a
// single combined error rather than failing on the first one, missing
// required parameters are reported individually, and present
// parameters are checked for type and array-arity agreement.
func Validate(spec *Spec, args *propval.Map) error {
	declared := make(map[string]Param, len(spec.Params))
	for _, p := range spec.Params {
		declared[p.Name] = p
	}

	var unknown []string
	for _, k := range args.Keys() {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("argspec: unknown argument(s): %s", strings.Join(unknown, ", "))
	}

	for _, p := range spec.Params {
		n := args.NumElements(p.Name)
		if n < 0 {
			if !p.Optional {
				return fmt.Errorf("argspec: missing required argument %q", p.Name)
			}
			continue
		}

		wantKind := typeToKind[p.Type]
		if args.KindOf(p.Name) != wantKind {
			return fmt.Errorf("argspec: argument %q: expected type %s, got %s", p.Name, wantKind, args.KindOf(p.Name))
		}

		if !p.Array && n != 1 {
			return fmt.Errorf("argspec: argument %q: expected a single value, got %d", p.Name, n)
		}
		if p.Array && n == 0 && !p.Empty {
			return fmt.Errorf("argspec: argument %q: array must not be empty", p.Name)
		}
	}

	return nil
}
