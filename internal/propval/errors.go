package propval

import "errors"

var (
	// ErrMapHasError is returned by any getter once SetError has been
	// called on the map; it stays sticky until Clear.
	ErrMapHasError = errors.New("propval: map has sticky error set")
	// ErrKeyNotFound is returned when a getter is called against a
	// key that was never set.
	ErrKeyNotFound = errors.New("propval: key not found")
	// ErrWrongType is returned when a getter's requested kind doesn't
	// match the key's stored kind.
	ErrWrongType = errors.New("propval: value has different type than requested")
	// ErrIndexOutOfRange is returned by indexed getters.
	ErrIndexOutOfRange = errors.New("propval: index out of range")
	// ErrAppendTypeMismatch is returned when appending a value of one
	// kind to an existing key holding a different kind.
	ErrAppendTypeMismatch = errors.New("propval: cannot append value of different type to existing key")
	// ErrMapNotSerializable is returned by MarshalBinary when the map
	// holds any frame/node/function handle, which has no wire form.
	ErrMapNotSerializable = errors.New("propval: map contains non-serializable handle values")
)
