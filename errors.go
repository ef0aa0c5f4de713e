package framecore

import "errors"

var (
	// ErrCoreFreed is returned by Core.GetFrame called after Free.
	// Other Core methods do not check whether the core was freed.
	ErrCoreFreed = errors.New("framecore: core already freed")
	// ErrCoreDoubleFree is returned by a second call to Core.Free.
	ErrCoreDoubleFree = errors.New("framecore: double free of core")
	// ErrUnknownPlugin is returned when a namespace has no registered plugin.
	ErrUnknownPlugin = errors.New("framecore: unknown plugin namespace")
	// ErrPluginExists is returned when registering a plugin whose
	// identifier or namespace is already taken.
	ErrPluginExists = errors.New("framecore: plugin already registered")
	// ErrFunctionExists is returned when registering a function name
	// that already exists on a plugin.
	ErrFunctionExists = errors.New("framecore: function already registered")
	// ErrUnknownFunction is returned when invoking a function name a
	// plugin never registered.
	ErrUnknownFunction = errors.New("framecore: unknown function")
	// ErrPluginReadOnly is returned when registering a function on a
	// plugin that has been sealed with Seal.
	ErrPluginReadOnly = errors.New("framecore: plugin is read-only")
	// ErrInvalidIdentifier is returned when a plugin namespace or
	// function name fails identifier validation. Plugin identifiers
	// are not validated.
	ErrInvalidIdentifier = errors.New("framecore: invalid identifier")
	// ErrCompatNodeRejected is returned when a plugin that has not
	// opted into compat mode receives a V3-compat node as an argument.
	ErrCompatNodeRejected = errors.New("framecore: compat node rejected by non-compat plugin")
	// ErrNodeFlagsInvalid is returned when a Node's flag bitset
	// violates a flag dependency (nfIsCache requires nfNoCache).
	ErrNodeFlagsInvalid = errors.New("framecore: invalid node flags")
	// ErrFilterError is wrapped around a filter callback's own error
	// when it reaches GetFrame.
	ErrFilterError = errors.New("framecore: filter returned an error")
	// ErrGuardCorruption is returned when a returned frame fails its
	// guard-band check.
	ErrGuardCorruption = errors.New("framecore: frame guard band corrupted, memory overrun detected")
	// ErrSchedulerStopped is returned by GetFrame calls made after the
	// scheduler has been stopped.
	ErrSchedulerStopped = errors.New("framecore: scheduler stopped")
	// ErrRequestCancelled is returned when a request's RequestContext
	// was cancelled before the filter produced a result. Upstream work
	// already in flight is allowed to finish; its result is discarded.
	ErrRequestCancelled = errors.New("framecore: request cancelled")
)
