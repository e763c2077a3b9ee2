package ecs

import "errors"

// Every failure in this package is an ordinary value; none of them leave
// the arena or hierarchy in a partially updated state.
var (
	ErrStaleHandle        = errors.New("handle does not resolve to a live object")
	ErrNilID              = errors.New("unique id is nil")
	ErrDuplicateID        = errors.New("unique id already in use")
	ErrSelfParent         = errors.New("node cannot be its own parent")
	ErrAlreadyParented    = errors.New("node already has a parent")
	ErrCycle              = errors.New("attach would create a cycle")
	ErrDepthExceeded      = errors.New("hierarchy depth limit exceeded")
	ErrNotAttached        = errors.New("node has no parent")
	ErrDuplicateComponent = errors.New("component type already present on node")
	ErrComponentNotFound  = errors.New("component type not present on node")
	ErrUnregisteredType   = errors.New("type has no registered storage")
	ErrAlreadyRegistered  = errors.New("storage already registered for type")
	ErrPhaseSignature     = errors.New("phase binding has the wrong signature")
	ErrMirrored           = errors.New("node is mirrored; mutate it through its logical graph")
	ErrMirrorBound        = errors.New("world already has a mirror link")
	ErrZeroType           = errors.New("type id is zero")
	ErrNodeDestroying     = errors.New("node is being destroyed")
)
