package graph

import "errors"

var (
	// ErrIncompatibleSlot is returned when a connection or constant would bind
	// a slot to a value whose kind, axes, dtype or schema it does not accept.
	// It is a configuration error, reported when the lane is wired.
	ErrIncompatibleSlot = errors.New("graph: incompatible slot")

	// ErrCyclicConnection is returned when a connection would make an
	// operator depend on its own output.
	ErrCyclicConnection = errors.New("graph: cyclic connection")

	// ErrSlotAlreadyConnected is returned when binding an input slot that
	// already has an upstream connection or a constant value.
	ErrSlotAlreadyConnected = errors.New("graph: slot already connected")

	// ErrStaleCache is returned when a cache is about to serve a block that
	// overlaps a region dirtied after the block was computed. It indicates a
	// bug in invalidation and is never tolerated silently.
	ErrStaleCache = errors.New("graph: stale cache block")

	// ErrNotReady is returned when requesting a slot whose metadata is not
	// available, usually because a required upstream input is unbound.
	ErrNotReady = errors.New("graph: slot not ready")

	// ErrRegionOutOfBounds is returned when a requested region does not fit
	// the slot's shape.
	ErrRegionOutOfBounds = errors.New("graph: region out of bounds")

	// ErrInvalidValue is returned when an operator produces a value that does
	// not match the metadata of the slot it was computed for.
	ErrInvalidValue = errors.New("graph: invalid value")
)
