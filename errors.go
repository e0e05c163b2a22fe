package blockcache

import "errors"

var (
	// ErrOutOfRange is returned when an offset, length or block number falls
	// outside the device geometry. Requests are rejected before any device
	// I/O is issued.
	ErrOutOfRange = errors.New("address out of range")

	// ErrInternal indicates a violated cache invariant, such as an eviction
	// policy returning an unknown or duplicate victim. It signals a bug in
	// the cache or in a custom policy, not a runtime condition.
	ErrInternal = errors.New("internal consistency error")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache is closed")
)
