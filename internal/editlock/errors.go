package editlock

import "errors"

var (
	// ErrInvalidEntityType is returned for an entity type outside the closed set.
	ErrInvalidEntityType = errors.New("invalid entity type")
	// ErrInvalidEntityID is returned for an empty or oversized entity id.
	ErrInvalidEntityID = errors.New("invalid entity id")
	// ErrUnauthenticated is returned when the caller or its organization is unknown.
	ErrUnauthenticated = errors.New("caller identity required")
	// ErrClaimConflict is returned by a Store when a claim lost to a lock that
	// disappeared before it could be read back. The Manager retries it.
	ErrClaimConflict = errors.New("lock claim conflict")
)
