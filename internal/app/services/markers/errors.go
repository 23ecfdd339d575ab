package markers

import (
	"errors"

	"github.com/inecat/mapads/internal/app/storage"
)

var (
	// ErrDuplicateKey is returned when a marker key is already taken.
	ErrDuplicateKey = storage.ErrDuplicateKey
	// ErrNotFound is returned when no marker exists under the given key.
	ErrNotFound = storage.ErrNotFound
	// ErrNotOwner is returned when the requester neither owns the marker nor
	// holds the admin capability.
	ErrNotOwner = errors.New("not the marker owner")
	// ErrWrongState is returned when a transition is requested from a status
	// that does not permit it.
	ErrWrongState = errors.New("marker is in the wrong state")
	// ErrInsufficientFunds is returned when the requester cannot cover a fee.
	// No side effect has happened when this is returned.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrChannelUnavailable is returned when the approval channel cannot take
	// a submission. The creation fee has been returned when this is seen.
	ErrChannelUnavailable = errors.New("approval channel unavailable")
)
