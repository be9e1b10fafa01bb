package pool

import (
	"errors"
	"fmt"

	"github.com/hicpool/pool-engine/internal/access"
)

// Every rejected operation returns one of these (wrapped); a rejected
// operation leaves the pool state untouched.
var (
	ErrValidation     = errors.New("pool: invalid input")
	ErrStateConflict  = errors.New("pool: operation invalid in current state")
	ErrUnauthorized   = access.ErrUnauthorized
	ErrNotFound       = errors.New("pool: not found")
	ErrNotDue         = errors.New("pool: not yet due")
	ErrNotInitialised = errors.New("pool: ecosystem not initialised")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func notFound(kind string, h fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, h)
}

// refusal is returned by credit handlers that reject a payment on business
// grounds. The bank turns it into a failed credit followed by a refund
// instead of rejecting the whole call. Handlers return it before mutating.
type refusal struct {
	reason string
}

func (r *refusal) Error() string { return "refused: " + r.reason }

func refuse(format string, args ...any) error {
	return &refusal{reason: fmt.Sprintf(format, args...)}
}
