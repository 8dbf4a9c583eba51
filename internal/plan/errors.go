package plan

import (
	"errors"
	"fmt"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/plan/resolve"
)

// Configuration errors. They are returned before any authority call.
var (
	ErrTooFewWaypoints  = errors.New("a connection needs at least two waypoints")
	ErrMixedKinds       = entity.ErrMixedKinds
	ErrUnknownConnector = entity.ErrUnknownConnector
	ErrAmbiguousKind    = resolve.ErrAmbiguousKind
)

// ExhaustedError reports that every candidate and fallback failed for one
// segment. Cause is the last authority error text, translated when opaque.
type ExhaustedError struct {
	Source string
	Target string
	Cause  string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed to connect %s to %s: %s", e.Source, e.Target, e.Cause)
}

// IsConfigError reports whether err was raised while validating a request.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrTooFewWaypoints) ||
		errors.Is(err, ErrMixedKinds) ||
		errors.Is(err, ErrUnknownConnector) ||
		errors.Is(err, ErrAmbiguousKind)
}
