package homie

import "errors"

// Parse errors. Callers wrap these with the offending payload via
// fmt.Errorf("... %q: %w", ...) and match them with errors.Is; none of
// them is fatal, a failed parse only discards the single update that
// carried the bad value.
var (
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidDatatype  = errors.New("invalid datatype")
	ErrInvalidExtension = errors.New("invalid extension")
	ErrInvalidScalar    = errors.New("invalid scalar value")
	ErrInvalidColor     = errors.New("invalid color value")
)
