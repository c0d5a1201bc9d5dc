package personalization

import "errors"

// ErrInProgress is returned when another run still holds the key after the
// wait bound.
var ErrInProgress = errors.New("personalization already in progress")
