package events

import (
	"errors"
	"fmt"
)

// ErrThrottled is returned by a sink that skipped an event because its
// outbound rate limit was exhausted.
var ErrThrottled = errors.New("events: sink throttled")

type panicError struct {
	sink  string
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("events: sink %s panicked: %v", e.sink, e.value)
}
