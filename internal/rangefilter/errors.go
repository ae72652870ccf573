package rangefilter

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFrom = errors.New("invalid from date")
	ErrInvalidTo   = errors.New("invalid to date")
	ErrInvalidFor  = errors.New("invalid duration")
	ErrRangeOrder  = errors.New("from date is after to date")
)

// ArgumentError reports a macro argument that was supplied but cannot be used.
// Its message is meant to be shown to the page author as-is.
type ArgumentError struct {
	Arg   string
	Value string
	Err   error
}

func (e *ArgumentError) Error() string {
	switch {
	case errors.Is(e.Err, ErrRangeOrder):
		return fmt.Sprintf("Invalid date range: 'from' (%s) must not be after 'to'.", e.Value)
	case errors.Is(e.Err, ErrInvalidFor):
		return fmt.Sprintf("Invalid 'for' value %q. Use a number followed by days, weeks, months or years.", e.Value)
	default:
		return fmt.Sprintf("Invalid '%s' date %q. Use YYYY-MM-DD, today, yesterday or tomorrow.", e.Arg, e.Value)
	}
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
