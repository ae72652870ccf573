// Package rangefilter turns the free-text arguments of the events macro into
// a validated date window.
package rangefilter

import (
	"strings"
	"time"

	"groupcal/internal/dateexpr"
	"groupcal/internal/model"
)

const (
	ArgFrom = "from"
	ArgTo   = "to"
	ArgFor  = "for"
)

// Result is the resolved window plus the arguments nobody consumed yet.
type Result struct {
	Range     model.DateRange
	Remaining []string

	// For is the span that produced Range.To when no explicit "to" was given.
	For *dateexpr.Duration
}

// Build extracts from, to and for out of args, applies defaults and validates
// the resulting window against now.
//
// The first argument matching a key wins and is removed from the list; the
// rest is returned in Result.Remaining in original order.
func Build(args []string, now time.Time) (Result, error) {
	remaining := append([]string(nil), args...)

	fromVal, hasFrom, remaining := Take(remaining, ArgFrom)
	toVal, hasTo, remaining := Take(remaining, ArgTo)
	forVal, hasFor, remaining := Take(remaining, ArgFor)

	res := Result{Remaining: remaining}

	fromToken := "today"
	if hasFrom {
		fromToken = fromVal
	}
	if hasFrom && !validValue(fromVal, false) {
		return res, &ArgumentError{Arg: ArgFrom, Value: fromVal, Err: ErrInvalidFrom}
	}
	from, err := dateexpr.Resolve(fromToken, now, dateexpr.StartOfDay)
	if err != nil {
		return res, &ArgumentError{Arg: ArgFrom, Value: fromVal, Err: ErrInvalidFrom}
	}
	res.Range.From = from

	if hasTo {
		if !validValue(toVal, false) {
			return res, &ArgumentError{Arg: ArgTo, Value: toVal, Err: ErrInvalidTo}
		}
		to, err := dateexpr.Resolve(toVal, now, dateexpr.EndOfDay)
		if err != nil {
			return res, &ArgumentError{Arg: ArgTo, Value: toVal, Err: ErrInvalidTo}
		}
		res.Range.To = to
	} else {
		span := dateexpr.DefaultDuration
		if hasFor {
			if !validValue(forVal, true) {
				return res, &ArgumentError{Arg: ArgFor, Value: forVal, Err: ErrInvalidFor}
			}
			span, err = dateexpr.ParseDuration(forVal)
			if err != nil {
				return res, &ArgumentError{Arg: ArgFor, Value: forVal, Err: ErrInvalidFor}
			}
		}
		res.For = &span
		res.Range.To = dateexpr.Apply(from, span)
	}

	if res.Range.From.After(res.Range.To) {
		return res, &ArgumentError{
			Arg:   ArgFrom,
			Value: res.Range.From.Format(time.DateOnly),
			Err:   ErrRangeOrder,
		}
	}
	return res, nil
}

// Take finds the first "key=value" argument for key (case-sensitive, spaces
// around "=" allowed), and returns its value with the argument removed.
func Take(args []string, key string) (string, bool, []string) {
	for i, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		out := make([]string, 0, len(args)-1)
		out = append(out, args[:i]...)
		out = append(out, args[i+1:]...)
		return strings.TrimSpace(v), true, out
	}
	return "", false, args
}

// validValue limits values to word characters, hyphens and slashes; spaces
// are allowed inside the value when spaces is set.
func validValue(v string, spaces bool) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '/':
		case r == ' ' && spaces:
		default:
			return false
		}
	}
	return true
}
