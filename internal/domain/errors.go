package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrContextDone  = errors.New("context cancelled")
	ErrLockHeld     = errors.New("lock already held")
	ErrBadSignature = errors.New("bad request signature")
)

// Execution failure kinds. Every guarded call that returns one of these has
// left custody balances exactly as they were before the call.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrOracleUnavailable     = errors.New("oracle unavailable")
	ErrInvalidTolerance      = errors.New("invalid tolerance")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrUnprofitable          = errors.New("unprofitable")
	ErrInsufficientRepayment = errors.New("insufficient repayment")
	ErrUnknownStrategy       = errors.New("unknown strategy")
	ErrLiquidationFailed     = errors.New("liquidation failed")
	ErrSeizeFailed           = errors.New("seize failed")
	ErrExternalCallFailed    = errors.New("external call failed")

	// Operator record validation, raised before any external call.
	ErrInvalidRoute    = errors.New("invalid route")
	ErrInvalidManeuver = errors.New("invalid maneuver")
)

var kinds = []error{
	ErrUnauthorized,
	ErrReentrantCall,
	ErrOracleUnavailable,
	ErrInvalidTolerance,
	ErrSlippageExceeded,
	ErrUnprofitable,
	ErrInsufficientRepayment,
	ErrUnknownStrategy,
	ErrLiquidationFailed,
	ErrSeizeFailed,
	ErrExternalCallFailed,
	ErrInvalidRoute,
	ErrInvalidManeuver,
}

// ExecError carries an execution failure kind together with the identity of
// the venue, facility, feed or protocol that caused it.
type ExecError struct {
	Kind      error
	Component string
	Err       error
}

// Fail builds an ExecError. cause may be nil.
func Fail(kind error, component string, cause error) *ExecError {
	return &ExecError{Kind: kind, Component: component, Err: cause}
}

// Failf builds an ExecError whose cause is a formatted message.
func Failf(kind error, component string, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Component: component, Err: fmt.Errorf(format, args...)}
}

func (e *ExecError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Component != "" {
		b.WriteString(" [")
		b.WriteString(e.Component)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExecError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the stable snake_case name of the most specific execution
// failure kind in err's chain, or "internal" if there is none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var ee *ExecError
	if errors.As(err, &ee) {
		return kindName(ee.Kind)
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return kindName(k)
		}
	}
	return "internal"
}

// ComponentOf returns the component recorded on the outermost ExecError.
func ComponentOf(err error) string {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Component
	}
	return ""
}

// IsExecError reports whether err already carries an execution failure kind.
func IsExecError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}

func kindName(kind error) string {
	return strings.ReplaceAll(kind.Error(), " ", "_")
}
