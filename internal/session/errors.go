package session

import "errors"

// ErrUnauthenticated matches every "please sign in again" outcome. Callers
// branch on this with errors.Is; the sub-reason is logged server side but
// never exposed, so a hijack suspicion is indistinguishable from a plain
// expired session.
var ErrUnauthenticated = errors.New("session: unauthenticated")

// ErrInfrastructure matches failures of the service itself (store
// unreachable, misconfigured client). These are deliberately distinct from
// ErrUnauthenticated: an outage must never present as a logout.
var ErrInfrastructure = errors.New("session: infrastructure failure")

const (
	reasonNoSession       = "no-session"
	reasonHijackSuspected = "hijack-suspected"
	reasonRestoreFailed   = "restore-failed"
)

type unauthenticatedError struct {
	reason string
}

func (e *unauthenticatedError) Error() string {
	// generic on purpose
	return "please sign in again"
}

func (e *unauthenticatedError) Is(target error) bool {
	return target == ErrUnauthenticated
}

func unauthenticated(reason string) error {
	return &unauthenticatedError{reason: reason}
}

type infrastructureError struct {
	err error
}

func (e *infrastructureError) Error() string {
	return "session service unavailable: " + e.err.Error()
}

func (e *infrastructureError) Unwrap() error {
	return e.err
}

func (e *infrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

func infrastructure(err error) error {
	return &infrastructureError{err: err}
}
