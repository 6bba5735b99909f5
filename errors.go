package cmdrdata

import "fmt"

// ErrorType classifies the category of a CmdrDataError.
type ErrorType string

const (
	// ErrorTypeConfig indicates a configuration error.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNetwork indicates a network/transport error while delivering
	// usage events.
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTracking indicates a failure in the usage-tracking path.
	ErrorTypeTracking ErrorType = "tracking"
	// ErrorTypeValidation indicates a validation error.
	ErrorTypeValidation ErrorType = "validation"
)

// CmdrDataError is a typed error returned by the cmdrdata package. Errors of
// this type never originate from the wrapped client: upstream call errors are
// always re-raised unchanged.
type CmdrDataError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *CmdrDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cmdrdata %s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("cmdrdata %s error: %s", e.Type, e.Message)
}

func (e *CmdrDataError) Unwrap() error {
	return e.Err
}

func newConfigError(msg string, err error) *CmdrDataError {
	return &CmdrDataError{Type: ErrorTypeConfig, Message: msg, Err: err}
}

func newNetworkError(msg string, err error) *CmdrDataError {
	return &CmdrDataError{Type: ErrorTypeNetwork, Message: msg, Err: err}
}

func newTrackingError(msg string, err error) *CmdrDataError {
	return &CmdrDataError{Type: ErrorTypeTracking, Message: msg, Err: err}
}

func newValidationError(msg string, err error) *CmdrDataError {
	return &CmdrDataError{Type: ErrorTypeValidation, Message: msg, Err: err}
}

// LookupError reports an access to a member that does not exist on the
// proxied target. It is never cached: a member added to a dynamic target
// after a failed lookup is observed on the next access.
type LookupError struct {
	// Target is the type name of the proxied object.
	Target string
	// Member is the requested member name.
	Member string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s has no member %q", e.Target, e.Member)
}
