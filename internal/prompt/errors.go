package prompt

import (
	"errors"
	"fmt"
)

// Sentinel errors for the request-failure categories.
var (
	// ErrValidation - malformed conversation or function definition
	ErrValidation = errors.New("validation error")

	// ErrConfiguration - incompatible option combination
	ErrConfiguration = errors.New("configuration error")

	// ErrTemplateRender - the template referenced a missing field
	ErrTemplateRender = errors.New("template render error")
)

// Error is a request failure of one of the categories above. Errors.Is
// matches it against its category sentinel.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func configurationf(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Configurationf reports an unsupported option combination found outside
// this package, such as an unknown tool_choice value.
func Configurationf(format string, args ...any) error {
	return configurationf(format, args...)
}

// Validationf reports a malformed request found outside this package.
func Validationf(format string, args ...any) error {
	return validationf(format, args...)
}
