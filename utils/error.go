package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorStaleExpectedQty is returned when a physical count was opened against
// a ledger quantity that has since moved. Handlers map it to HTTP 409.
var ErrorStaleExpectedQty = errors.New("expected quantity has changed")

// ErrorValidation wraps user-input problems. Handlers map it to HTTP 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(msg string) error { return &ValidationError{Msg: msg} }

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
