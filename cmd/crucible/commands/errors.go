package commands

import (
	"errors"
	"fmt"
)

// badInputError marks arguments that failed to parse. main exits with
// a distinct code for these so scripts can tell bad input apart from
// operational failures.
type badInputError struct {
	msg string
}

func (e *badInputError) Error() string { return e.msg }

func badInputf(format string, args ...interface{}) error {
	return &badInputError{msg: fmt.Sprintf(format, args...)}
}

// IsBadInput reports whether err stems from unparseable user input.
func IsBadInput(err error) bool {
	var b *badInputError
	return errors.As(err, &b)
}
