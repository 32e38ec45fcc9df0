package executor

import (
	"errors"
	"fmt"
)

// ErrMalformedURL is returned before any I/O when the request URL cannot be built
var ErrMalformedURL = errors.New("malformed URL")

// ResponseFailedError carries an unsuccessful outcome when fail-fast is on
type ResponseFailedError struct {
	Outcome *Outcome
}

func (e *ResponseFailedError) Error() string {
	o := e.Outcome
	reason := o.ErrorMessage()
	switch {
	case reason != "":
	case !o.ChecksPassed():
		reason = "checks failed"
	default:
		reason = fmt.Sprintf("status %d", o.Status())
	}
	return fmt.Sprintf("response failed: %s %s: %s", o.Method(), o.URL(), reason)
}
