package client

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind classifies a failed function call by its HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
)

func (k Kind) String() string {
	if k == KindBadRequest {
		return "bad_request"
	}
	return "internal"
}

// Error is returned for any non-2xx function response.
type Error struct {
	Status  int
	Kind    Kind
	Message string
	// Detail is the message the function sent back, if any.
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

// statusError maps status to an *Error, or nil for success codes.
func statusError(status int, body []byte) error {
	var err *Error
	switch {
	case status >= http.StatusInternalServerError:
		err = &Error{Status: status, Kind: KindInternal, Message: "Internal Server Error"}
	case status >= http.StatusBadRequest:
		err = &Error{Status: status, Kind: KindBadRequest, Message: "Bad Request"}
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		err = &Error{Status: status, Kind: KindInternal, Message: fmt.Sprintf("unexpected status %d", status)}
	default:
		return nil
	}
	err.Detail = detail(body)
	return err
}

// detail unwraps a JSON string body and falls back to the raw text.
func detail(body []byte) string {
	var msg string
	if err := sonic.Unmarshal(body, &msg); err == nil {
		return msg
	}
	return strings.TrimSpace(string(body))
}
