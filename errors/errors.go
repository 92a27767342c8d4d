package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrAuthentication = fmt.Errorf("authentication failed")
	ErrInvalidToken   = fmt.Errorf("%w: invalid or expired token", ErrAuthentication)
	ErrUnknownUser    = fmt.Errorf("unknown user")

	ErrValidation   = fmt.Errorf("validation failed")
	ErrSelfMessage  = fmt.Errorf("%w: sender and receiver must differ", ErrValidation)
	ErrUnknownEvent = fmt.Errorf("%w: unknown event", ErrValidation)
	ErrInvalidFrame = fmt.Errorf("%w: malformed frame", ErrValidation)
	ErrBlockedWords = fmt.Errorf("%w: message contains blocked words", ErrValidation)

	ErrPersistence     = fmt.Errorf("persistence failed")
	ErrMessageNotFound = fmt.Errorf("message not found")
	ErrInvalidCursor   = fmt.Errorf("%w: invalid cursor", ErrValidation)

	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrSlowConsumer     = fmt.Errorf("slow consumer")
	ErrGatewayClosed    = fmt.Errorf("gateway is shutting down")
)

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// MapToHTTPStatus converts the error taxonomy into the status code of the REST surface.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrAuthentication), Is(err, ErrUnknownUser):
		return http.StatusUnauthorized
	case Is(err, ErrValidation):
		return http.StatusBadRequest
	case Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case Is(err, ErrGatewayClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text a client may see for err. Persistence and
// unexpected failures collapse into a generic message.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrValidation), Is(err, ErrAuthentication), Is(err, ErrMessageNotFound):
		return err.Error()
	case Is(err, ErrPersistence):
		return "failed to send message"
	default:
		return "internal error"
	}
}
