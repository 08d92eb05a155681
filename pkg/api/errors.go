package api

import (
	"errors"
	"net/http"

	"community/pkg/comments"
)

const (
	msgUnavailable = "service unavailable"
	msgInternal    = "internal server error"
)

var (
	errRouteNotFound    = errors.New("route not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errBadJSON          = errors.New("invalid JSON body")
	errBodyTooLarge     = errors.New("request body too large")
)

// errorStatus maps a service error to the HTTP status and the message the client
// is allowed to see. Unknown errors never leak their text.
func errorStatus(err error) (int, string) {
	var vErr *comments.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.Is(err, errBadJSON):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, comments.ErrNotFound), errors.Is(err, errRouteNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed, err.Error()
	case errors.Is(err, comments.ErrUnavailable):
		return http.StatusServiceUnavailable, msgUnavailable
	}
	return http.StatusInternalServerError, msgInternal
}
