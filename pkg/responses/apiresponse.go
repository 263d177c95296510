package responses

import (
	"errors"
	"net/http"

	"github.com/kiliantyler/kil.dev-sub000/game"
)

// APIError interface for custom API errors
type APIError interface {
	Error() string
	StatusCode() int
}

type BadRequestError struct {
	Msg  string
	Code string
}

func (e BadRequestError) Error() string {
	return e.Msg
}

func (BadRequestError) StatusCode() int {
	return http.StatusBadRequest
}

func (e BadRequestError) ErrorCode() string {
	return e.Code
}

type UnauthorizedError struct {
	Msg string
}

func (e UnauthorizedError) Error() string {
	return e.Msg
}

func (UnauthorizedError) StatusCode() int {
	return http.StatusUnauthorized
}

type NotFoundError struct {
	Msg string
}

func (e NotFoundError) Error() string {
	return e.Msg
}

func (NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

type TooManyRequestsError struct {
	Msg string
}

func (e TooManyRequestsError) Error() string {
	return e.Msg
}

func (TooManyRequestsError) StatusCode() int {
	return http.StatusTooManyRequests
}

func (TooManyRequestsError) ErrorCode() string {
	return game.Code(game.ErrRateLimited)
}

type InternalServerError struct {
	Msg string
}

func (e InternalServerError) Error() string {
	return e.Msg
}

func (InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}

// FromError maps a service error onto an APIError. Unexpected errors only
// expose their text when debug is set.
func FromError(err error, debug bool) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case game.IsValidationError(err):
		return BadRequestError{Msg: err.Error(), Code: game.Code(err)}
	case errors.Is(err, game.ErrRateLimited):
		return TooManyRequestsError{Msg: err.Error()}
	case debug:
		return InternalServerError{Msg: err.Error()}
	default:
		return InternalServerError{Msg: "Internal server error"}
	}
}
