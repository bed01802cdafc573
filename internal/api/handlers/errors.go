// Package handlers exposes the statement import over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/api/middleware"
	"github.com/dvloznov/statement-import/internal/domain"
)

// statusFor maps import errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidTransactionState),
		errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownCategory):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeErr writes err with its mapped status. Server errors are logged and
// their detail is not exposed.
func writeErr(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}

// requireUser returns the caller or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "missing "+middleware.UserIDHeader+" header")
	}
	return userID, ok
}
