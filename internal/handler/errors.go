package handler

import (
	"errors"
	"net/http"

	"github.com/costory/costory/internal/agent/runner"
	"github.com/costory/costory/internal/db"
	"github.com/costory/costory/internal/httputil"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/quota"
)

// StatusOf maps a logic error onto an HTTP status.
func StatusOf(err error) int {
	switch quota.KindOf(err) {
	case quota.KindQuotaExceeded:
		return http.StatusForbidden
	case quota.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case quota.KindNotFound:
		return http.StatusNotFound
	}
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error writes err with its mapped status. Internal errors are logged and
// hidden from the caller.
func Error(w http.ResponseWriter, err error) {
	code := StatusOf(err)
	if code == http.StatusInternalServerError {
		logging.Errorf("[HTTP] %v", err)
		httputil.InternalError(w, "")
		return
	}
	httputil.ErrorWithCode(w, code, err.Error())
}
