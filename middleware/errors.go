package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// ErrorBody is the JSON shape of every rejection.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError answers with goGuard.StatusOf(err) and goGuard.ErrorCode(err).
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err, goGuard.StatusOf(err), goGuard.ErrorCode(err))
}

func writeError(w http.ResponseWriter, err error, status int, code string) {
	var locked *goGuard.LockedError
	if errors.As(err, &locked) && !locked.Until.IsZero() {
		secs := int(time.Until(locked.Until).Seconds())
		if secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	msg := http.StatusText(status)
	// Backend details stay in the logs.
	if status != http.StatusServiceUnavailable && status != http.StatusInternalServerError && err != nil {
		msg = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: code, Message: msg})
}
