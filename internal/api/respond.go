package api

import (
	"encoding/json"
	"net/http"

	"donor-matching/internal/common/errors"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error envelope. Internal errors never expose their
// details.
func writeError(w http.ResponseWriter, err error) {
	std := errors.Normalize(err)
	body := errorBody{
		Code:      string(std.Code),
		Message:   std.Message,
		Details:   std.Details,
		Retryable: std.Retryable,
	}
	if std.Code == errors.ErrCodeInternal {
		body.Details = ""
	}
	writeJSON(w, errors.HTTPStatus(std.Code), map[string]interface{}{"error": body})
}
