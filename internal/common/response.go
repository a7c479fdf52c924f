package common

import (
	"encoding/json"
	"net/http"
)

// FailureBody is the uniform failure payload returned by the API.
type FailureBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONFailure renders a failure response using the canonical error shape.
func JSONFailure(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, FailureBody{Success: false, Code: code, Error: message})
}

// JSONAppError renders an AppError (or wraps any other error as internal).
func JSONAppError(w http.ResponseWriter, err error) {
	appErr := AsAppError(err)
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := appErr.Message
	if message == "" {
		message = appErr.Error()
	}
	JSONFailure(w, status, appErr.Code, message)
}
