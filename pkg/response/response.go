package response

import (
	"encoding/json"
	"net/http"
)

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	OK     bool        `json:"ok"`
	Error  ErrorInfo   `json:"error"`
	Fields interface{} `json:"fields,omitempty"`
}

// JSON sends body as a flat JSON object with "ok" set from the status.
// Struct and map bodies have their fields merged next to "ok"; any other
// value is placed under "data".
func JSON(w http.ResponseWriter, status int, body interface{}) {
	out := map[string]json.RawMessage{}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to encode response")
			return
		}
		if json.Unmarshal(raw, &out) != nil {
			out = map[string]json.RawMessage{"data": raw}
		}
	}
	ok := status >= 200 && status < 300
	out["ok"], _ = json.Marshal(ok)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(out)
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, errorBody{Error: ErrorInfo{Code: code, Message: message}})
}

// ValidationFailed sends a 422 response listing the offending fields
func ValidationFailed(w http.ResponseWriter, fields interface{}) {
	write(w, http.StatusUnprocessableEntity, errorBody{
		Error:  ErrorInfo{Code: "VALIDATION_FAILED", Message: "request validation failed"},
		Fields: fields,
	})
}

func write(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// BadRequest sends a 400 response
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unauthorized sends a 401 response
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden sends a 403 response
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message)
}

// NotFound sends a 404 response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(w http.ResponseWriter, message string) {
	Error(w, http.StatusTooManyRequests, "RATE_LIMITED", message)
}

// InternalError sends a 500 response
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// Created sends a 201 response with data
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 response with data
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}
