// Package response writes the JSON envelopes shared by every HTTP handler.
package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope around every JSON body.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Meta describes a list payload.
type Meta struct {
	Total    int    `json:"total"`
	Category string `json:"category,omitempty"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

// JSON writes data inside a success envelope.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Response{Success: ok(status), Data: data})
}

// JSONWithMeta writes a list payload with its metadata.
func JSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	write(w, status, Response{Success: ok(status), Data: data, Meta: meta})
}

// Accepted writes a 202 for work that finishes later.
func Accepted(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusAccepted, data)
}

// Error writes body inside a failure envelope.
func Error(w http.ResponseWriter, status int, body *ErrorBody) {
	if body == nil {
		body = &ErrorBody{Code: "UNKNOWN_ERROR", Message: http.StatusText(status)}
	}
	write(w, status, Response{Error: body})
}

// InternalError writes a 500 with a fixed code.
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, &ErrorBody{Code: "INTERNAL_ERROR", Message: message})
}

// Binary writes raw bytes such as audio or chart images. Recordings never
// change once stored, so clients may cache them.
func Binary(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
