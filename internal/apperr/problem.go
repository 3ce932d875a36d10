package apperr

import (
	"encoding/json"
	"net/http"
)

// Problem is an error in problem+json format.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WriteProblem writes a problem+json body.
func WriteProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// Write maps err to its kind and writes it. Storage and unknown errors do not
// leak their cause to the client.
func Write(w http.ResponseWriter, err error) {
	status := Status(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		detail = ""
	}
	WriteProblem(w, status, Type(err), Title(err), detail)
}
