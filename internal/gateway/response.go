// Package gateway implements the Gateway (C9): the HTTP + WebSocket
// surface spec.md §4.9 exposes over the Contract Registry, Document
// Store, and Trigger Router.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/triggr/node/internal/apierr"
)

// envelope is the success response shape from spec.md §6:
// {data, status, message?, timestamp}.
type envelope struct {
	Data      interface{} `json:"data,omitempty"`
	Status    int         `json:"status"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// errorEnvelope is the failure response shape: {code, message, details?, timestamp}.
type errorEnvelope struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Data: data, Status: status, Timestamp: now()})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Status: status, Message: message, Timestamp: now()})
}

func writeError(w http.ResponseWriter, err error) {
	svcErr, ok := apierr.As(err)
	if !ok {
		svcErr = apierr.Wrap(apierr.CodeInternal, "internal error", err)
	}
	writeJSON(w, svcErr.HTTPStatus(), errorEnvelope{
		Code:      string(svcErr.Code),
		Message:   svcErr.Message,
		Details:   svcErr.Details,
		Timestamp: now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
