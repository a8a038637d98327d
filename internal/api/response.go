package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/callscribe/callscribe/internal/twiml"
)

// envelope wraps every admin API payload as { "data": ..., "error": ... }.
// Voice webhook responses are XML documents and bypass it entirely.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("encoding api response", "error", err)
	}
}

// writeTwiML answers a gateway webhook with a rendered voice document.
func writeTwiML(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		slog.Error("writing voice document", "error", err)
	}
}
