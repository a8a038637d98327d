package middleware

import (
	"net/http"
	"strings"

	"github.com/callscribe/callscribe/internal/twiml"
)

// Spoken notices used when a gateway webhook cannot be served normally.
const (
	spokenErrorNotice = "We are unable to continue this call. Goodbye."
	spokenBusyNotice  = "All lines are busy right now. Please call back later. Goodbye."
)

// voiceRoute reports whether the request targets a gateway webhook. Error
// responses on these routes must be voice documents; anything else surfaces
// to the caller as a platform error tone.
func voiceRoute(r *http.Request) bool {
	return r.URL.Path == "/voice" || strings.HasPrefix(r.URL.Path, "/voice/")
}

// writeSpokenNotice ends the call with a terminal spoken-notice document.
// The status is 200 because the gateway only executes documents on success
// responses.
func writeSpokenNotice(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(twiml.Failure(text)) //nolint:errcheck
}
