package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/callscribe/callscribe/internal/callflow"
	"github.com/callscribe/callscribe/internal/fetcher"
	"github.com/callscribe/callscribe/internal/ledger"
	"github.com/go-chi/chi/v5"
)

// logEvent records a call lifecycle event. Failures are logged and swallowed:
// the activity log never blocks call handling.
func (s *Server) logEvent(ctx context.Context, callSID, callerID, stepKey, event string) {
	if s.events == nil {
		return
	}
	ev := &ledger.CallEvent{
		CallSID:  callSID,
		CallerID: callerID,
		StepKey:  stepKey,
		Event:    event,
	}
	if err := s.events.Insert(ctx, ev); err != nil {
		slog.Error("failed to record call event", "event", event, "call_sid", callSID, "error", err)
	}
}

// callerIDFromRequest extracts the caller identity. The gateway sends From on
// each webhook POST; replay redirects additionally carry callerId in the
// query string, which wins so the identity stays stable across the call.
func callerIDFromRequest(r *http.Request) string {
	if id := r.URL.Query().Get("callerId"); id != "" {
		return id
	}
	return r.PostFormValue("From")
}

// handleVoiceEntry answers an incoming call: greeting, then the entry menu.
func (s *Server) handleVoiceEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callerID := callerIDFromRequest(r)
	callSID := r.PostFormValue("CallSid")

	s.logEvent(r.Context(), callSID, callerID, "", ledger.EventAnswered)

	doc, err := s.renderer.Welcome(s.script, callerID)
	if err != nil {
		slog.Error("failed to render welcome document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("call answered", "call_sid", callSID, "caller_id", callerID)
	writeTwiML(w, doc)
}

// handleKeypress processes the entry menu digit. A recognized digit starts
// the question chain; anything else replays the menu.
func (s *Server) handleKeypress(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callerID := callerIDFromRequest(r)
	callSID := r.PostFormValue("CallSid")
	digits := r.PostFormValue("Digits")

	action, err := callflow.Decide(s.script, callflow.MenuKey, digits)
	if err != nil {
		slog.Error("menu decision failed", "digits", digits, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch action.Kind {
	case callflow.KindReplay:
		s.logEvent(r.Context(), callSID, callerID, "", ledger.EventInvalidInput)
		slog.Info("invalid menu input", "call_sid", callSID, "digits", digits)
	case callflow.KindAsk:
		s.logEvent(r.Context(), callSID, callerID, action.Step.Key, ledger.EventQuestionAsked)
	}

	doc, err := s.renderer.Render(s.script, action, callSID, callerID)
	if err != nil {
		slog.Error("failed to render voice document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeTwiML(w, doc)
}

// handleQuestion advances the question chain after a step's recording stops.
// The step key in the path is the step that was just answered.
func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	key := chi.URLParam(r, "key")
	callerID := callerIDFromRequest(r)
	callSID := r.PostFormValue("CallSid")

	action, err := callflow.Decide(s.script, key, "")
	if err != nil {
		slog.Warn("unknown question step", "step", key, "call_sid", callSID)
		http.Error(w, "unknown step", http.StatusNotFound)
		return
	}

	switch action.Kind {
	case callflow.KindAsk:
		s.logEvent(r.Context(), callSID, callerID, action.Step.Key, ledger.EventQuestionAsked)
	case callflow.KindEnd:
		s.logEvent(r.Context(), callSID, callerID, "", ledger.EventCompleted)
		slog.Info("call completed", "call_sid", callSID, "caller_id", callerID)
	}

	doc, err := s.renderer.Render(s.script, action, callSID, callerID)
	if err != nil {
		slog.Error("failed to render voice document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeTwiML(w, doc)
}

// handleRecordingComplete processes the asynchronous recording notification:
// download the finished audio from the gateway, archive it, update the
// ledger. A 500 here makes the gateway retry the notification later; the
// processing is idempotent so retries are safe.
func (s *Server) handleRecordingComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	ev := fetcher.Event{
		CallSID:      q.Get("callSid"),
		StepKey:      q.Get("question"),
		CallerID:     q.Get("callerId"),
		RecordingSID: r.PostFormValue("RecordingSid"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
	}
	if ev.CallSID == "" {
		ev.CallSID = r.PostFormValue("CallSid")
	}

	// The step key comes from an unauthenticated request and ends up in a
	// file path. Only script questions are ever asked, so anything else is
	// a forged callback.
	if ev.RecordingURL != "" || ev.RecordingSID != "" {
		if _, err := s.script.Step(ev.StepKey); err != nil {
			slog.Warn("recording notification for unknown step",
				"step", ev.StepKey,
				"call_sid", ev.CallSID,
			)
			http.Error(w, "unknown step", http.StatusNotFound)
			return
		}
	}

	if err := s.fetcher.Handle(r.Context(), ev); err != nil {
		slog.Error("failed to process recording notification",
			"recording_sid", ev.RecordingSID,
			"call_sid", ev.CallSID,
			"step", ev.StepKey,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if ev.RecordingURL != "" && ev.RecordingSID != "" {
		s.logEvent(r.Context(), ev.CallSID, ev.CallerID, ev.StepKey, ledger.EventRecordingStored)
	}

	w.WriteHeader(http.StatusOK)
}

// handleGoodbye renders the terminal document directly. The gateway can be
// pointed here for call teardown paths that bypass the question chain.
func (s *Server) handleGoodbye(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	callerID := callerIDFromRequest(r)
	callSID := r.PostFormValue("CallSid")
	s.logEvent(r.Context(), callSID, callerID, "", ledger.EventCompleted)

	doc, err := s.renderer.Render(s.script, callflow.Action{Kind: callflow.KindEnd}, callSID, callerID)
	if err != nil {
		slog.Error("failed to render goodbye document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeTwiML(w, doc)
}
