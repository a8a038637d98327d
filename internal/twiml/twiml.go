// Package twiml renders the voice-instruction XML documents consumed by the
// telephony gateway. Documents are only ever produced here, never parsed.
//
// All per-call state (caller identity, current step) is threaded through the
// action and callback URLs embedded in each document, so the server keeps no
// session table: the gateway carries the state back on its next webhook.
package twiml

import (
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/callscribe/callscribe/internal/callflow"
	"github.com/callscribe/callscribe/internal/script"
)

// ContentType is the media type for TwiML responses.
const ContentType = "text/xml"

// DefaultVoice is the gateway voice used for spoken prompts.
const DefaultVoice = "alice"

// Response is the root TwiML document. Verb fields marshal in declaration
// order, which is the order the gateway executes them.
type Response struct {
	XMLName  xml.Name  `xml:"Response"`
	Say      []Say     `xml:",omitempty"`
	Gather   *Gather   `xml:",omitempty"`
	Record   *Record   `xml:",omitempty"`
	Redirect *Redirect `xml:",omitempty"`
	Hangup   *Hangup   `xml:",omitempty"`
}

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather collects keypad digits and posts them to Action.
type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Say       *Say     `xml:",omitempty"`
}

// Record records the caller's answer. Action receives control when the
// recording stops; RecordingStatusCallback is notified asynchronously once
// the finished audio is available for download.
type Record struct {
	XMLName                      xml.Name `xml:"Record"`
	MaxLength                    int      `xml:"maxLength,attr"`
	FinishOnKey                  string   `xml:"finishOnKey,attr,omitempty"`
	PlayBeep                     bool     `xml:"playBeep,attr"`
	Action                       string   `xml:"action,attr"`
	Method                       string   `xml:"method,attr"`
	RecordingStatusCallback      string   `xml:"recordingStatusCallback,attr"`
	RecordingStatusCallbackEvent string   `xml:"recordingStatusCallbackEvent,attr"`
}

// Redirect transfers control to another webhook endpoint.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Renderer builds voice documents for a script. BaseURL is the externally
// reachable server root the gateway calls back to.
type Renderer struct {
	BaseURL string
	Voice   string
}

// NewRenderer creates a renderer for the given public base URL.
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{BaseURL: baseURL, Voice: DefaultVoice}
}

// Welcome renders the incoming-call document: greeting speech plus the entry
// menu gather. A Redirect back to the entry endpoint replays the menu when
// the caller presses nothing.
func (r *Renderer) Welcome(s *script.Script, callerID string) ([]byte, error) {
	doc := &Response{
		Say:      []Say{{Voice: r.Voice, Text: s.Greeting}},
		Gather:   r.menuGather(s, callerID),
		Redirect: &Redirect{Method: "POST", URL: r.entryURL(callerID)},
	}
	return marshal(doc)
}

// Render produces the voice document for a router decision.
func (r *Renderer) Render(s *script.Script, a callflow.Action, callSID, callerID string) ([]byte, error) {
	switch a.Kind {
	case callflow.KindAsk:
		return r.question(a.Step, callSID, callerID)
	case callflow.KindReplay:
		return r.replay(s, callerID)
	case callflow.KindEnd:
		return r.goodbye(s)
	default:
		return nil, fmt.Errorf("unknown action kind %d", a.Kind)
	}
}

// question renders a prompt plus the record directive for one step. The
// Record action points at the next router endpoint so the step chain, not
// server memory, enforces question order.
func (r *Renderer) question(st script.Step, callSID, callerID string) ([]byte, error) {
	doc := &Response{
		Say: []Say{{Voice: r.Voice, Text: st.Prompt}},
		Record: &Record{
			MaxLength:                    st.MaxSeconds,
			FinishOnKey:                  st.FinishKey,
			PlayBeep:                     true,
			Action:                       r.stepURL(st.Key, callerID),
			Method:                       "POST",
			RecordingStatusCallback:      r.recordingCallbackURL(st.Key, callSID, callerID),
			RecordingStatusCallbackEvent: "completed",
		},
	}
	return marshal(doc)
}

// replay renders the invalid-input document: error speech, then the entry
// menu again.
func (r *Renderer) replay(s *script.Script, callerID string) ([]byte, error) {
	doc := &Response{
		Say:      []Say{{Voice: r.Voice, Text: s.Menu.Invalid}},
		Gather:   r.menuGather(s, callerID),
		Redirect: &Redirect{Method: "POST", URL: r.entryURL(callerID)},
	}
	return marshal(doc)
}

// goodbye renders the terminal document: closing speech, then hang up.
func (r *Renderer) goodbye(s *script.Script) ([]byte, error) {
	doc := &Response{
		Say:    []Say{{Voice: r.Voice, Text: s.Closing}},
		Hangup: &Hangup{},
	}
	return marshal(doc)
}

// Failure renders a terminal document that speaks text and hangs up. Error
// paths on the voice surface answer with it: the gateway plays whatever
// document it receives, and a JSON error body surfaces to the caller as a
// platform error tone.
func Failure(text string) []byte {
	body, _ := xml.Marshal(&Response{
		Say:    []Say{{Voice: DefaultVoice, Text: text}},
		Hangup: &Hangup{},
	})
	return append([]byte(xml.Header), body...)
}

func (r *Renderer) menuGather(s *script.Script, callerID string) *Gather {
	return &Gather{
		NumDigits: 1,
		Action:    r.url("/voice/keypress", url.Values{"callerId": {callerID}}),
		Method:    "POST",
		Say:       &Say{Voice: r.Voice, Text: s.Menu.Prompt},
	}
}

func (r *Renderer) entryURL(callerID string) string {
	return r.url("/voice", url.Values{"callerId": {callerID}})
}

// stepURL is the router endpoint for the step that was just answered; the
// router advances from there.
func (r *Renderer) stepURL(stepKey, callerID string) string {
	return r.url("/voice/question/"+url.PathEscape(stepKey), url.Values{"callerId": {callerID}})
}

// recordingCallbackURL is the asynchronous notification endpoint. Step key,
// call identifier, and caller identity travel as query parameters so the
// notification handler needs no session lookup.
func (r *Renderer) recordingCallbackURL(stepKey, callSID, callerID string) string {
	return r.url("/voice/recording-complete", url.Values{
		"question": {stepKey},
		"callSid":  {callSID},
		"callerId": {callerID},
	})
}

func (r *Renderer) url(path string, q url.Values) string {
	return r.BaseURL + path + "?" + q.Encode()
}

func marshal(doc *Response) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling voice document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
