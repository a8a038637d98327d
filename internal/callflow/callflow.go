// Package callflow decides what a call hears next. It is a stateless state
// machine over a script: every decision is a pure function of the current
// step key and the caller's input, both of which arrive on the webhook
// request itself. No per-call state lives in this process, so concurrent
// calls never contend.
package callflow

import (
	"fmt"

	"github.com/callscribe/callscribe/internal/script"
)

// MenuKey is the pseudo step key for the entry menu, before the first
// recorded question.
const MenuKey = "menu"

// Kind discriminates the variants of Action.
type Kind int

const (
	// KindAsk plays a question prompt and records the answer.
	KindAsk Kind = iota
	// KindReplay re-issues the entry menu after invalid input.
	KindReplay
	// KindEnd plays the closing speech and hangs up.
	KindEnd
)

// Action is the router's decision: ask the next question, replay the menu,
// or end the call. Step is set only for KindAsk.
type Action struct {
	Kind Kind
	Step script.Step
}

// Decide returns the next action for a call currently at currentKey.
//
// At MenuKey the input digit is validated against the script's accepted set:
// a valid digit advances to the first question, anything else replays the
// menu (bounded retry is the gateway's replay loop, not a failure). At a
// question step the input is ignored and the call advances unconditionally
// to the step's configured next key; the terminal marker ends the call.
func Decide(s *script.Script, currentKey, input string) (Action, error) {
	if currentKey == MenuKey {
		if s.Accepts(input) {
			return Action{Kind: KindAsk, Step: s.First()}, nil
		}
		return Action{Kind: KindReplay}, nil
	}

	cur, err := s.Step(currentKey)
	if err != nil {
		return Action{}, fmt.Errorf("deciding next step: %w", err)
	}

	if cur.Next == script.EndKey {
		return Action{Kind: KindEnd}, nil
	}

	next, err := s.Step(cur.Next)
	if err != nil {
		// Unreachable with a validated script; Validate runs at startup.
		return Action{}, fmt.Errorf("deciding next step: %w", err)
	}
	return Action{Kind: KindAsk, Step: next}, nil
}
