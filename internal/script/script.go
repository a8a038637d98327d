// Package script defines the survey prompt script: an ordered, immutable
// chain of question steps plus an optional entry menu. A script is pure data
// loaded once at startup; the call session router walks it but never
// modifies it.
package script

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EndKey is the next-step marker for the terminal step of a script.
const EndKey = "end"

// ErrUnknownStep is returned when a step key does not exist in the script.
var ErrUnknownStep = errors.New("unknown step")

// Step is one question in the survey. The caller hears Prompt, records an
// answer of at most MaxSeconds, and may stop recording early with FinishKey.
// Next is the key of the following step, or EndKey for the last question.
type Step struct {
	Key        string `yaml:"key"`
	Prompt     string `yaml:"prompt"`
	MaxSeconds int    `yaml:"max_seconds"`
	FinishKey  string `yaml:"finish_key"`
	Next       string `yaml:"next"`
}

// Menu is the entry gate of a script: a single-digit choice the caller must
// make before the first question. Any digit outside Accepted replays the menu.
type Menu struct {
	Prompt   string   `yaml:"prompt"`
	Invalid  string   `yaml:"invalid"`
	Accepted []string `yaml:"accepted"`
}

// Script is the full survey: greeting, entry menu, question chain, and
// closing speech.
type Script struct {
	Greeting string `yaml:"greeting"`
	Closing  string `yaml:"closing"`
	Menu     Menu   `yaml:"menu"`
	Steps    []Step `yaml:"steps"`

	byKey map[string]Step
}

// Default returns the built-in survey script: a three-option entry menu
// followed by four recorded questions.
func Default() *Script {
	s := &Script{
		Greeting: "Welcome. Thank you for calling.",
		Closing:  "Thank you for your answers. Goodbye.",
		Menu: Menu{
			Prompt:   "Press 1 for More Sad. Press 2 for Less Sad. Press 3 for Phone.",
			Invalid:  "Invalid option. Please try again.",
			Accepted: []string{"1", "2", "3"},
		},
		Steps: []Step{
			{Key: "name", Prompt: "After the tone, please say your name. Press pound when you are done.", MaxSeconds: 10, FinishKey: "#", Next: "memory"},
			{Key: "memory", Prompt: "What is your earliest memory of the Internet? Press pound when you are done.", MaxSeconds: 60, FinishKey: "#", Next: "like"},
			{Key: "like", Prompt: "What did you appreciate most about the Internet? Press pound when you are done.", MaxSeconds: 60, FinishKey: "#", Next: "message"},
			{Key: "message", Prompt: "Please leave a final message for the Internet. Press pound when you are done.", MaxSeconds: 60, FinishKey: "#", Next: EndKey},
		},
	}
	s.buildIndex()
	return s
}

// LoadFile reads a script from a YAML file and validates it.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}

	s := &Script{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing script file: %w", err)
	}
	s.buildIndex()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return s, nil
}

func (s *Script) buildIndex() {
	s.byKey = make(map[string]Step, len(s.Steps))
	for _, st := range s.Steps {
		s.byKey[st.Key] = st
	}
}

// First returns the first question step of the script.
func (s *Script) First() Step {
	return s.Steps[0]
}

// Step looks up a step by key. Returns ErrUnknownStep when absent.
func (s *Script) Step(key string) (Step, error) {
	st, ok := s.byKey[key]
	if !ok {
		return Step{}, fmt.Errorf("%w: %q", ErrUnknownStep, key)
	}
	return st, nil
}

// Accepts reports whether the given digit is a valid entry menu choice.
func (s *Script) Accepts(digit string) bool {
	for _, d := range s.Menu.Accepted {
		if d == digit {
			return true
		}
	}
	return false
}

// Validate checks the script for structural integrity at startup:
//   - at least one step, all keys unique and non-empty
//   - every Next resolves to an existing step or EndKey
//   - the chain from the first step reaches EndKey without revisiting a step
//   - positive recording durations
//   - a non-empty accepted digit set for the menu
//
// A script that fails validation must not be served; running with a broken
// chain would strand callers mid-survey.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("script has no steps")
	}
	if len(s.Menu.Accepted) == 0 {
		return errors.New("menu has no accepted digits")
	}

	seen := make(map[string]bool, len(s.Steps))
	for _, st := range s.Steps {
		if st.Key == "" {
			return errors.New("step with empty key")
		}
		if st.Key == EndKey {
			return fmt.Errorf("step key %q is reserved", EndKey)
		}
		if seen[st.Key] {
			return fmt.Errorf("duplicate step key %q", st.Key)
		}
		seen[st.Key] = true

		if st.MaxSeconds <= 0 {
			return fmt.Errorf("step %q: max_seconds must be positive, got %d", st.Key, st.MaxSeconds)
		}
		if st.Next == "" {
			return fmt.Errorf("step %q has no next step", st.Key)
		}
		if st.Next != EndKey {
			if _, ok := s.byKey[st.Next]; !ok {
				return fmt.Errorf("step %q: %w: next step %q", st.Key, ErrUnknownStep, st.Next)
			}
		}
	}

	// Walk the chain from the first step. The walk must terminate at EndKey;
	// revisiting a step means the chain has a cycle.
	visited := make(map[string]bool, len(s.Steps))
	key := s.First().Key
	for key != EndKey {
		if visited[key] {
			return fmt.Errorf("step chain has a cycle at %q", key)
		}
		visited[key] = true
		key = s.byKey[key].Next
	}

	return nil
}
