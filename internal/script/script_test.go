package script

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("default script invalid: %v", err)
	}
	if s.First().Key != "name" {
		t.Errorf("First().Key = %q, want name", s.First().Key)
	}
}

func TestStepLookup(t *testing.T) {
	s := Default()

	st, err := s.Step("memory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Next != "like" {
		t.Errorf("memory.Next = %q, want like", st.Next)
	}

	_, err = s.Step("nope")
	if !errors.Is(err, ErrUnknownStep) {
		t.Errorf("Step(nope) error = %v, want ErrUnknownStep", err)
	}
}

func TestAccepts(t *testing.T) {
	s := Default()
	for _, d := range []string{"1", "2", "3"} {
		if !s.Accepts(d) {
			t.Errorf("Accepts(%q) = false, want true", d)
		}
	}
	for _, d := range []string{"0", "4", "9", "*", "#", ""} {
		if s.Accepts(d) {
			t.Errorf("Accepts(%q) = true, want false", d)
		}
	}
}

func TestValidateRejectsBrokenScripts(t *testing.T) {
	tests := []struct {
		name  string
		mutil func(s *Script)
	}{
		{"no steps", func(s *Script) { s.Steps = nil }},
		{"no accepted digits", func(s *Script) { s.Menu.Accepted = nil }},
		{"dangling next", func(s *Script) { s.Steps[1].Next = "missing" }},
		{"cycle", func(s *Script) { s.Steps[2].Next = "name" }},
		{"zero duration", func(s *Script) { s.Steps[0].MaxSeconds = 0 }},
		{"duplicate key", func(s *Script) { s.Steps[1].Key = "name" }},
		{"reserved key", func(s *Script) { s.Steps[0].Key = EndKey }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutil(s)
			s.buildIndex()
			if err := s.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	content := `
greeting: Hello.
closing: Bye.
menu:
  prompt: Press 1 to begin.
  invalid: Try again.
  accepted: ["1"]
steps:
  - key: first
    prompt: Say something.
    max_seconds: 30
    finish_key: "#"
    next: second
  - key: second
    prompt: Say more.
    max_seconds: 30
    finish_key: "#"
    next: end
`
	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(s.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(s.Steps))
	}
	if s.First().Key != "first" {
		t.Errorf("First().Key = %q, want first", s.First().Key)
	}
	st, err := s.Step("second")
	if err != nil {
		t.Fatalf("Step(second): %v", err)
	}
	if st.Next != EndKey {
		t.Errorf("second.Next = %q, want %q", st.Next, EndKey)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	content := `
menu:
  prompt: Press 1.
  accepted: ["1"]
steps:
  - key: first
    prompt: Say something.
    max_seconds: 30
    next: missing
`
	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() = nil error, want validation failure")
	}
}
