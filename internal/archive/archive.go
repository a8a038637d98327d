// Package archive is the durable per-caller store for survey answers. Each
// caller gets one directory named by their sanitized identity, holding one
// WAV file per answered question and a calldata.yaml metadata document
// listing every answer file currently on disk.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/callscribe/callscribe/internal/script"
)

// MetadataFile is the per-caller metadata document filename.
const MetadataFile = "calldata.yaml"

// ErrStorage wraps filesystem failures during answer storage or metadata
// rewriting.
var ErrStorage = errors.New("archive storage")

// Archive stores answer recordings under root, one directory per sanitized
// caller identity. Writers for the same caller serialize on a per-caller
// mutex; writers for different callers never contend.
type Archive struct {
	root   string
	script *script.Script

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an archive rooted at dir for the given script. The root
// directory is created if absent.
func New(dir string, s *script.Script) (*Archive, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: creating archive root: %v", ErrStorage, err)
	}
	return &Archive{
		root:   dir,
		script: s,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the archive root directory.
func (a *Archive) Root() string {
	return a.root
}

// AcceptsStep reports whether stepKey names a script question that answers
// can be stored under.
func (a *Archive) AcceptsStep(stepKey string) bool {
	_, err := a.script.Step(stepKey)
	return err == nil
}

// callerLock returns the mutex guarding one caller's directory, creating it
// on first use.
func (a *Archive) callerLock(dirName string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[dirName]
	if !ok {
		l = &sync.Mutex{}
		a.locks[dirName] = l
	}
	return l
}

// dirName maps a caller identity to its directory name.
func dirName(callerID string) string {
	d := SanitizeCallerID(callerID)
	if d == "" {
		d = "unknown"
	}
	return d
}

// Dir returns the directory path for a caller identity. The directory may
// not exist yet.
func (a *Archive) Dir(callerID string) string {
	return filepath.Join(a.root, dirName(callerID))
}

// FilePath returns the answer file path for one (caller, step) pair.
func (a *Archive) FilePath(callerID, stepKey string) string {
	return filepath.Join(a.Dir(callerID), stepKey+".wav")
}

// Store writes one answer's audio stream to <root>/<caller>/<stepKey>.wav
// and returns the final path. The step key must name a question in the
// script: anything else is rejected before touching the filesystem, since
// the key becomes part of the file path and arrives on an unauthenticated
// webhook. The caller directory is created lazily; a pre-existing directory
// is not an error. The stream is written to a uniquely named temp file and
// renamed into place, so a redelivered notification either repeats the
// whole write or loses the rename race to an identical file — never a torn
// or duplicate answer.
func (a *Archive) Store(callerID, stepKey string, src io.Reader) (string, error) {
	if _, err := a.script.Step(stepKey); err != nil {
		return "", fmt.Errorf("rejecting answer for step %q: %w", stepKey, err)
	}

	dir := a.Dir(callerID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("%w: creating caller directory: %v", ErrStorage, err)
	}

	final := filepath.Join(dir, stepKey+".wav")
	tmp := filepath.Join(dir, "."+stepKey+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file: %v", ErrStorage, err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("%w: writing audio: %v", ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: closing temp file: %v", ErrStorage, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: placing answer file: %v", ErrStorage, err)
	}

	return final, nil
}

// Remove deletes one answer file. Missing files are not an error.
func (a *Archive) Remove(callerID, stepKey string) error {
	if err := os.Remove(a.FilePath(callerID, stepKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing answer file: %v", ErrStorage, err)
	}
	return nil
}

// Callers lists the sanitized caller identities present in the archive.
func (a *Archive) Callers() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading archive root: %v", ErrStorage, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Answers returns the step keys of every answer file currently on disk for
// a caller, in script order.
func (a *Archive) Answers(callerID string) []string {
	var out []string
	for _, st := range a.script.Steps {
		if _, err := os.Stat(a.FilePath(callerID, st.Key)); err == nil {
			out = append(out, st.Key)
		}
	}
	return out
}
