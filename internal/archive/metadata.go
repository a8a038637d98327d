package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FlushMetadata rewrites the caller's calldata.yaml to list the caller
// identity plus a relative path for every answer file currently on disk.
// The document is written to a temp file and renamed, so readers never see
// a half-written document, and concurrent flushes for the same caller
// serialize on the per-caller lock.
//
// The caller identity is emitted as a bare plain-style scalar: downstream
// consumers expect a numeric-looking identity like 12345 unquoted, not a
// quoted string and not a YAML integer.
func (a *Archive) FlushMetadata(callerID string) error {
	dir := dirName(callerID)

	l := a.callerLock(dir)
	l.Lock()
	defer l.Unlock()

	doc := &yaml.Node{Kind: yaml.MappingNode}
	addEntry(doc, "number", callerID)
	for _, key := range a.Answers(callerID) {
		addEntry(doc, key+"_file", filepath.Join(dir, key+".wav"))
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", ErrStorage, err)
	}

	callerDir := filepath.Join(a.root, dir)
	if err := os.MkdirAll(callerDir, 0750); err != nil {
		return fmt.Errorf("%w: creating caller directory: %v", ErrStorage, err)
	}

	tmp := filepath.Join(callerDir, "."+MetadataFile+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("%w: writing metadata temp file: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp, filepath.Join(callerDir, MetadataFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: placing metadata document: %v", ErrStorage, err)
	}

	return nil
}

// MetadataPath returns the caller's metadata document path.
func (a *Archive) MetadataPath(callerID string) string {
	return filepath.Join(a.Dir(callerID), MetadataFile)
}

// addEntry appends one key/value pair to a mapping node. Values use plain
// style with no explicit tag, which is what keeps numeric-looking strings
// bare in the output.
func addEntry(m *yaml.Node, key, value string) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Value: value},
	)
}
