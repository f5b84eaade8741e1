package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads policy documents from a YAML file mapping key to document.
// The file is re-read on every Get; callers cache through the policy provider.
//
//	retention_policy:
//	  mode: test
//	  global_daily_cap: 20
type FileSource struct {
	path string
}

// NewFileSource returns a Source for the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Get returns the document for key re-encoded as JSON, or nil if the file has no such key.
func (s *FileSource) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("policy file: %w", err)
	}
	var docs map[string]any
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", s.path, err)
	}
	doc, ok := docs[key]
	if !ok || doc == nil {
		return nil, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: key %s: %w", s.path, key, err)
	}
	return out, nil
}
