// Package filestore serves manuscripts, manifests, registry variables and
// approval records from a data directory:
//
//	<dir>/manuscripts/<id>.yaml|.json
//	<dir>/manifests/<id>.yaml|.json
//	<dir>/registry/variables.yaml
//	<dir>/approvals.yaml
//
// Files are read on every call; put a cache in front for repeated lookups.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/claimgate/internal/model"
)

var extensions = []string{".yaml", ".yml", ".json"}

// Store reads collaborator data from a directory
type Store struct {
	dir    string
	schema *jsonschema.Schema
}

// New creates a store rooted at dir
func New(dir string) (*Store, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchema)); err != nil {
		return nil, fmt.Errorf("manifest schema load failed: %w", err)
	}
	compiled, err := c.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("manifest schema compile failed: %w", err)
	}
	return &Store{dir: dir, schema: compiled}, nil
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) GetManuscript(_ context.Context, id string) (*model.Manuscript, error) {
	raw, err := s.readDoc("manuscripts", "manuscript", id)
	if err != nil {
		return nil, err
	}
	var ms model.Manuscript
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, fmt.Errorf("decode manuscript %s: %w", id, err)
	}
	if ms.ID == "" {
		ms.ID = id
	}
	return &ms, nil
}

func (s *Store) GetManifest(_ context.Context, id string) (*model.Manifest, error) {
	raw, err := s.readDoc("manifests", "manifest", id)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest %s failed schema validation: %w", id, err)
	}
	var m model.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	return &m, nil
}

func (s *Store) GetVariable(_ context.Context, id string) (model.Variable, error) {
	var vars []model.Variable
	if err := readYAML(filepath.Join(s.dir, "registry", "variables.yaml"), &vars); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Variable{}, model.NewNotFound("variable", id)
		}
		return model.Variable{}, err
	}
	for _, v := range vars {
		if v.ID == id {
			return v, nil
		}
	}
	return model.Variable{}, model.NewNotFound("variable", id)
}

func (s *Store) GetApprovalStatus(_ context.Context, studyID string) (model.ApprovalStatus, error) {
	var approvals map[string]model.ApprovalStatus
	if err := readYAML(filepath.Join(s.dir, "approvals.yaml"), &approvals); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.ApprovalStatus{}, model.NewNotFound("study", studyID)
		}
		return model.ApprovalStatus{}, err
	}
	status, ok := approvals[studyID]
	if !ok {
		return model.ApprovalStatus{}, model.NewNotFound("study", studyID)
	}
	return status, nil
}

// readDoc finds <dir>/<sub>/<id>.<ext> and returns it as JSON
func (s *Store) readDoc(sub, kind, id string) ([]byte, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, model.NewNotFound(kind, id)
	}
	for _, ext := range extensions {
		path := filepath.Join(s.dir, sub, id+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if ext == ".json" {
			return data, nil
		}
		return yamlToJSON(data)
	}
	return nil, model.NewNotFound(kind, id)
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// yamlToJSON re-encodes a YAML document so every format shares one decoder
// and one schema check
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(normalize(doc))
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}

// normalize turns map[any]any nodes into JSON-encodable maps
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
