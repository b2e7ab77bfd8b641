package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/mod/semver"
)

// metadataSchema validates module metadata.json files before they are
// admitted into the catalog.
const metadataSchema = `{
  "type": "object",
  "required": ["id", "name", "version", "tasks"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "required": {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	compileSchemaOnce sync.Once
	compiledSchema    *jsonschema.Schema
	compileSchemaErr  error
)

func compiledMetadataSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(metadataSchema))
		if err != nil {
			compileSchemaErr = fmt.Errorf("parse metadata schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema://module-metadata.json", doc); err != nil {
			compileSchemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, compileSchemaErr = c.Compile("schema://module-metadata.json")
	})
	return compiledSchema, compileSchemaErr
}

// DirCatalog loads module metadata from a directory tree with one
// subdirectory per module, each containing a metadata.json file.
// The directory is scanned once on construction.
type DirCatalog struct {
	modules map[string]*Module
}

// NewDirCatalog scans dir and returns a catalog over its modules.
// When two directories declare the same module id, the higher semantic
// version wins.
func NewDirCatalog(dir string) (*DirCatalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read modules dir %s: %v", ErrUnavailable, dir, err)
	}

	modules := make(map[string]*Module)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		metaPath := filepath.Join(dir, entry.Name(), "metadata.json")
		if _, err := os.Stat(metaPath); err != nil {
			continue
		}

		m, err := loadModuleMetadata(metaPath)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", entry.Name(), err)
		}

		if existing, ok := modules[m.ID]; ok {
			if semver.Compare(canonicalVersion(m.Version), canonicalVersion(existing.Version)) <= 0 {
				continue
			}
		}
		modules[m.ID] = m
	}

	return &DirCatalog{modules: modules}, nil
}

func loadModuleMetadata(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrUnavailable, err)
	}

	schema, err := compiledMetadataSchema()
	if err != nil {
		return nil, err
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid metadata JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("metadata schema validation: %w", err)
	}

	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// canonicalVersion maps loose versions like "1.2" to the "v1.2" form
// that golang.org/x/mod/semver understands.
func canonicalVersion(v string) string {
	if v == "" {
		return "v0"
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func (c *DirCatalog) Module(moduleID string) (*Module, error) {
	m, ok := c.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	return m, nil
}

func (c *DirCatalog) RequiredTasks(moduleID string) (map[string]struct{}, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return nil, err
	}
	return RequiredTaskSet(m), nil
}

func (c *DirCatalog) Modules() ([]*Module, error) {
	out := make([]*Module, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
