package normalize

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CERT-Polska/n6-sub011/errors"
)

// fieldSpec is the YAML form of one field mapping.
type fieldSpec struct {
	Column    int            `yaml:"column,omitempty"`
	Key       string         `yaml:"key,omitempty"`
	Target    string         `yaml:"target"`
	Required  bool           `yaml:"required,omitempty"`
	Adjusters []AdjusterSpec `yaml:"adjusters,omitempty"`
}

// schemaSpec is the YAML form of one schema version.
type schemaSpec struct {
	Source        string            `yaml:"source"`
	FormatVersion string            `yaml:"format_version"`
	ContentType   string            `yaml:"content_type"`
	FieldSep      string            `yaml:"field_sep,omitempty"`
	CommentPrefix string            `yaml:"comment_prefix,omitempty"`
	MinColumns    int               `yaml:"min_columns,omitempty"`
	RowPolicy     RowPolicy         `yaml:"row_policy,omitempty"`
	TimeLayout    string            `yaml:"time_layout,omitempty"`
	Timezone      string            `yaml:"timezone,omitempty"`
	ExpiresOffset time.Duration     `yaml:"expires_offset,omitempty"`
	Constants     map[string]string `yaml:"constants,omitempty"`
	Fields        []fieldSpec       `yaml:"fields"`
	FanOut        *FanOut           `yaml:"fan_out,omitempty"`
}

type schemaFile struct {
	Schemas []schemaSpec `yaml:"schemas"`
}

// LoadSchemas reads a YAML schema table and registers every schema it
// declares into a fresh Registry.
func LoadSchemas(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "normalize", "LoadSchemas", "read "+path)
	}
	return ParseSchemas(data)
}

// ParseSchemas parses a YAML schema table from memory.
func ParseSchemas(data []byte) (*Registry, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapInvalid(err, "normalize", "ParseSchemas", "parse YAML")
	}
	if len(file.Schemas) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no schemas declared"), "normalize", "ParseSchemas", "empty schema table")
	}

	registry := NewRegistry()
	for _, spec := range file.Schemas {
		schema, err := buildSchema(spec)
		if err != nil {
			return nil, errors.WrapInvalid(err, "normalize", "ParseSchemas",
				"build schema "+spec.Source+":"+spec.FormatVersion)
		}
		if err := registry.Register(schema); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildSchema(spec schemaSpec) (*Schema, error) {
	s := &Schema{
		Source:        spec.Source,
		FormatVersion: spec.FormatVersion,
		ContentType:   spec.ContentType,
		FieldSep:      spec.FieldSep,
		CommentPrefix: spec.CommentPrefix,
		MinColumns:    spec.MinColumns,
		RowPolicy:     spec.RowPolicy,
		TimeLayout:    spec.TimeLayout,
		ExpiresOffset: spec.ExpiresOffset,
		Constants:     spec.Constants,
		FanOut:        spec.FanOut,
	}

	if spec.Timezone != "" {
		loc, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", spec.Timezone, err)
		}
		s.Location = loc
	}

	for _, fs := range spec.Fields {
		field := Field{
			Column:   fs.Column,
			Key:      fs.Key,
			Target:   fs.Target,
			Required: fs.Required,
		}
		for _, as := range fs.Adjusters {
			adjust, err := BuildAdjuster(as)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fs.Target, err)
			}
			field.Adjusters = append(field.Adjusters, adjust)
		}
		s.Fields = append(s.Fields, field)
	}

	return s, nil
}
