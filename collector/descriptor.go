package collector

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/errors"
)

// Descriptor declares one external feed: where to fetch it, how to
// deduplicate it, and how to label what gets published. Descriptors are
// data, not code; adding a feed means adding a YAML entry.
type Descriptor struct {
	// Source is the two-segment source label, e.g. "abuse-ch.feodotracker".
	Source string `yaml:"source"`
	// EventType is the first routing-key segment, e.g. "event" or "bl".
	EventType string `yaml:"event_type"`

	ContentType   string `yaml:"content_type"`
	FormatVersion string `yaml:"format_version"`

	Strategy StrategyKind `yaml:"strategy"`

	// Fetching
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`

	// Polling; zero means run once and exit.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Row handling
	RowSep        string `yaml:"row_sep,omitempty"`
	CommentPrefix string `yaml:"comment_prefix,omitempty"`

	// Time-ordered strategy
	TimeColumn int    `yaml:"time_column,omitempty"`
	TimeLayout string `yaml:"time_layout,omitempty"`
	Timezone   string `yaml:"timezone,omitempty"`
	FieldSep   string `yaml:"field_sep,omitempty"`
	// AllowShrunkList tolerates sources that keep a rolling window and
	// drop old rows. Off by default; a shrinking list is a problem.
	AllowShrunkList bool `yaml:"allow_shrunk_list,omitempty"`

	// Cursor strategy
	TimeField string `yaml:"time_field,omitempty"`
	PageParam string `yaml:"page_param,omitempty"`
	MaxPages  int    `yaml:"max_pages,omitempty"`
}

// ID returns the collector identity used as the state-store key.
func (d *Descriptor) ID() string {
	return d.Source
}

// RoutingKey returns the raw-stage routing key for this feed.
func (d *Descriptor) RoutingKey() bus.RoutingKey {
	return bus.RoutingKey{
		EventType: d.EventType,
		Stage:     bus.StageRaw,
		Source:    d.Source,
	}
}

// Validate checks the descriptor is complete and internally consistent.
func (d *Descriptor) Validate() error {
	if d.Source == "" {
		return fmt.Errorf("descriptor missing source")
	}
	if d.EventType == "" {
		return fmt.Errorf("descriptor %s missing event_type", d.Source)
	}
	if d.URL == "" {
		return fmt.Errorf("descriptor %s missing url", d.Source)
	}
	if !d.Strategy.Valid() {
		return fmt.Errorf("descriptor %s has unknown strategy %q", d.Source, d.Strategy)
	}
	if d.Strategy == KindCursor && d.TimeField == "" {
		return fmt.Errorf("descriptor %s: cursor strategy requires time_field", d.Source)
	}
	if err := d.RoutingKey().Validate(); err != nil {
		return fmt.Errorf("descriptor %s: %w", d.Source, err)
	}
	return nil
}

// BuildStrategy constructs the deduplication strategy the descriptor
// declares, wired to an HTTP fetcher for its URL.
func (d *Descriptor) BuildStrategy() (Strategy, error) {
	if err := d.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Descriptor", "BuildStrategy", "validate")
	}

	fetcher := NewHTTPFetcher(d.URL, func(f *HTTPFetcher) {
		if d.Method != "" {
			f.Method = d.Method
		}
		if d.Timeout > 0 {
			f.Timeout = d.Timeout
		}
		if d.PageParam != "" {
			f.PageParam = d.PageParam
		}
		f.Headers = d.Headers
	})

	switch d.Strategy {
	case KindTimeOrdered:
		loc := time.UTC
		if d.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(d.Timezone)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Descriptor", "BuildStrategy",
					"load timezone "+d.Timezone)
			}
		}
		return &TimeOrdered{
			Fetch:           fetcher,
			RowTime:         CSVRowTime(d.FieldSep, d.TimeColumn, d.TimeLayout, loc),
			RowSep:          d.RowSep,
			AllowShrunkList: d.AllowShrunkList,
			CommentPrefix:   d.CommentPrefix,
		}, nil

	case KindSnapshot:
		return &Snapshot{
			Fetch:  fetcher,
			RowSep: d.RowSep,
		}, nil

	case KindCursor:
		return &Cursor{
			Pages:    fetcher,
			ItemTime: JSONItemTime(d.TimeField),
			MaxPages: d.MaxPages,
		}, nil
	}

	return nil, errors.WrapInvalid(
		fmt.Errorf("strategy %q", d.Strategy), "Descriptor", "BuildStrategy", "unreachable")
}

// descriptorFile is the on-disk shape: a document with a feeds list.
type descriptorFile struct {
	Feeds []*Descriptor `yaml:"feeds"`
}

// LoadDescriptors reads and validates a YAML feed table.
func LoadDescriptors(path string) ([]*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "collector", "LoadDescriptors", "read "+path)
	}
	return ParseDescriptors(data)
}

// ParseDescriptors parses a YAML feed table from memory.
func ParseDescriptors(data []byte) ([]*Descriptor, error) {
	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapInvalid(err, "collector", "ParseDescriptors", "parse YAML")
	}
	if len(file.Feeds) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no feeds declared"), "collector", "ParseDescriptors", "empty feed table")
	}

	seen := make(map[string]bool)
	for _, d := range file.Feeds {
		if err := d.Validate(); err != nil {
			return nil, errors.WrapInvalid(err, "collector", "ParseDescriptors", "validate feed")
		}
		if seen[d.Source] {
			return nil, errors.WrapInvalid(
				fmt.Errorf("duplicate source %s", d.Source),
				"collector", "ParseDescriptors", "validate feed table")
		}
		seen[d.Source] = true
	}
	return file.Feeds, nil
}
