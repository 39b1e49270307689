package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/event"
	"github.com/CERT-Polska/n6-sub011/pkg/timeutil"
)

// RowPolicy decides what a failing row does to the rest of its raw unit.
type RowPolicy string

// Row policies.
const (
	// RowSkip logs and drops the bad row, continuing the batch. Default.
	RowSkip RowPolicy = "skip"
	// RowFatal aborts the whole raw unit. Used when a row failure means
	// the source format itself changed.
	RowFatal RowPolicy = "fatal"
)

// Content types a schema can parse.
const (
	ContentCSV  = "text/csv"
	ContentText = "text/plain"
	ContentJSON = "application/json"
)

// Field maps one raw column or key to a canonical field through an
// adjuster chain.
type Field struct {
	Column    int    // CSV position, for delimited payloads
	Key       string // JSON key, for structured payloads
	Target    string // canonical field name, e.g. "time", "ip", "fqdn"
	Required  bool   // missing or empty value is a row error
	Adjusters []Adjuster
}

// FanOut declares a nested list inside one raw item that expands into one
// event per element (e.g. a record carrying several URLs).
type FanOut struct {
	Key    string // JSON key holding the array
	Target string // canonical field each element lands in
}

// Schema is the declarative transformation for one (source, format-version)
// binding. A schema never mutates; build a new one for a new format.
type Schema struct {
	Source        string
	FormatVersion string

	ContentType   string
	FieldSep      string // delimited payloads, default ","
	CommentPrefix string // rows starting with this prefix are ignored

	// MinColumns guards delimited payloads: fewer columns than this means
	// the source format changed, which aborts the unit regardless of
	// RowPolicy.
	MinColumns int

	// Constants are fixed canonical values every event gets, e.g.
	// category, restriction, confidence.
	Constants map[string]string

	Fields []Field
	FanOut *FanOut

	RowPolicy RowPolicy

	// TimeLayout plus Location parse zone-less local readings; ambiguous
	// fall-back readings resolve to the later UTC instant. With no layout
	// configured, times parse through the multi-layout fallback as UTC.
	TimeLayout string
	Location   *time.Location

	// ExpiresOffset derives expires = time + offset, for blacklist-style
	// feeds with a fixed validity window.
	ExpiresOffset time.Duration
}

// BindingKey identifies the schema version within its registry.
func (s *Schema) BindingKey() string {
	return s.Source + ":" + s.FormatVersion
}

// Validate checks the schema is usable.
func (s *Schema) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("schema missing source")
	}
	switch s.ContentType {
	case ContentCSV, ContentText, ContentJSON:
	default:
		return fmt.Errorf("schema %s: unsupported content type %q", s.BindingKey(), s.ContentType)
	}
	if s.RowPolicy != "" && s.RowPolicy != RowSkip && s.RowPolicy != RowFatal {
		return fmt.Errorf("schema %s: unknown row policy %q", s.BindingKey(), s.RowPolicy)
	}
	if s.FanOut != nil && s.ContentType != ContentJSON {
		return fmt.Errorf("schema %s: fan-out requires JSON payloads", s.BindingKey())
	}
	return nil
}

// Result reports what applying a schema to one raw unit produced.
type Result struct {
	Events      []*event.Event
	RowsTotal   int
	RowsSkipped int
}

// Apply transforms one raw payload into canonical events. Row-level
// failures follow the row policy; format-level failures (wrong column
// count, undecodable JSON) abort the unit with an anomaly error.
func (s *Schema) Apply(payload []byte) (*Result, error) {
	if s.ContentType == ContentJSON {
		return s.applyJSON(payload)
	}
	return s.applyDelimited(payload)
}

func (s *Schema) applyDelimited(payload []byte) (*Result, error) {
	res := &Result{}

	for _, row := range strings.Split(string(payload), "\n") {
		row = strings.TrimRight(row, "\r")
		if strings.TrimSpace(row) == "" {
			continue
		}
		if s.CommentPrefix != "" && strings.HasPrefix(row, s.CommentPrefix) {
			continue
		}
		res.RowsTotal++

		sep := s.FieldSep
		if sep == "" {
			sep = ","
		}
		cols := strings.Split(row, sep)
		if len(cols) < s.minColumns() {
			// Wrong column count means the format itself changed.
			return res, errors.WrapAnomaly(errors.ErrFormatChanged, "Schema", "Apply",
				fmt.Sprintf("%s: row has %d columns, schema needs %d",
					s.BindingKey(), len(cols), s.minColumns()))
		}

		ev, err := s.eventFromValues(func(f Field) (string, bool) {
			if f.Column >= len(cols) {
				return "", false
			}
			return cols[f.Column], true
		}, nil)
		if err != nil {
			if skipErr := s.rowError(res, err); skipErr != nil {
				return res, skipErr
			}
			continue
		}
		res.Events = append(res.Events, ev)
	}

	return res, nil
}

func (s *Schema) applyJSON(payload []byte) (*Result, error) {
	res := &Result{}

	items, err := decodeItems(payload)
	if err != nil {
		return res, errors.WrapAnomaly(errors.ErrFormatChanged, "Schema", "Apply",
			fmt.Sprintf("%s: %v", s.BindingKey(), err))
	}

	for _, item := range items {
		res.RowsTotal++

		lookup := func(f Field) (string, bool) {
			raw, ok := item[f.Key]
			if !ok {
				return "", false
			}
			return rawToString(raw), true
		}

		if s.FanOut == nil {
			ev, err := s.eventFromValues(lookup, nil)
			if err != nil {
				if skipErr := s.rowError(res, err); skipErr != nil {
					return res, skipErr
				}
				continue
			}
			res.Events = append(res.Events, ev)
			continue
		}

		// One event per fan-out element; zero elements, zero events.
		elements, err := fanOutElements(item, s.FanOut.Key)
		if err != nil {
			if skipErr := s.rowError(res, err); skipErr != nil {
				return res, skipErr
			}
			continue
		}
		for _, element := range elements {
			extra := map[string]string{s.FanOut.Target: element}
			ev, err := s.eventFromValues(lookup, extra)
			if err != nil {
				if skipErr := s.rowError(res, err); skipErr != nil {
					return res, skipErr
				}
				continue
			}
			res.Events = append(res.Events, ev)
		}
	}

	return res, nil
}

// rowError applies the row policy: nil return means the row was skipped
// and the batch continues.
func (s *Schema) rowError(res *Result, err error) error {
	if s.RowPolicy == RowFatal {
		return errors.WrapAnomaly(err, "Schema", "Apply", s.BindingKey()+" row rejected")
	}
	res.RowsSkipped++
	return nil
}

func (s *Schema) minColumns() int {
	min := s.MinColumns
	for _, f := range s.Fields {
		if f.Required && f.Column+1 > min {
			min = f.Column + 1
		}
	}
	return min
}

// eventFromValues builds and validates one canonical event from raw
// values. extra carries fan-out values keyed by target field.
func (s *Schema) eventFromValues(lookup func(Field) (string, bool), extra map[string]string) (*event.Event, error) {
	ev := &event.Event{
		Source:        s.Source,
		FormatVersion: s.FormatVersion,
	}

	for target, value := range s.Constants {
		if err := setField(ev, target, value, s); err != nil {
			return nil, fmt.Errorf("constant %s: %w", target, err)
		}
	}

	for _, f := range s.Fields {
		value, ok := lookup(f)
		if ok {
			var err error
			value, err = applyChain(value, f.Adjusters)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Target, err)
			}
		}
		if value == "" {
			if f.Required {
				return nil, fmt.Errorf("field %s: required value missing", f.Target)
			}
			continue
		}
		if err := setField(ev, f.Target, value, s); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Target, err)
		}
	}

	for target, value := range extra {
		if err := setField(ev, target, value, s); err != nil {
			return nil, fmt.Errorf("field %s: %w", target, err)
		}
	}

	if s.ExpiresOffset > 0 && ev.Expires == nil && !ev.Time.IsZero() {
		exp := ev.Time.Add(s.ExpiresOffset)
		ev.Expires = &exp
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// setField assigns one adjusted string value to its canonical field.
// Unknown targets land in AdditionalData.
func setField(ev *event.Event, target, value string, s *Schema) error {
	switch target {
	case "time":
		t, err := s.parseTime(value)
		if err != nil {
			return err
		}
		ev.Time = t
	case "expires":
		t, err := s.parseTime(value)
		if err != nil {
			return err
		}
		ev.Expires = &t
	case "ip":
		ev.Address = append(ev.Address, event.Address{IP: value})
	case "asn":
		asn, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("bad asn %q", value)
		}
		ev.ASN = uint32(asn)
	case "dport":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad dport %q", value)
		}
		ev.DPort = port
	case "fqdn":
		ev.FQDN = strings.TrimSuffix(strings.ToLower(value), ".")
	case "url":
		ev.URL = value
	case "name":
		ev.Name = value
	case "category":
		ev.Category = event.Category(value)
	case "restriction":
		ev.Restriction = event.Restriction(value)
	case "confidence":
		ev.Confidence = event.Confidence(value)
	default:
		if ev.AdditionalData == nil {
			ev.AdditionalData = make(map[string]any)
		}
		ev.AdditionalData[target] = value
	}
	return nil
}

func (s *Schema) parseTime(value string) (time.Time, error) {
	if s.TimeLayout != "" && s.Location != nil {
		return timeutil.ParseInLocation(s.TimeLayout, value, s.Location)
	}
	return timeutil.Parse(value)
}

// decodeItems accepts a JSON array of objects or a single object.
func decodeItems(payload []byte) ([]map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("payload is not a JSON array of objects: %w", err)
		}
		return items, nil
	}

	var item map[string]json.RawMessage
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return []map[string]json.RawMessage{item}, nil
}

// rawToString renders a scalar JSON value as its field string.
func rawToString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.TrimSpace(string(raw))
}

// fanOutElements extracts the string elements of the fan-out array.
func fanOutElements(item map[string]json.RawMessage, key string) ([]string, error) {
	raw, ok := item[key]
	if !ok {
		return nil, nil
	}
	var elements []string
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("fan-out key %q is not an array of strings", key)
	}
	return elements, nil
}
