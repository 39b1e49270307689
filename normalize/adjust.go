// Package normalize implements the schema-driven normalization engine:
// a raw payload plus source metadata goes in, zero or more canonical
// events come out, governed by a declarative field-adjustment schema
// bound to (source, format-version).
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// Adjuster transforms one raw field value on its way into a canonical
// field. Adjusters chain left to right; the first failure aborts the chain.
type Adjuster func(value string) (string, error)

// Trim returns an adjuster stripping surrounding whitespace.
func Trim() Adjuster {
	return func(value string) (string, error) {
		return strings.TrimSpace(value), nil
	}
}

// Lowercase returns an adjuster lowering the value.
func Lowercase() Adjuster {
	return func(value string) (string, error) {
		return strings.ToLower(value), nil
	}
}

// StripDot returns an adjuster removing a trailing dot (DNS root label).
func StripDot() Adjuster {
	return func(value string) (string, error) {
		return strings.TrimSuffix(value, "."), nil
	}
}

// Unquote returns an adjuster removing surrounding double quotes.
func Unquote() Adjuster {
	return func(value string) (string, error) {
		return strings.Trim(value, `"`), nil
	}
}

// RegexExtract returns an adjuster extracting the first capture group of
// pattern (or the whole match when the pattern has no groups). No match is
// a row-level error.
func RegexExtract(pattern string) (Adjuster, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad adjuster pattern %q: %w", pattern, err)
	}
	return func(value string) (string, error) {
		m := re.FindStringSubmatch(value)
		if m == nil {
			return "", fmt.Errorf("value %q does not match %q", value, pattern)
		}
		if len(m) > 1 {
			return m[1], nil
		}
		return m[0], nil
	}, nil
}

// MapValues returns an adjuster translating source-specific tokens to
// canonical ones. Unknown tokens are a row-level error.
func MapValues(table map[string]string) Adjuster {
	return func(value string) (string, error) {
		out, ok := table[value]
		if !ok {
			return "", fmt.Errorf("unmapped value %q", value)
		}
		return out, nil
	}
}

// AdjusterSpec is the declarative (YAML-loadable) form of one adjuster.
type AdjusterSpec struct {
	Name string            `yaml:"name"`
	Arg  string            `yaml:"arg,omitempty"`
	Map  map[string]string `yaml:"map,omitempty"`
}

// BuildAdjuster constructs the adjuster a spec names.
func BuildAdjuster(spec AdjusterSpec) (Adjuster, error) {
	switch spec.Name {
	case "trim":
		return Trim(), nil
	case "lowercase":
		return Lowercase(), nil
	case "strip_dot":
		return StripDot(), nil
	case "unquote":
		return Unquote(), nil
	case "regex":
		return RegexExtract(spec.Arg)
	case "map":
		if len(spec.Map) == 0 {
			return nil, fmt.Errorf("map adjuster needs a non-empty map")
		}
		return MapValues(spec.Map), nil
	}
	return nil, fmt.Errorf("unknown adjuster %q", spec.Name)
}

// applyChain runs a value through an adjuster chain.
func applyChain(value string, chain []Adjuster) (string, error) {
	var err error
	for _, adjust := range chain {
		value, err = adjust(value)
		if err != nil {
			return "", err
		}
	}
	return value, nil
}
