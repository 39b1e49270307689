// Package event defines the canonical event record emitted by the
// normalization engine and consumed by the routing engine and downstream
// storage. An event is immutable once emitted; the only attachment made
// later in the pipeline is the routing result (client list and matched
// URL fragments) added by the filter.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/pkg/timeutil"
)

// Category classifies the kind of incident or observation.
type Category string

// Known event categories.
const (
	CategoryAmplifier     Category = "amplifier"
	CategoryBots          Category = "bots"
	CategoryBackdoor      Category = "backdoor"
	CategoryCNC           Category = "cnc"
	CategoryDeface        Category = "deface"
	CategoryDoSAttacker   Category = "dos-attacker"
	CategoryDoSVictim     Category = "dos-victim"
	CategoryFraud         Category = "fraud"
	CategoryLeak          Category = "leak"
	CategoryMalURL        Category = "malurl"
	CategoryMalware       Category = "malware"
	CategoryOther         Category = "other"
	CategoryPhish         Category = "phish"
	CategoryProxy         Category = "proxy"
	CategorySandboxURL    Category = "sandbox-url"
	CategoryScam          Category = "scam"
	CategoryScanning      Category = "scanning"
	CategoryServerExploit Category = "server-exploit"
	CategorySpam          Category = "spam"
	CategorySpamURL       Category = "spam-url"
	CategoryTor           Category = "tor"
	CategoryVulnerable    Category = "vulnerable"
	CategoryWebinject     Category = "webinject"
)

var validCategories = map[Category]bool{
	CategoryAmplifier: true, CategoryBots: true, CategoryBackdoor: true,
	CategoryCNC: true, CategoryDeface: true, CategoryDoSAttacker: true,
	CategoryDoSVictim: true, CategoryFraud: true, CategoryLeak: true,
	CategoryMalURL: true, CategoryMalware: true, CategoryOther: true,
	CategoryPhish: true, CategoryProxy: true, CategorySandboxURL: true,
	CategoryScam: true, CategoryScanning: true, CategoryServerExploit: true,
	CategorySpam: true, CategorySpamURL: true, CategoryTor: true,
	CategoryVulnerable: true, CategoryWebinject: true,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return validCategories[c]
}

// Restriction declares how widely an event may be shared.
type Restriction string

// Restriction levels.
const (
	RestrictionPublic     Restriction = "public"
	RestrictionNeedToKnow Restriction = "need-to-know"
	RestrictionInternal   Restriction = "internal"
)

// Valid reports whether r is a known restriction.
func (r Restriction) Valid() bool {
	switch r {
	case RestrictionPublic, RestrictionNeedToKnow, RestrictionInternal:
		return true
	}
	return false
}

// Confidence grades how reliable the source's claim is.
type Confidence string

// Confidence levels.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Address is one network address involved in an event. ASN is zero when
// unknown (enrichment may fill it upstream of routing).
type Address struct {
	IP  string `json:"ip"`
	ASN uint32 `json:"asn,omitempty"`
}

// Validate checks that the IP parses.
func (a Address) Validate() error {
	if _, err := netip.ParseAddr(a.IP); err != nil {
		return fmt.Errorf("bad address %q: %w", a.IP, err)
	}
	return nil
}

// Event is the canonical, normalized incident/observation record.
type Event struct {
	// Required fields.
	Time        time.Time   `json:"time"`
	Category    Category    `json:"category"`
	Restriction Restriction `json:"restriction"`
	Confidence  Confidence  `json:"confidence"`

	// Optional content fields.
	Address        []Address      `json:"address,omitempty"`
	FQDN           string         `json:"fqdn,omitempty"`
	URL            string         `json:"url,omitempty"`
	ASN            uint32         `json:"asn,omitempty"`
	DPort          int            `json:"dport,omitempty"`
	Name           string         `json:"name,omitempty"`
	Expires        *time.Time     `json:"expires,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`

	// Provenance.
	Source        string `json:"source"`                   // dotted source name (provider.channel)
	FormatVersion string `json:"format_version,omitempty"` // schema version tag the row was parsed with

	// Routing result, attached by the filter.
	Clients    []string `json:"client,omitempty"`
	URLMatches []string `json:"url_pattern,omitempty"`
}

// Validate checks required fields, enum membership and value ranges.
func (e *Event) Validate() error {
	if e.Time.IsZero() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate", "missing time")
	}
	if !e.Category.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate",
			fmt.Sprintf("unknown category %q", e.Category))
	}
	if !e.Restriction.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate",
			fmt.Sprintf("unknown restriction %q", e.Restriction))
	}
	if !e.Confidence.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate",
			fmt.Sprintf("unknown confidence %q", e.Confidence))
	}
	if e.Source == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate", "missing source")
	}
	if e.DPort < 0 || e.DPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Event", "Validate",
			fmt.Sprintf("dport %d out of range", e.DPort))
	}
	for _, addr := range e.Address {
		if err := addr.Validate(); err != nil {
			return errors.WrapInvalid(err, "Event", "Validate", "address")
		}
	}
	return nil
}

// eventJSON is the wire shape; times render in the canonical layout, UTC.
type eventJSON struct {
	Time           string         `json:"time"`
	Category       Category       `json:"category"`
	Restriction    Restriction    `json:"restriction"`
	Confidence     Confidence     `json:"confidence"`
	Address        []Address      `json:"address,omitempty"`
	FQDN           string         `json:"fqdn,omitempty"`
	URL            string         `json:"url,omitempty"`
	ASN            uint32         `json:"asn,omitempty"`
	DPort          int            `json:"dport,omitempty"`
	Name           string         `json:"name,omitempty"`
	Expires        string         `json:"expires,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
	Source         string         `json:"source"`
	FormatVersion  string         `json:"format_version,omitempty"`
	// Pointer keeps "routed, matched nobody" ([]) distinct from "never
	// routed" (key absent).
	Clients    *[]string `json:"client,omitempty"`
	URLMatches []string  `json:"url_pattern,omitempty"`
}

// MarshalJSON renders the event with canonical UTC time formatting.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Time:           timeutil.Format(e.Time),
		Category:       e.Category,
		Restriction:    e.Restriction,
		Confidence:     e.Confidence,
		Address:        e.Address,
		FQDN:           e.FQDN,
		URL:            e.URL,
		ASN:            e.ASN,
		DPort:          e.DPort,
		Name:           e.Name,
		AdditionalData: e.AdditionalData,
		Source:         e.Source,
		FormatVersion:  e.FormatVersion,
		URLMatches:     e.URLMatches,
	}
	if e.Clients != nil {
		out.Clients = &e.Clients
	}
	if e.Expires != nil {
		out.Expires = timeutil.Format(*e.Expires)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire shape back into an Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	t, err := timeutil.Parse(in.Time)
	if err != nil {
		return fmt.Errorf("event time: %w", err)
	}

	*e = Event{
		Time:           t,
		Category:       in.Category,
		Restriction:    in.Restriction,
		Confidence:     in.Confidence,
		Address:        in.Address,
		FQDN:           in.FQDN,
		URL:            in.URL,
		ASN:            in.ASN,
		DPort:          in.DPort,
		Name:           in.Name,
		AdditionalData: in.AdditionalData,
		Source:         in.Source,
		FormatVersion:  in.FormatVersion,
		URLMatches:     in.URLMatches,
	}
	if in.Clients != nil {
		e.Clients = *in.Clients
	}

	if in.Expires != "" {
		exp, err := timeutil.Parse(in.Expires)
		if err != nil {
			return fmt.Errorf("event expires: %w", err)
		}
		e.Expires = &exp
	}
	return nil
}

// Hash returns the content-addressed id of the event: a hex sha256 of its
// canonical JSON rendering. Identical events hash identically, enabling
// downstream deduplication on re-publish.
func (e *Event) Hash() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "Event", "Hash", "marshal")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
