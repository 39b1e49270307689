// Package route implements the routing engine: per-event evaluation
// against every subscriber organization's criteria, run as the filter
// component between the parsed and filtered stages.
package route

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/CERT-Polska/n6-sub011/errors"
	"github.com/CERT-Polska/n6-sub011/event"
)

// OrgCriteria is one subscriber organization's matching rules. Instances
// are immutable after construction and safely shared across goroutines.
type OrgCriteria struct {
	OrgID string

	asns     map[uint32]bool
	networks []netip.Prefix
	fqdns    map[string]bool
	urlSubs  []string

	// fqdnOnly restricts matching to the FQDN rule for categories where
	// IP-based matching produces false positives (shared hosting).
	fqdnOnly map[event.Category]bool
}

// orgCriteriaJSON is the wire shape stored in the criteria KV bucket.
type orgCriteriaJSON struct {
	OrgID         string   `json:"org_id"`
	ASNs          []uint32 `json:"asns,omitempty"`
	Networks      []string `json:"networks,omitempty"`
	FQDNs         []string `json:"fqdns,omitempty"`
	URLSubstrings []string `json:"url_substrings,omitempty"`
	FQDNOnly      []string `json:"fqdn_only_categories,omitempty"`
}

// NewOrgCriteria builds a criteria set, normalizing FQDNs and validating
// network prefixes.
func NewOrgCriteria(
	orgID string, asns []uint32, networks, fqdns, urlSubs, fqdnOnlyCategories []string) (*OrgCriteria, error) {
	if orgID == "" {
		return nil, fmt.Errorf("criteria missing org id")
	}

	c := &OrgCriteria{
		OrgID:    orgID,
		asns:     make(map[uint32]bool, len(asns)),
		fqdns:    make(map[string]bool, len(fqdns)),
		urlSubs:  urlSubs,
		fqdnOnly: make(map[event.Category]bool, len(fqdnOnlyCategories)),
	}

	for _, asn := range asns {
		c.asns[asn] = true
	}
	for _, cidr := range networks {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("org %s: bad network %q: %w", orgID, cidr, err)
		}
		c.networks = append(c.networks, prefix)
	}
	for _, fqdn := range fqdns {
		c.fqdns[normalizeFQDN(fqdn)] = true
	}
	for _, cat := range fqdnOnlyCategories {
		c.fqdnOnly[event.Category(cat)] = true
	}

	return c, nil
}

// ParseOrgCriteria decodes one criteria record from its KV value.
func ParseOrgCriteria(data []byte) (*OrgCriteria, error) {
	var in orgCriteriaJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.WrapInvalid(err, "OrgCriteria", "ParseOrgCriteria", "decode")
	}
	c, err := NewOrgCriteria(in.OrgID, in.ASNs, in.Networks, in.FQDNs, in.URLSubstrings, in.FQDNOnly)
	if err != nil {
		return nil, errors.WrapInvalid(err, "OrgCriteria", "ParseOrgCriteria", "build")
	}
	return c, nil
}

// normalizeFQDN lowercases and strips the trailing root-label dot.
func normalizeFQDN(fqdn string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(fqdn)), ".")
}

// Snapshot is an immutable view of every organization's criteria, reused
// across a batch of events and replaced wholesale on refresh.
type Snapshot struct {
	orgs []*OrgCriteria
}

// NewSnapshot builds a snapshot; organizations are held sorted by org id
// so iteration order, and therefore routing output, is deterministic.
func NewSnapshot(orgs []*OrgCriteria) *Snapshot {
	sorted := make([]*OrgCriteria, len(orgs))
	copy(sorted, orgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrgID < sorted[j].OrgID })
	return &Snapshot{orgs: sorted}
}

// Orgs returns the criteria sets, sorted by org id. Callers must not
// mutate the slice.
func (s *Snapshot) Orgs() []*OrgCriteria {
	return s.orgs
}

// Len returns the number of organizations in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.orgs)
}
