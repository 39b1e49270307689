package route

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/CERT-Polska/n6-sub011/event"
)

// RoutingResult is the attachment computed for one event: the sorted list
// of matching organization ids and, when URL-substring matching
// contributed, the fragments that matched.
type RoutingResult struct {
	OrgIDs       []string
	URLFragments []string
}

// Match evaluates one event against a criteria snapshot. Deterministic for
// a fixed snapshot: org ids come out sorted, fragments sorted and deduped.
// A malformed event (no routable fields) yields an empty result, never an
// error; dropping a security event is worse than under-routing it.
func Match(ev *event.Event, snap *Snapshot) RoutingResult {
	var result RoutingResult
	fragments := make(map[string]bool)

	for _, org := range snap.Orgs() {
		matched, orgFragments := matchOrg(ev, org)
		if !matched {
			continue
		}
		result.OrgIDs = append(result.OrgIDs, org.OrgID)
		for _, f := range orgFragments {
			fragments[f] = true
		}
	}

	// Snapshot iteration is already ordered; sort anyway so the contract
	// does not depend on snapshot internals.
	sort.Strings(result.OrgIDs)

	for f := range fragments {
		result.URLFragments = append(result.URLFragments, f)
	}
	sort.Strings(result.URLFragments)

	return result
}

// matchOrg applies the any-of rule for one organization.
func matchOrg(ev *event.Event, org *OrgCriteria) (bool, []string) {
	if org.fqdnOnly[ev.Category] {
		return matchFQDN(ev.FQDN, org), nil
	}

	if matchFQDN(ev.FQDN, org) {
		return true, nil
	}
	if matchAddress(ev, org) {
		return true, nil
	}
	if fragments := matchURL(ev.URL, org); len(fragments) > 0 {
		return true, fragments
	}
	return false, nil
}

// matchAddress reports whether any event address falls inside one of the
// org's network prefixes or belongs to one of its ASNs.
func matchAddress(ev *event.Event, org *OrgCriteria) bool {
	for _, addr := range ev.Address {
		ip, err := netip.ParseAddr(addr.IP)
		if err != nil {
			continue
		}
		for _, prefix := range org.networks {
			if prefix.Contains(ip) {
				return true
			}
		}
		if addr.ASN != 0 && org.asns[addr.ASN] {
			return true
		}
	}
	return ev.ASN != 0 && org.asns[ev.ASN]
}

// matchFQDN reports whether fqdn equals, or is a subdomain of, one of the
// org's domains.
func matchFQDN(fqdn string, org *OrgCriteria) bool {
	if fqdn == "" || len(org.fqdns) == 0 {
		return false
	}
	candidate := normalizeFQDN(fqdn)
	for candidate != "" {
		if org.fqdns[candidate] {
			return true
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			return false
		}
		candidate = candidate[dot+1:]
	}
	return false
}

// matchURL returns the org's URL substrings occurring in the event URL.
func matchURL(url string, org *OrgCriteria) []string {
	if url == "" {
		return nil
	}
	var fragments []string
	for _, sub := range org.urlSubs {
		if strings.Contains(url, sub) {
			fragments = append(fragments, sub)
		}
	}
	return fragments
}
