// Package topology turns the identities gathered by a crawl into the
// IP->identity map, the validator classification and the run statistics.
package topology

import (
	"sort"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/peer"
)

// IPRecord is one identity seen on an IP
type IPRecord struct {
	ID            string   `json:"hx"`
	DisplayName   string   `json:"name"`
	PeerRole      string   `json:"peer_type"`
	RoundTripTime *float64 `json:"rtt,omitempty"`
}

// Input is everything the synthesizer needs from a finished crawl
type Input struct {
	Identities    map[string]*peer.Identity
	DiscoveredIPs []string
	Roster        map[string]string // registered identity -> display name
	Visited       int
	ErrorCount    int
	TimeoutCount  int
	Elapsed       time.Duration
}

// Statistics summarizes a crawl
type Statistics struct {
	TotalIPs              int           `json:"total_ips"`
	TotalIdentities       int           `json:"total_identities"`
	VisitedNodes          int           `json:"visited_nodes"`
	IPToIdentityRelations int           `json:"ip_to_identity_relations"`
	IdentityToIPRelations int           `json:"identity_to_ip_relations"`
	MultiIPIdentities     int           `json:"multi_ip_identities"`
	MultiIdentityIPs      int           `json:"multi_identity_ips"`
	AvgIdentitiesPerIP    float64       `json:"avg_identities_per_ip"`
	RegisteredValidators  int           `json:"registered_validators"`
	Validators            []string      `json:"validators"`
	Citizens              []string      `json:"citizens"`
	MissingValidators     []string      `json:"missing_validators"`
	ErrorCount            int           `json:"error_count"`
	TimeoutCount          int           `json:"timeout_count"`
	Elapsed               time.Duration `json:"elapsed_ns"`
}

// Result is the final output of a crawl
type Result struct {
	IPToIdentity map[string][]IPRecord     `json:"ip_to_hx"`
	IdentityToIP map[string]*peer.Identity `json:"hx_to_ip"`
	Statistics   Statistics                `json:"statistics"`
}

// Synthesize builds the result in a single pass. Identities are deep-copied,
// so later changes to the input never show through.
func Synthesize(in Input) Result {
	res := Result{
		IPToIdentity: make(map[string][]IPRecord),
		IdentityToIP: make(map[string]*peer.Identity, len(in.Identities)),
	}
	stats := &res.Statistics

	for id, identity := range in.Identities {
		res.IdentityToIP[id] = identity.Clone()

		n := identity.EndpointCount()
		stats.IdentityToIPRelations += n
		if n > 1 {
			stats.MultiIPIdentities++
		}

		for ip, ep := range identity.Endpoints {
			rec := IPRecord{
				ID:          identity.ID,
				DisplayName: identity.DisplayName,
				PeerRole:    ep.PeerRole,
			}
			if ep.RoundTripTime != nil {
				v := *ep.RoundTripTime
				rec.RoundTripTime = &v
			}
			res.IPToIdentity[ip] = append(res.IPToIdentity[ip], rec)
		}
	}

	for _, records := range res.IPToIdentity {
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		stats.IPToIdentityRelations += len(records)
		if len(records) > 1 {
			stats.MultiIdentityIPs++
		}
	}
	if len(res.IPToIdentity) > 0 {
		stats.AvgIdentitiesPerIP = float64(stats.IPToIdentityRelations) / float64(len(res.IPToIdentity))
	}

	stats.Validators, stats.Citizens, stats.MissingValidators = Classify(in.Identities, in.Roster)
	stats.RegisteredValidators = len(in.Roster)
	stats.TotalIPs = len(in.DiscoveredIPs)
	stats.TotalIdentities = len(in.Identities)
	stats.VisitedNodes = in.Visited
	stats.ErrorCount = in.ErrorCount
	stats.TimeoutCount = in.TimeoutCount
	stats.Elapsed = in.Elapsed

	return res
}

// Classify partitions discovered identities against the roster.
// validators = roster ∩ discovered, citizens = discovered − roster,
// missing = roster − discovered. All slices are sorted.
func Classify(discovered map[string]*peer.Identity, roster map[string]string) (validators, citizens, missing []string) {
	validators = []string{}
	citizens = []string{}
	missing = []string{}

	for id := range discovered {
		if _, ok := roster[id]; ok {
			validators = append(validators, id)
		} else {
			citizens = append(citizens, id)
		}
	}
	for id := range roster {
		if _, ok := discovered[id]; !ok {
			missing = append(missing, id)
		}
	}

	sort.Strings(validators)
	sort.Strings(citizens)
	sort.Strings(missing)
	return validators, citizens, missing
}
