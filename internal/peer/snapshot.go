package peer

import "sort"

// EndpointSnapshot is the plain-data form of an Endpoint
type EndpointSnapshot struct {
	IP              string   `json:"ip"`
	OccurrenceCount int      `json:"count"`
	PeerRole        string   `json:"peer_type"`
	RoundTripTime   *float64 `json:"rtt,omitempty"`
}

// IdentitySnapshot is the plain-data form of an Identity, as read back from storage.
// EndpointCount is informational only; Rehydrate derives it from Endpoints.
type IdentitySnapshot struct {
	ID            string             `json:"hx"`
	DisplayName   string             `json:"name"`
	EndpointCount int                `json:"ip_count"`
	Endpoints     []EndpointSnapshot `json:"ip_addresses"`
}

// Snapshot converts the live aggregate into plain data, endpoints sorted by IP
func (i *Identity) Snapshot() IdentitySnapshot {
	snap := IdentitySnapshot{
		ID:            i.ID,
		DisplayName:   i.DisplayName,
		EndpointCount: i.EndpointCount(),
		Endpoints:     make([]EndpointSnapshot, 0, len(i.Endpoints)),
	}
	for ip, ep := range i.Endpoints {
		es := EndpointSnapshot{
			IP:              ip,
			OccurrenceCount: ep.OccurrenceCount,
			PeerRole:        ep.PeerRole,
		}
		if ep.RoundTripTime != nil {
			v := *ep.RoundTripTime
			es.RoundTripTime = &v
		}
		snap.Endpoints = append(snap.Endpoints, es)
	}
	sort.Slice(snap.Endpoints, func(a, b int) bool {
		return snap.Endpoints[a].IP < snap.Endpoints[b].IP
	})
	return snap
}

// Rehydrate turns a snapshot back into a live Identity.
// Duplicate IPs in the snapshot are merged by summing their counts.
func Rehydrate(snap IdentitySnapshot) *Identity {
	id := NewIdentity(snap.ID, snap.DisplayName)
	for _, es := range snap.Endpoints {
		if es.IP == "" {
			continue
		}
		count := es.OccurrenceCount
		if count < 1 {
			count = 1
		}

		var rtt *float64
		if es.RoundTripTime != nil {
			v := *es.RoundTripTime
			rtt = &v
		}

		if existing, ok := id.Endpoints[es.IP]; ok {
			existing.OccurrenceCount += count
			if es.PeerRole != "" {
				existing.PeerRole = es.PeerRole
			}
			if rtt != nil {
				existing.RoundTripTime = rtt
			}
			continue
		}
		id.Endpoints[es.IP] = &Endpoint{
			OccurrenceCount: count,
			PeerRole:        es.PeerRole,
			RoundTripTime:   rtt,
		}
	}
	return id
}
