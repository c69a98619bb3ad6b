package peer

// Peer roles as reported in a node's p2p table
const (
	RoleSelf       = "self"
	RoleFriends    = "friends"
	RoleChildren   = "children"
	RoleNephews    = "nephews"
	RoleOrphanages = "orphanages"
	RoleOthers     = "others"
	RoleParent     = "parent"
	RoleRoots      = "roots"
	RoleSeeds      = "seeds"
)

// Endpoint is one (identity, IP) observation
type Endpoint struct {
	OccurrenceCount int      `json:"count"`
	PeerRole        string   `json:"peer_type"`
	RoundTripTime   *float64 `json:"rtt,omitempty"`
}

// observe applies a re-observation: count grows, role and rtt only change when supplied
func (e *Endpoint) observe(role string, rtt *float64) {
	e.OccurrenceCount++
	if role != "" {
		e.PeerRole = role
	}
	if rtt != nil {
		v := *rtt
		e.RoundTripTime = &v
	}
}

// Identity aggregates every IP a node identity was seen on
type Identity struct {
	ID          string               `json:"hx"`
	DisplayName string               `json:"name"`
	Endpoints   map[string]*Endpoint `json:"ip_addresses"`
}

// NewIdentity creates an identity with no endpoints
func NewIdentity(id, displayName string) *Identity {
	return &Identity{
		ID:          id,
		DisplayName: displayName,
		Endpoints:   make(map[string]*Endpoint),
	}
}

// EndpointCount is always derived from the endpoint map
func (i *Identity) EndpointCount() int {
	return len(i.Endpoints)
}

// AddEndpoint records one observation of ip for this identity.
// Returns true if ip was not known before.
func (i *Identity) AddEndpoint(ip, role string, rtt *float64) bool {
	if i.Endpoints == nil {
		i.Endpoints = make(map[string]*Endpoint)
	}

	if ep, exists := i.Endpoints[ip]; exists {
		ep.observe(role, rtt)
		return false
	}

	ep := &Endpoint{OccurrenceCount: 1, PeerRole: role}
	if rtt != nil {
		v := *rtt
		ep.RoundTripTime = &v
	}
	i.Endpoints[ip] = ep
	return true
}

// Clone returns a deep copy
func (i *Identity) Clone() *Identity {
	c := NewIdentity(i.ID, i.DisplayName)
	for ip, ep := range i.Endpoints {
		epCopy := *ep
		if ep.RoundTripTime != nil {
			v := *ep.RoundTripTime
			epCopy.RoundTripTime = &v
		}
		c.Endpoints[ip] = &epCopy
	}
	return c
}
