package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/peer"
)

// errMissingPeerTable marks a chain detail response without module.network.p2p
var errMissingPeerTable = errors.New("response has no peer table")

// RTT is a round trip time in milliseconds. Nodes report it as a number,
// a numeric or duration string, or an object with last/avg members.
type RTT struct {
	Value *float64
}

func (r *RTT) UnmarshalJSON(data []byte) error {
	r.Value = parseRTT(data)
	return nil
}

func parseRTT(data []byte) *float64 {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		return parseRTTString(s)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		for _, key := range []string{"last", "avg"} {
			if raw, ok := obj[key]; ok {
				if v := parseRTT(raw); v != nil {
					return v
				}
			}
		}
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil
		}
		return &f
	}
}

func parseRTTString(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return &f
	}
	if d, err := time.ParseDuration(s); err == nil {
		f := float64(d) / float64(time.Millisecond)
		return &f
	}
	return nil
}

// peerEntry is one row of a p2p table section
type peerEntry struct {
	Addr string `json:"addr"`
	ID   string `json:"id"`
	RTT  RTT    `json:"rtt"`
}

// peerList accepts a list of entries, a single entry object or null
type peerList []peerEntry

func (l *peerList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '{' {
		var single peerEntry
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = peerList{single}
		return nil
	}

	var entries []peerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = entries
	return nil
}

// peerTable is module.network.p2p of a chain detail response
type peerTable struct {
	Self       peerEntry         `json:"self"`
	Friends    peerList          `json:"friends"`
	Children   peerList          `json:"children"`
	Nephews    peerList          `json:"nephews"`
	Orphanages peerList          `json:"orphanages"`
	Others     peerList          `json:"others"`
	Parent     peerList          `json:"parent"`
	Roots      map[string]string `json:"roots"`
	Seeds      map[string]string `json:"seeds"`
	Seed       map[string]string `json:"seed"`
}

// neighbors returns the outward relations followed by IP discovery
func (t *peerTable) neighbors() []peerEntry {
	var out []peerEntry
	for _, section := range []peerList{t.Friends, t.Children, t.Nephews, t.Orphanages} {
		out = append(out, section...)
	}
	return out
}

// observation is one (identity, ip) pair read from a peer table
type observation struct {
	id   string
	ip   string
	role string
	rtt  *float64
}

// observations flattens every section into (identity, ip) pairs.
// selfIP is used for the node's own entry.
func (t *peerTable) observations(selfIP string) []observation {
	var out []observation

	lists := []struct {
		role    string
		entries peerList
	}{
		{peer.RoleChildren, t.Children},
		{peer.RoleFriends, t.Friends},
		{peer.RoleOrphanages, t.Orphanages},
		{peer.RoleOthers, t.Others},
		{peer.RoleParent, t.Parent},
	}
	for _, l := range lists {
		for _, e := range l.entries {
			if e.ID == "" || e.Addr == "" {
				continue
			}
			out = append(out, observation{id: e.ID, ip: e.Addr, role: l.role, rtt: e.RTT.Value})
		}
	}

	maps := []struct {
		role    string
		entries map[string]string
	}{
		{peer.RoleRoots, t.Roots},
		{peer.RoleSeeds, t.Seeds},
		{peer.RoleSeeds, t.Seed},
	}
	for _, m := range maps {
		for ip, id := range m.entries {
			if id == "" || ip == "" {
				continue
			}
			out = append(out, observation{id: id, ip: ip, role: m.role})
		}
	}

	if t.Self.ID != "" && selfIP != "" {
		out = append(out, observation{id: t.Self.ID, ip: selfIP, role: peer.RoleSelf, rtt: t.Self.RTT.Value})
	}
	return out
}

// parseNID reads the network id from an /admin/chain response (list or object)
func parseNID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)

	type chain struct {
		NID string `json:"nid"`
	}

	if len(raw) > 0 && raw[0] == '[' {
		var chains []chain
		if err := json.Unmarshal(raw, &chains); err != nil {
			return "", fmt.Errorf("failed to parse chain list: %w", err)
		}
		for _, c := range chains {
			if c.NID != "" {
				return c.NID, nil
			}
		}
		return "", fmt.Errorf("chain list has no nid")
	}

	var c chain
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("failed to parse chain: %w", err)
	}
	if c.NID == "" {
		return "", fmt.Errorf("chain has no nid")
	}
	return c.NID, nil
}

// parsePeerTable reads module.network.p2p from an /admin/chain/<nid> response
func parsePeerTable(raw json.RawMessage) (*peerTable, error) {
	var detail struct {
		Module *struct {
			Network *struct {
				P2P json.RawMessage `json:"p2p"`
			} `json:"network"`
		} `json:"module"`
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse chain detail: %w", err)
	}
	if detail.Module == nil || detail.Module.Network == nil {
		return nil, errMissingPeerTable
	}

	p2p := bytes.TrimSpace(detail.Module.Network.P2P)
	if len(p2p) == 0 || bytes.Equal(p2p, []byte("null")) {
		return nil, errMissingPeerTable
	}

	table := &peerTable{}
	if err := json.Unmarshal(p2p, table); err != nil {
		return nil, fmt.Errorf("failed to parse p2p table: %w", err)
	}
	return table, nil
}
