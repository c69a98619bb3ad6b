package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRTT(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{"number", `12.5`, ptr(12.5)},
		{"numeric string", `"7"`, ptr(7)},
		{"duration string", `"1.5s"`, ptr(1500)},
		{"millisecond duration", `"250ms"`, ptr(250)},
		{"object last", `{"last": 4, "avg": 9}`, ptr(4)},
		{"object avg only", `{"avg": "9ms"}`, ptr(9)},
		{"null", `null`, nil},
		{"garbage string", `"fast"`, nil},
		{"empty object", `{}`, nil},
		{"bool", `true`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r RTT
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &r))
			if tt.want == nil {
				assert.Nil(t, r.Value)
				return
			}
			require.NotNil(t, r.Value)
			assert.InDelta(t, *tt.want, *r.Value, 1e-9)
		})
	}
}

func TestParsePeerTable(t *testing.T) {
	raw := json.RawMessage(`{"module": {"network": {"p2p": {
		"self": {"addr": "10.0.0.1:7100", "id": "hxA"},
		"friends": [{"addr": "10.0.0.2:7100", "id": "hxB", "rtt": "3ms"}],
		"children": null,
		"parent": {"addr": "10.0.0.3:7100", "id": "hxC"},
		"seeds": {"10.0.0.4:7100": "hxD"},
		"seed": {"10.0.0.5:7100": ""}
	}}}}`)

	table, err := parsePeerTable(raw)
	require.NoError(t, err)

	assert.Equal(t, "hxA", table.Self.ID)
	require.Len(t, table.Friends, 1)
	assert.Equal(t, 3.0, *table.Friends[0].RTT.Value)
	assert.Empty(t, table.Children)
	require.Len(t, table.Parent, 1)
	assert.Equal(t, "hxC", table.Parent[0].ID)

	obs := table.observations("10.0.0.1:7100")
	byID := make(map[string]observation)
	for _, o := range obs {
		byID[o.id] = o
	}
	assert.Len(t, obs, 4)
	assert.Equal(t, "self", byID["hxA"].role)
	assert.Equal(t, "friends", byID["hxB"].role)
	assert.Equal(t, "parent", byID["hxC"].role)
	assert.Equal(t, "seeds", byID["hxD"].role)
	assert.Equal(t, "10.0.0.4:7100", byID["hxD"].ip)
}

func TestParsePeerTableNeighborsOnlyOutward(t *testing.T) {
	table, err := parsePeerTable(json.RawMessage(`{"module": {"network": {"p2p": {
		"friends": [{"addr": "a"}],
		"children": [{"addr": "b"}],
		"nephews": [{"addr": "c"}],
		"orphanages": [{"addr": "d"}],
		"others": [{"addr": "e"}],
		"parent": {"addr": "f"}
	}}}}`))
	require.NoError(t, err)

	var addrs []string
	for _, n := range table.neighbors() {
		addrs = append(addrs, n.Addr)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, addrs)
}

func TestParsePeerTableMissingSections(t *testing.T) {
	_, err := parsePeerTable(json.RawMessage(`{"state": "started"}`))
	assert.ErrorIs(t, err, errMissingPeerTable)

	_, err = parsePeerTable(json.RawMessage(`{"module": {}}`))
	assert.ErrorIs(t, err, errMissingPeerTable)

	_, err = parsePeerTable(json.RawMessage(`{"module": {"network": {}}}`))
	assert.ErrorIs(t, err, errMissingPeerTable)

	_, err = parsePeerTable(json.RawMessage(`{"module": {"network": {"p2p": null}}}`))
	assert.ErrorIs(t, err, errMissingPeerTable)

	table, err := parsePeerTable(json.RawMessage(`{"module": {"network": {"p2p": {}}}}`))
	require.NoError(t, err)
	assert.Empty(t, table.neighbors())

	_, err = parsePeerTable(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestParseNID(t *testing.T) {
	nid, err := parseNID(json.RawMessage(`[{"channel": "x"}, {"nid": "0x53", "channel": "icon_dex"}]`))
	require.NoError(t, err)
	assert.Equal(t, "0x53", nid)

	nid, err = parseNID(json.RawMessage(`{"nid": "0x1"}`))
	require.NoError(t, err)
	assert.Equal(t, "0x1", nid)

	_, err = parseNID(json.RawMessage(`[]`))
	assert.Error(t, err)

	_, err = parseNID(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func ptr(f float64) *float64 {
	return &f
}
