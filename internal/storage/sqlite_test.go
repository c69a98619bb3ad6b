package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStorage(t)
	started := time.Now().UTC().Truncate(time.Second)

	runID, err := s.CreateRun(Run{
		Seeds:         []string{"10.0.0.1", "10.0.0.2:7100"},
		Platform:      "havah",
		StartedAt:     started,
		ElapsedMs:     1500,
		VisitedNodes:  7,
		ErrorCount:    2,
		TimeoutCount:  1,
		DiscoveredIPs: []string{"10.0.0.2:7100", "10.0.0.1:7100", "10.0.0.1:7100"},
		Roster:        map[string]string{"hxA": "Node A", "hxZ": ""},
	})
	require.NoError(t, err)
	assert.Positive(t, runID)

	run, err := s.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2:7100"}, run.Seeds)
	assert.Equal(t, "havah", run.Platform)
	assert.WithinDuration(t, started, run.StartedAt, time.Second)
	assert.Equal(t, int64(1500), run.ElapsedMs)
	assert.Equal(t, 7, run.VisitedNodes)
	assert.Equal(t, 2, run.ErrorCount)
	assert.Equal(t, 1, run.TimeoutCount)
	assert.Equal(t, []string{"10.0.0.1:7100", "10.0.0.2:7100"}, run.DiscoveredIPs)
	assert.Equal(t, map[string]string{"hxA": "Node A", "hxZ": ""}, run.Roster)
}

func TestSeedsWithCommasRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	seeds := []string{"http://10.0.0.1:9000/?a=1,2", "10.0.0.2"}

	runID, err := s.CreateRun(Run{Seeds: seeds, Platform: "icon", StartedAt: time.Now()})
	require.NoError(t, err)

	run, err := s.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, seeds, run.Seeds)

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, seeds, runs[0].Seeds)
}

func TestGetRunMissing(t *testing.T) {
	s := newTestStorage(t)

	run, err := s.GetRun(42)
	assert.NoError(t, err)
	assert.Nil(t, run)
}

func TestSaveAndLoadIdentities(t *testing.T) {
	s := newTestStorage(t)
	runID, err := s.CreateRun(Run{Seeds: []string{"10.0.0.1"}, Platform: "icon", StartedAt: time.Now()})
	require.NoError(t, err)

	rtt := 2.5
	snaps := []peer.IdentitySnapshot{
		{ID: "hxB", DisplayName: "", Endpoints: nil},
		{ID: "hxA", DisplayName: "Node A", EndpointCount: 2, Endpoints: []peer.EndpointSnapshot{
			{IP: "10.0.0.1:7100", OccurrenceCount: 3, PeerRole: peer.RoleSelf, RoundTripTime: &rtt},
			{IP: "10.0.0.2:7100", OccurrenceCount: 1, PeerRole: peer.RoleFriends},
		}},
	}
	require.NoError(t, s.SaveIdentities(runID, snaps))

	loaded, err := s.LoadIdentities(runID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "hxA", loaded[0].ID)
	assert.Equal(t, "Node A", loaded[0].DisplayName)
	assert.Equal(t, 2, loaded[0].EndpointCount)
	require.Len(t, loaded[0].Endpoints, 2)
	assert.Equal(t, 3, loaded[0].Endpoints[0].OccurrenceCount)
	require.NotNil(t, loaded[0].Endpoints[0].RoundTripTime)
	assert.Equal(t, 2.5, *loaded[0].Endpoints[0].RoundTripTime)
	assert.Nil(t, loaded[0].Endpoints[1].RoundTripTime)

	assert.Equal(t, "hxB", loaded[1].ID)
	assert.Empty(t, loaded[1].Endpoints)
}

func TestSaveIdentitiesUpserts(t *testing.T) {
	s := newTestStorage(t)
	runID, err := s.CreateRun(Run{Seeds: []string{"10.0.0.1"}, Platform: "icon", StartedAt: time.Now()})
	require.NoError(t, err)

	rtt := 7.0
	first := []peer.IdentitySnapshot{{ID: "hxA", Endpoints: []peer.EndpointSnapshot{
		{IP: "10.0.0.1:7100", OccurrenceCount: 1, PeerRole: peer.RoleFriends, RoundTripTime: &rtt},
	}}}
	second := []peer.IdentitySnapshot{{ID: "hxA", DisplayName: "Node A", Endpoints: []peer.EndpointSnapshot{
		{IP: "10.0.0.1:7100", OccurrenceCount: 4, PeerRole: peer.RoleSelf},
	}}}
	require.NoError(t, s.SaveIdentities(runID, first))
	require.NoError(t, s.SaveIdentities(runID, second))

	loaded, err := s.LoadIdentities(runID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Node A", loaded[0].DisplayName)
	ep := loaded[0].Endpoints[0]
	assert.Equal(t, 4, ep.OccurrenceCount)
	assert.Equal(t, peer.RoleSelf, ep.PeerRole)
	// a missing rtt does not erase the stored one
	require.NotNil(t, ep.RoundTripTime)
	assert.Equal(t, 7.0, *ep.RoundTripTime)
}

func TestSaveIdentitiesUnknownRun(t *testing.T) {
	s := newTestStorage(t)

	err := s.SaveIdentities(99, []peer.IdentitySnapshot{{ID: "hxA"}})
	assert.Error(t, err)
}

func TestListRuns(t *testing.T) {
	s := newTestStorage(t)

	first, err := s.CreateRun(Run{Seeds: []string{"10.0.0.1"}, Platform: "icon", StartedAt: time.Now()})
	require.NoError(t, err)
	second, err := s.CreateRun(Run{Seeds: []string{"10.0.0.2", "10.0.0.3"}, Platform: "havah", StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.SaveIdentities(first, []peer.IdentitySnapshot{{ID: "hxA"}, {ID: "hxB"}}))

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].RunID)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, runs[0].Seeds)
	assert.Equal(t, 0, runs[0].IdentityCount)
	assert.Equal(t, first, runs[1].RunID)
	assert.Equal(t, 2, runs[1].IdentityCount)
}
