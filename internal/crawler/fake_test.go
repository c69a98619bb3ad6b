package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alvmarrod/peer-weaver/internal/config"
	"github.com/alvmarrod/peer-weaver/internal/rpc"
	"github.com/stretchr/testify/require"
)

const testNID = "0x1"

// fakeSession answers admin requests from canned responses
type fakeSession struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	failures  map[string]error
	calls     map[string]int
	roster    json.RawMessage
	rosterErr error
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		responses: make(map[string]json.RawMessage),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		roster:    json.RawMessage(`{"preps":[]}`),
	}
}

func (f *fakeSession) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url]++
	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	if body, ok := f.responses[url]; ok {
		return body, nil
	}
	return nil, &rpc.TransportError{URL: url, StatusCode: 404, Err: errors.New("not found")}
}

func (f *fakeSession) Call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[url+"#"+method]++
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	return f.roster, nil
}

func (f *fakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeSession) totalCalls(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for url, c := range f.calls {
		if strings.HasSuffix(url, suffix) {
			n += c
		}
	}
	return n
}

// setRoster installs ICON getPReps entries, id -> name
func (f *fakeSession) setRoster(entries map[string]string) {
	var preps []map[string]string
	for id, name := range entries {
		preps = append(preps, map[string]string{"nodeAddress": id, "name": name})
	}
	raw, _ := json.Marshal(map[string]any{"preps": preps})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.roster = raw
}

// addNode registers host's chain list and peer table.
// table is the JSON of module.network.p2p.
func (f *fakeSession) addNode(host, table string) {
	base := "http://" + host + ":9000"

	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[base+"/admin/chain"] = json.RawMessage(fmt.Sprintf(`[{"nid":%q,"channel":"icon_dex"}]`, testNID))
	f.responses[base+"/admin/chain/"+testNID] = json.RawMessage(fmt.Sprintf(`{"module":{"network":{"p2p":%s}}}`, table))
}

// failDetail makes the detail request of host fail with err
func (f *fakeSession) failDetail(host string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures["http://"+host+":9000/admin/chain/"+testNID] = err
}

func detailURL(host string) string {
	return "http://" + host + ":9000/admin/chain/" + testNID
}

func timeoutErr(host string) error {
	return fmt.Errorf("%s: %w", host, rpc.ErrTimeout)
}

func testConfig(seeds ...string) *config.Config {
	return &config.Config{
		SeedURLs:         seeds,
		MaxDepth:         2,
		MaxConcurrency:   5,
		RequestTimeoutMs: 1000,
		Retries:          1,
		Platform:         "icon",
		AdminPort:        9000,
	}
}

// newTestCrawler builds a crawler over fs with its resources opened
func newTestCrawler(t *testing.T, cfg *config.Config, fs *fakeSession) *Crawler {
	t.Helper()

	c, err := NewCrawler(cfg, nil, func(*config.Config) (Session, error) { return fs, nil })
	require.NoError(t, err)
	require.NoError(t, c.res.Open())
	t.Cleanup(func() { _ = c.res.Close() })
	return c
}
