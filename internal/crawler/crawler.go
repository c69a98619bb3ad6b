package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/config"
	"github.com/alvmarrod/peer-weaver/internal/memory"
	"github.com/alvmarrod/peer-weaver/internal/metrics"
	"github.com/alvmarrod/peer-weaver/internal/rpc"
	"github.com/alvmarrod/peer-weaver/internal/topology"
	"github.com/sirupsen/logrus"
)

// Crawler maps the P2P topology reachable from the configured seeds.
// A Crawler holds run-scoped state and is meant for a single Run.
type Crawler struct {
	cfg     *config.Config
	res     *Resources
	tracker *metrics.Tracker
	state   *State
	book    *memory.Book

	rosterOnce sync.Once
	rosterMu   sync.RWMutex
	roster     map[string]rpc.Validator

	nidMu sync.Mutex
	nid   string

	runOnce sync.Once
}

// NewCrawler creates a crawler. newSession may be nil to use the colly client,
// tracker may be nil to use a private one.
func NewCrawler(cfg *config.Config, tracker *metrics.Tracker, newSession SessionFactory) (*Crawler, error) {
	platform, err := rpc.ParsePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	return &Crawler{
		cfg:     cfg,
		res:     NewResources(cfg, platform, newSession),
		tracker: tracker,
		state:   NewState(),
		book:    memory.NewBook(),
		roster:  make(map[string]rpc.Validator),
		nid:     cfg.NID,
	}, nil
}

// Run executes IP discovery, identity discovery and synthesis.
// Per-node failures only show up in the statistics; an error is returned only
// when the run cannot start.
func (c *Crawler) Run(ctx context.Context) (topology.Result, error) {
	ran := false
	c.runOnce.Do(func() { ran = true })
	if !ran {
		return topology.Result{}, fmt.Errorf("crawler already ran")
	}

	startTime := time.Now()

	if err := c.res.Open(); err != nil {
		return topology.Result{}, fmt.Errorf("failed to open resources: %w", err)
	}
	defer func() {
		if err := c.res.Close(); err != nil {
			logrus.Warnf("Failed to close resources: %v", err)
		}
	}()

	logrus.Infof("***** Crawler started: seeds=%s, max_concurrency=%d, max_depth=%d, platform=%s",
		strings.Join(c.cfg.SeedURLs, ","), c.cfg.MaxConcurrency, c.cfg.MaxDepth, c.cfg.Platform)

	// Phase 1
	logrus.Info("[PHASE 1] Collecting IPs")
	var total tally
	total.add(fanOut(c.cfg.SeedURLs, func(seed string) tally {
		return c.collectIPs(ctx, seed, 0)
	}))
	visited, discovered, failed := c.state.GetStats()
	logrus.Infof("[PHASE 1 COMPLETE] IPs collected: %d, visited: %d, failed: %d", discovered, visited, failed)

	// Phase 2
	logrus.Info("[PHASE 2] Collecting identities")
	c.book.SetNames(c.RosterNames())
	total.add(c.collectIdentities(ctx))
	identities, relations := c.book.GetStats()
	logrus.Infof("[PHASE 2 COMPLETE] Identities collected: %d (%d identity/IP relations)", identities, relations)

	// Phase 3
	result := topology.Synthesize(topology.Input{
		Identities:    c.book.Identities(),
		DiscoveredIPs: c.state.DiscoveredIPs(),
		Roster:        c.RosterNames(),
		Visited:       visited,
		ErrorCount:    total.errors,
		TimeoutCount:  total.timeouts,
		Elapsed:       time.Since(startTime),
	})

	logrus.Infof("[TOTAL COMPLETE] Total time: %.2fs, IPs: %d, identities: %d, errors: %d, timeouts: %d",
		result.Statistics.Elapsed.Seconds(), result.Statistics.TotalIPs, result.Statistics.TotalIdentities,
		result.Statistics.ErrorCount, result.Statistics.TimeoutCount)

	return result, nil
}

// Run is a convenience wrapper creating a crawler with the default session
func Run(ctx context.Context, cfg *config.Config, tracker *metrics.Tracker) (topology.Result, error) {
	c, err := NewCrawler(cfg, tracker, nil)
	if err != nil {
		return topology.Result{}, err
	}
	return c.Run(ctx)
}

// Book exposes the identity book, e.g. for flushing to storage after Run
func (c *Crawler) Book() *memory.Book {
	return c.book
}

// DiscoveredIPs returns every address found by IP discovery
func (c *Crawler) DiscoveredIPs() []string {
	return c.state.DiscoveredIPs()
}

// RosterNames returns identity -> display name for the cached roster
func (c *Crawler) RosterNames() map[string]string {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()

	names := make(map[string]string, len(c.roster))
	for id, v := range c.roster {
		names[id] = v.Name
	}
	return names
}

// fetch issues one admin request through the session and records its timing
func (c *Crawler) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	start := time.Now()
	body, err := c.res.Session().Fetch(ctx, url)
	c.tracker.RecordRequest(time.Since(start), err, isTimeout(err))
	logrus.Debugf("[RESPONSE] %s - %d bytes, err=%v", url, len(body), err)
	return body, err
}

// resolveNID returns the configured or cached network id, asking the node otherwise
func (c *Crawler) resolveNID(ctx context.Context, queryURL string) (string, error) {
	c.nidMu.Lock()
	nid := c.nid
	c.nidMu.Unlock()
	if nid != "" {
		return nid, nil
	}

	raw, err := c.fetch(ctx, queryURL+"/admin/chain")
	if err != nil {
		return "", err
	}
	nid, err = parseNID(raw)
	if err != nil {
		return "", &rpc.TransportError{URL: queryURL + "/admin/chain", Err: err}
	}

	c.nidMu.Lock()
	if c.nid == "" {
		c.nid = nid
		logrus.Infof("[NID] Network id %s from %s", nid, queryURL)
	}
	c.nidMu.Unlock()
	return nid, nil
}

// fetchPeerTable fetches /admin/chain/<nid> and extracts the p2p table
func (c *Crawler) fetchPeerTable(ctx context.Context, queryURL string) (*peerTable, error) {
	nid, err := c.resolveNID(ctx, queryURL)
	if err != nil {
		return nil, err
	}

	raw, err := c.fetch(ctx, queryURL+"/admin/chain/"+nid)
	if err != nil {
		return nil, err
	}
	return parsePeerTable(raw)
}

func isTimeout(err error) bool {
	return rpc.IsTimeout(err)
}
