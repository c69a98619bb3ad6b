package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// tally counts the failures of one branch and everything below it
type tally struct {
	errors   int
	timeouts int
}

func (t *tally) add(o tally) {
	t.errors += o.errors
	t.timeouts += o.timeouts
}

func (t tally) failed() bool {
	return t.errors > 0 || t.timeouts > 0
}

// failure converts a request error into a one-failure tally
func failure(err error) tally {
	if isTimeout(err) {
		return tally{timeouts: 1}
	}
	return tally{errors: 1}
}

// fanOut runs fn for every item concurrently and sums the tallies.
// A failing or panicking branch never cancels its siblings.
func fanOut(items []string, fn func(string) tally) tally {
	tallies := make([]tally, len(items))

	var g errgroup.Group
	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("[BRANCH PANIC] %s - %v", item, r)
					tallies[i] = tally{errors: 1}
				}
			}()
			tallies[i] = fn(item)
			return nil
		})
	}
	_ = g.Wait()

	var total tally
	for _, t := range tallies {
		total.add(t)
	}
	return total
}

// collectIPs queries the node behind addr, records the addresses it reports
// and recurses into unvisited neighbors at depth+1
func (c *Crawler) collectIPs(ctx context.Context, addr string, depth int) tally {
	logrus.Debugf("[COLLECT_IPS] %s, depth=%d", addr, depth)

	if depth > c.cfg.MaxDepth {
		return tally{}
	}

	queryURL, err := QueryURL(addr, c.cfg.AdminPort)
	if err != nil {
		logrus.Warnf("[FORMAT ERROR] Invalid address %q: %v", addr, err)
		return tally{errors: 1}
	}

	if !c.state.MarkVisited(queryURL) {
		return tally{}
	}

	if err := c.res.Acquire(ctx); err != nil {
		logrus.Debugf("[IP CANCELLED] %s - %v", queryURL, err)
		return tally{}
	}
	neighbors, err := c.exploreNode(ctx, queryURL)
	c.res.Release()

	if err != nil {
		c.state.MarkFailed(queryURL)
		if errors.Is(err, errMissingPeerTable) {
			logrus.Warnf("[IP DETAIL] %s - %v", queryURL, err)
		} else {
			logrus.Warnf("[IP ERROR] %s - %v", queryURL, err)
		}
		return failure(err)
	}

	c.tracker.IncrementNodesVisited()

	return fanOut(neighbors, func(next string) tally {
		return c.collectIPs(ctx, next, depth+1)
	})
}

// exploreNode issues the roster, nid and detail requests for one node while the
// caller holds a permit. Returns the neighbor addresses still to explore.
func (c *Crawler) exploreNode(ctx context.Context, queryURL string) ([]string, error) {
	if attempted, err := c.ensureRoster(ctx, queryURL); attempted && err != nil {
		return nil, fmt.Errorf("validator roster: %w", err)
	}

	table, err := c.fetchPeerTable(ctx, queryURL)
	if err != nil {
		return nil, err
	}

	if table.Self.Addr != "" {
		c.addDiscovered(table.Self.Addr)
	}

	var toExplore []string
	for _, neighbor := range table.neighbors() {
		if neighbor.Addr == "" {
			continue
		}
		neighborURL, err := QueryURL(neighbor.Addr, c.cfg.AdminPort)
		if err != nil {
			logrus.Debugf("[FORMAT ERROR] %s reported invalid address %q", queryURL, neighbor.Addr)
			continue
		}
		if c.state.IsVisited(neighborURL) {
			continue
		}
		c.addDiscovered(neighbor.Addr)
		toExplore = append(toExplore, neighbor.Addr)
	}

	return toExplore, nil
}

func (c *Crawler) addDiscovered(addr string) {
	if c.state.AddDiscovered(addr) {
		c.tracker.IncrementIPsDiscovered()
	}
}

// ensureRoster fetches the validator roster once per run.
// attempted is true only for the caller that actually issued the request.
func (c *Crawler) ensureRoster(ctx context.Context, queryURL string) (attempted bool, err error) {
	c.rosterOnce.Do(func() {
		attempted = true
		start := time.Now()
		roster, rerr := c.res.Registry().RegisteredValidators(ctx, queryURL)
		c.tracker.RecordRequest(time.Since(start), rerr, isTimeout(rerr))
		if rerr != nil {
			err = rerr
			return
		}

		c.rosterMu.Lock()
		c.roster = roster
		c.rosterMu.Unlock()
		logrus.Infof("[ROSTER] %d registered validators from %s", len(roster), queryURL)
	})
	return attempted, err
}
