package crawler

import (
	"context"

	"github.com/sirupsen/logrus"
)

// collectIdentities runs identity discovery for every discovered address
func (c *Crawler) collectIdentities(ctx context.Context) tally {
	return fanOut(c.state.DiscoveredIPs(), func(ip string) tally {
		return c.collectIdentity(ctx, ip)
	})
}

// collectIdentity reads the full peer table of the node behind ip and folds
// every (identity, ip) pair it reports into the identity book
func (c *Crawler) collectIdentity(ctx context.Context, ip string) tally {
	logrus.Debugf("[COLLECT_IDENTITY] %s", ip)

	queryURL, err := QueryURL(ip, c.cfg.AdminPort)
	if err != nil {
		logrus.Warnf("[FORMAT ERROR] Invalid address %q: %v", ip, err)
		return tally{errors: 1}
	}

	// Unreachable nodes were already counted during IP discovery
	if c.state.IsFailed(queryURL) {
		logrus.Debugf("[IDENTITY SKIP] %s failed during IP discovery", queryURL)
		return tally{}
	}
	if !c.state.ClaimDetail(queryURL) {
		return tally{}
	}

	if err := c.res.Acquire(ctx); err != nil {
		logrus.Debugf("[IDENTITY CANCELLED] %s - %v", queryURL, err)
		return tally{}
	}
	table, err := c.fetchPeerTable(ctx, queryURL)
	c.res.Release()

	if err != nil {
		logrus.Warnf("[IDENTITY ERROR] %s - %v", queryURL, err)
		return failure(err)
	}

	for _, obs := range table.observations(ip) {
		c.recordObservation(obs.id, obs.ip, obs.role, obs.rtt)
	}
	return tally{}
}

// recordObservation upserts one (identity, ip) pairing
func (c *Crawler) recordObservation(id, ip, role string, rtt *float64) {
	if c.book.Record(id, ip, role, rtt) {
		logrus.Debugf("[NEW IDENTITY] %s at %s (%s)", id, ip, role)
	}
	c.tracker.IncrementObservations()
}
