package crawler

import (
	"sort"
	"sync"
)

// State is the run-scoped bookkeeping shared by every crawl branch.
// All check-then-add operations are atomic.
type State struct {
	mu         sync.Mutex
	visited    map[string]bool // admin query URLs seen by IP discovery
	discovered map[string]bool // peer addresses as reported by nodes
	failed     map[string]bool // query URLs whose IP discovery request failed
	detailed   map[string]bool // query URLs claimed by identity discovery
}

// NewState creates empty crawl state
func NewState() *State {
	return &State{
		visited:    make(map[string]bool),
		discovered: make(map[string]bool),
		failed:     make(map[string]bool),
		detailed:   make(map[string]bool),
	}
}

// MarkVisited adds url to the visited set.
// Returns true if added, false if it was already visited.
func (s *State) MarkVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.visited[url] {
		return false
	}
	s.visited[url] = true
	return true
}

// IsVisited reports whether url was already visited
func (s *State) IsVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited[url]
}

// AddDiscovered adds a peer address. Returns true if it is new.
func (s *State) AddDiscovered(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discovered[addr] {
		return false
	}
	s.discovered[addr] = true
	return true
}

// MarkFailed records that the node behind url did not answer IP discovery
func (s *State) MarkFailed(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[url] = true
}

// IsFailed reports whether url failed during IP discovery
func (s *State) IsFailed(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[url]
}

// ClaimDetail reserves url for identity discovery.
// Returns false if it was already claimed.
func (s *State) ClaimDetail(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detailed[url] {
		return false
	}
	s.detailed[url] = true
	return true
}

// DiscoveredIPs returns a sorted snapshot of the discovered addresses
func (s *State) DiscoveredIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ips := make([]string, 0, len(s.discovered))
	for ip := range s.discovered {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

// GetStats returns the visited, discovered and failed counts
func (s *State) GetStats() (visited, discovered, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited), len(s.discovered), len(s.failed)
}
