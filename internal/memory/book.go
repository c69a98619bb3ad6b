package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/peer"
	"github.com/alvmarrod/peer-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// Book holds the identity aggregates of one crawl run in memory
type Book struct {
	identities map[string]*peer.Identity // id -> identity
	names      map[string]string         // id -> display name from the validator roster
	mu         sync.RWMutex
}

// NewBook creates an empty identity book
func NewBook() *Book {
	return &Book{
		identities: make(map[string]*peer.Identity),
		names:      make(map[string]string),
	}
}

// SetNames installs the display names used for identities created from now on
func (b *Book) SetNames(names map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.names = make(map[string]string, len(names))
	for id, name := range names {
		b.names[id] = name
	}
}

// Record upserts one (identity, ip) observation.
// Returns true if the identity was seen for the first time.
func (b *Book) Record(id, ip, role string, rtt *float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	identity, exists := b.identities[id]
	if !exists {
		identity = peer.NewIdentity(id, b.names[id])
		b.identities[id] = identity
	}

	identity.AddEndpoint(ip, role, rtt)
	return !exists
}

// Get returns a copy of one identity, nil if unknown
func (b *Book) Get(id string) *peer.Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if identity, exists := b.identities[id]; exists {
		return identity.Clone()
	}
	return nil
}

// Identities returns a deep copy of every identity
func (b *Book) Identities() map[string]*peer.Identity {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]*peer.Identity, len(b.identities))
	for id, identity := range b.identities {
		out[id] = identity.Clone()
	}
	return out
}

// GetStats returns the identity count and the total identity->IP relation count
func (b *Book) GetStats() (identityCount, relationCount int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, identity := range b.identities {
		relationCount += identity.EndpointCount()
	}
	return len(b.identities), relationCount
}

// Snapshots returns the plain-data form of every identity, sorted by id
func (b *Book) Snapshots() []peer.IdentitySnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snaps := make([]peer.IdentitySnapshot, 0, len(b.identities))
	for _, identity := range b.identities {
		snaps = append(snaps, identity.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Load rehydrates stored snapshots into live identities.
// Snapshots for an id already in the book are merged into it.
func (b *Book) Load(snaps []peer.IdentitySnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, snap := range snaps {
		loaded := peer.Rehydrate(snap)
		existing, exists := b.identities[loaded.ID]
		if !exists {
			if loaded.DisplayName == "" {
				loaded.DisplayName = b.names[loaded.ID]
			}
			b.identities[loaded.ID] = loaded
			continue
		}

		for ip, ep := range loaded.Endpoints {
			if cur, ok := existing.Endpoints[ip]; ok {
				cur.OccurrenceCount += ep.OccurrenceCount
				if ep.PeerRole != "" {
					cur.PeerRole = ep.PeerRole
				}
				if ep.RoundTripTime != nil {
					cur.RoundTripTime = ep.RoundTripTime
				}
				continue
			}
			existing.Endpoints[ip] = ep
		}
	}
}

// LoadFromStorage populates the book from a stored run
func (b *Book) LoadFromStorage(store *storage.Storage, runID int64) error {
	logrus.Infof("Loading identities of run %d from database...", runID)

	snaps, err := store.LoadIdentities(runID)
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}

	b.Load(snaps)

	logrus.Infof("Loaded %d identities into memory", len(snaps))
	return nil
}

// Flush writes every identity of the book to SQLite storage under runID
func (b *Book) Flush(store *storage.Storage, runID int64) error {
	startTime := time.Now()
	logrus.Info("Starting flush to database...")

	snaps := b.Snapshots()
	if err := store.SaveIdentities(runID, snaps); err != nil {
		return fmt.Errorf("failed to flush identities: %w", err)
	}

	logrus.Infof("Flush complete: %d identities written in %v", len(snaps), time.Since(startTime))
	return nil
}
