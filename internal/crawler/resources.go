package crawler

import (
	"context"
	"fmt"
	"sync"

	"github.com/alvmarrod/peer-weaver/internal/config"
	"github.com/alvmarrod/peer-weaver/internal/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Session is the shared network session of one crawl run
type Session interface {
	rpc.Fetcher
	Closed() bool
	Close() error
}

// SessionFactory creates the network session
type SessionFactory func(cfg *config.Config) (Session, error)

// NewClientSession is the default SessionFactory, backed by the colly client
func NewClientSession(cfg *config.Config) (Session, error) {
	client, err := rpc.NewClient(rpc.Options{
		Timeout:        cfg.RequestTimeout(),
		Retries:        cfg.Retries,
		MaxConcurrency: cfg.MaxConcurrency,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Resources owns the session, the roster helper and the concurrency semaphore
type Resources struct {
	cfg        *config.Config
	platform   rpc.Platform
	newSession SessionFactory

	mu       sync.Mutex
	session  Session
	registry rpc.ValidatorRegistry
	sem      *semaphore.Weighted
}

// NewResources prepares resources; nothing is created until Open
func NewResources(cfg *config.Config, platform rpc.Platform, newSession SessionFactory) *Resources {
	if newSession == nil {
		newSession = NewClientSession
	}
	return &Resources{
		cfg:        cfg,
		platform:   platform,
		newSession: newSession,
	}
}

// Open creates the session, roster helper and semaphore.
// Safe to call repeatedly: a live session is reused.
func (r *Resources) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Closed() {
		session, err := r.newSession(r.cfg)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		r.session = session
		r.registry = nil
		logrus.Debug("[SESSION INIT] Created new session")
	}

	if r.registry == nil {
		registry, err := rpc.NewRegistry(r.platform, r.session)
		if err != nil {
			return fmt.Errorf("failed to create validator registry: %w", err)
		}
		r.registry = registry
		logrus.Debugf("[RPC HELPER INIT] %s validator registry", r.platform)
	}

	if r.sem == nil {
		r.sem = semaphore.NewWeighted(int64(r.cfg.MaxConcurrency))
		logrus.Debugf("[SEMAPHORE INIT] max_concurrency=%d", r.cfg.MaxConcurrency)
	}

	return nil
}

// Close releases the session. Calling it twice is harmless.
func (r *Resources) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Closed() {
		return nil
	}
	if err := r.session.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	logrus.Debug("[SESSION CLOSED]")
	return nil
}

// Session returns the open session
func (r *Resources) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Registry returns the roster helper bound to the session
func (r *Resources) Registry() rpc.ValidatorRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry
}

// Acquire takes one concurrency permit
func (r *Resources) Acquire(ctx context.Context) error {
	r.mu.Lock()
	sem := r.sem
	r.mu.Unlock()

	if sem == nil {
		return fmt.Errorf("resources not open")
	}
	return sem.Acquire(ctx, 1)
}

// Release returns one concurrency permit
func (r *Resources) Release() {
	r.mu.Lock()
	sem := r.sem
	r.mu.Unlock()

	sem.Release(1)
}
