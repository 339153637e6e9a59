package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Loader returns the persisted seed of a document.
type Loader interface {
	LoadDocument(ctx context.Context, docID string) (version int64, content json.RawMessage, err error)
}

type RegistryOptions struct {
	IdleTTL            time.Duration
	PendingOpsCap      int
	LoadTimeout        time.Duration
	MaxConcurrentLoads int
}

func (o RegistryOptions) withDefaults() RegistryOptions {
	if o.IdleTTL <= 0 {
		o.IdleTTL = 5 * time.Minute
	}
	if o.PendingOpsCap <= 0 {
		o.PendingOpsCap = 1024
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 2 * time.Second
	}
	if o.MaxConcurrentLoads <= 0 {
		o.MaxConcurrentLoads = DefaultMaxSemaphore
	}
	return o
}

// Registry owns one Session per open document.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	loader Loader
	opts   RegistryOptions
	loads  singleflight.Group
	sem    *SemaphoreControl
	now    func() time.Time
}

func NewRegistry(loader Loader, opts RegistryOptions) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		sessions: make(map[string]*Session),
		loader:   loader,
		opts:     opts,
		sem:      NewSemaphoreControl(opts.MaxConcurrentLoads),
		now:      time.Now,
	}
}

func (r *Registry) Lookup(docID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[docID]
	return s, ok
}

// Members lists the distinct users present in the live session, if any.
func (r *Registry) Members(docID string) []string {
	s, ok := r.Lookup(docID)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range s.Presence() {
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p.UserID)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetOrCreate returns the live session for docID, seeding a new one from the
// loader on a miss. Seed failures fall back to an empty document at version 0.
func (r *Registry) GetOrCreate(ctx context.Context, docID string) *Session {
	if s, ok := r.Lookup(docID); ok {
		return s
	}

	v, _, _ := r.loads.Do(docID, func() (any, error) {
		if s, ok := r.Lookup(docID); ok {
			return s, nil
		}
		version, content := r.seed(ctx, docID)

		r.mu.Lock()
		defer r.mu.Unlock()
		if s, ok := r.sessions[docID]; ok {
			return s, nil
		}
		s := newSession(docID, version, content, r.opts.PendingOpsCap, r.now)
		r.sessions[docID] = s
		return s, nil
	})
	return v.(*Session)
}

func (r *Registry) seed(ctx context.Context, docID string) (int64, json.RawMessage) {
	if r.loader == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.LoadTimeout)
	defer cancel()

	if err := r.sem.Acquire(ctx); err != nil {
		log.Warn().Err(err).Str("docId", docID).Msg("seed load skipped")
		return 0, nil
	}
	defer r.sem.Release()

	version, content, err := r.loader.LoadDocument(ctx, docID)
	if err != nil {
		log.Warn().Err(err).Str("docId", docID).Msg("seed load failed, starting empty")
		return 0, nil
	}
	return version, content
}

// Join registers the connection with the document's session. A session that
// is evicted between lookup and join is replaced by a fresh one.
func (r *Registry) Join(ctx context.Context, docID, connID, userID string) (*Session, Snapshot) {
	for {
		s := r.GetOrCreate(ctx, docID)
		if snap, ok := s.join(connID, userID); ok {
			return s, snap
		}
	}
}

// Session returns the session only if connID is one of its members.
func (r *Registry) Session(docID, connID string) (*Session, error) {
	s, ok := r.Lookup(docID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !s.HasConn(connID) {
		return nil, ErrNotJoined
	}
	return s, nil
}

// Sweep evicts sessions that have had no members for the idle TTL.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.tryEvict(now, r.opts.IdleTTL) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case now := <-t.C:
			if n := r.Sweep(now); n > 0 {
				log.Debug().Int("evicted", n).Int("open", r.Len()).Msg("idle sessions evicted")
			}
		}
	}
}
