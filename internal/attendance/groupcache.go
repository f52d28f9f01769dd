package attendance

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/your-org/fd-attendance/internal/roster"
)

// GroupCache is the group-membership half of spec §5's "group/person
// caches have a 120s TTL... concurrent misses serialize on the lock and
// the first caller populates", grounded on original_source's
// _get_group_context. It is an LRU-with-expiry (rather than a bare map)
// so a large, many-group roster doesn't grow it unbounded —
// hashicorp/golang-lru/v2, wired in per SPEC_FULL.md's DOMAIN STACK
// because no pack repo offers a TTL cache and the teacher has none.
type GroupCache struct {
	repo  roster.Repository
	org   string
	cache *lru.LRU[string, []string]
	mu    sync.Mutex
	inFlight map[string]chan struct{}
}

// NewGroupCache constructs a cache with the configured TTL and a
// generous size cap (1024 distinct group refs); groups are looked up by
// id, slug, or name so each alias occupies its own cache slot.
func NewGroupCache(repo roster.Repository, org string, ttl time.Duration) *GroupCache {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &GroupCache{
		repo:     repo,
		org:      org,
		cache:    lru.NewLRU[string, []string](1024, nil, ttl),
		inFlight: make(map[string]chan struct{}),
	}
}

// Members resolves groupRef to its person_id membership set, refreshing
// from the repository on a cache miss. Concurrent misses for the same
// ref serialize on inFlight so only the first caller hits the
// repository, per spec §5.
func (g *GroupCache) Members(ctx context.Context, groupRef string) ([]string, error) {
	key := strings.ToLower(strings.TrimSpace(groupRef))
	if key == "" {
		return nil, nil
	}

	if members, ok := g.cache.Get(key); ok {
		return members, nil
	}

	g.mu.Lock()
	if wait, busy := g.inFlight[key]; busy {
		g.mu.Unlock()
		<-wait
		if members, ok := g.cache.Get(key); ok {
			return members, nil
		}
		return nil, nil
	}
	done := make(chan struct{})
	g.inFlight[key] = done
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inFlight, key)
		g.mu.Unlock()
		close(done)
	}()

	members, err := g.repo.GroupMembers(ctx, g.org, groupRef)
	if err != nil {
		return nil, err
	}
	g.cache.Add(key, members)
	return members, nil
}

// PersonCache resolves label<->person_id in both directions, grounded on
// original_source's _label_to_person_id/_person_id_to_label: a TTL-
// refreshed snapshot of the roster scanned in memory rather than a query
// per lookup.
type PersonCache struct {
	repo roster.Repository
	org  string
	ttl  time.Duration

	mu          sync.Mutex
	labelToPID  map[string]string // lower(label) -> person_id
	pidToLabel  map[string]string
	refreshedAt time.Time
}

func NewPersonCache(repo roster.Repository, org string, ttl time.Duration) *PersonCache {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &PersonCache{repo: repo, org: org, ttl: ttl}
}

func (p *PersonCache) refreshLocked(ctx context.Context) error {
	if time.Since(p.refreshedAt) < p.ttl && p.labelToPID != nil {
		return nil
	}
	identities, err := p.repo.ListIdentities(ctx, p.org)
	if err != nil {
		return err
	}
	labelToPID := make(map[string]string, len(identities))
	pidToLabel := make(map[string]string, len(identities))
	for _, id := range identities {
		if id.PersonID == "" {
			continue
		}
		labelToPID[strings.ToLower(id.Label)] = id.PersonID
		pidToLabel[id.PersonID] = id.Label
	}
	p.labelToPID = labelToPID
	p.pidToLabel = pidToLabel
	p.refreshedAt = time.Now()
	return nil
}

// PersonID resolves label to its person_id, or "" if unknown. An empty
// label returns "" without a repository round trip.
func (p *PersonCache) PersonID(ctx context.Context, label string) string {
	if label == "" {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refreshLocked(ctx); err != nil {
		if p.labelToPID == nil {
			return ""
		}
	}
	return p.labelToPID[strings.ToLower(label)]
}

// Label resolves personID to its current label, or "" if unknown.
func (p *PersonCache) Label(ctx context.Context, personID string) string {
	if personID == "" {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refreshLocked(ctx); err != nil {
		if p.pidToLabel == nil {
			return ""
		}
	}
	return p.pidToLabel[personID]
}

// Invalidate forces the next lookup to refresh from the repository —
// called after enrollment (§4.8 step 8: "Invalidate the identity-list
// cache") so a just-renamed label resolves immediately.
func (p *PersonCache) Invalidate() {
	p.mu.Lock()
	p.refreshedAt = time.Time{}
	p.mu.Unlock()
}
