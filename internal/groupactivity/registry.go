package groupactivity

import (
	"sync"
	"time"

	"backend-activitytracker/internal/lifecycle"

	gocache "github.com/patrickmn/go-cache"
)

// room guards one GroupSession; every membership change goes through it.
type room struct {
	mu      sync.Mutex
	session *lifecycle.GroupSession
}

func (r *room) view() lifecycle.SessionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Snapshot()
}

// registry indexes live sessions by id and by join code. Entries expire
// after ttl without activity.
type registry struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func newRegistry(ttl time.Duration) *registry {
	return &registry{
		cache: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

func idKey(id string) string     { return "id:" + id }
func codeKey(code string) string { return "code:" + code }

// add stores r under both keys. It fails when the code is already taken.
func (g *registry) add(r *room) bool {
	if err := g.cache.Add(codeKey(r.session.JoinCode), r, g.ttl); err != nil {
		return false
	}
	g.cache.Set(idKey(r.session.ID), r, g.ttl)
	return true
}

func (g *registry) byID(id string) (*room, bool) {
	return g.lookup(idKey(id))
}

func (g *registry) byCode(code string) (*room, bool) {
	return g.lookup(codeKey(code))
}

func (g *registry) lookup(key string) (*room, bool) {
	v, ok := g.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*room), true
}

// touch extends the lifetime of a session that saw activity.
func (g *registry) touch(r *room) {
	g.cache.Set(idKey(r.session.ID), r, g.ttl)
	g.cache.Set(codeKey(r.session.JoinCode), r, g.ttl)
}

func (g *registry) count() int {
	return g.cache.ItemCount() / 2
}
