package reqcore

import (
	"container/list"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// EvictionPolicy selects a victim key when CacheFeature is over capacity.
// This is the strategy-pattern seam: onInsert/onAccess keep the policy's
// bookkeeping current; selectVictim picks who goes.
type EvictionPolicy interface {
	OnInsert(key string)
	OnAccess(key string)
	SelectVictim() (string, bool)
	Remove(key string)
}

// EvictionKind names the built-in policies CacheFeature can select by
// string.
type EvictionKind string

const (
	EvictionLRU       EvictionKind = "lru"
	EvictionFIFO      EvictionKind = "fifo"
	EvictionTimeBased EvictionKind = "time_based"
)

// NewEvictionPolicy constructs a built-in EvictionPolicy by kind. Callers
// wanting a bespoke strategy implement EvictionPolicy directly instead.
func NewEvictionPolicy(kind EvictionKind) EvictionPolicy {
	switch kind {
	case EvictionFIFO:
		return newFIFOPolicy()
	case EvictionTimeBased:
		return timeBasedPolicy{}
	default:
		return newLRUPolicy()
	}
}

// lruPolicy wraps hashicorp/golang-lru's simplelru.LRU as a pure
// key-tracker (a near-unbounded capacity of 1<<31-1 keeps it from evicting
// on its own; CacheFeature asks SelectVictim when it decides capacity is
// exceeded).
type lruPolicy struct {
	mu sync.Mutex
	l  *lru.LRU[string, struct{}]
}

func newLRUPolicy() *lruPolicy {
	// onEvict is nil: CacheFeature drives eviction explicitly via
	// SelectVictim so it can remove the entry from CacheStorage too.
	l, _ := lru.NewLRU[string, struct{}](1<<31-1, nil)
	return &lruPolicy{l: l}
}

func (p *lruPolicy) OnInsert(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.l.Add(key, struct{}{})
}

func (p *lruPolicy) OnAccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.l.Get(key)
}

func (p *lruPolicy) SelectVictim() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, _, ok := p.l.GetOldest()
	return key, ok
}

func (p *lruPolicy) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.l.Remove(key)
}

// fifoPolicy evicts in pure insertion order regardless of access: it
// never promotes on Get, which is the whole point of offering FIFO as a
// distinct policy from LRU.
type fifoPolicy struct {
	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

func newFIFOPolicy() *fifoPolicy {
	return &fifoPolicy{order: list.New(), index: make(map[string]*list.Element)}
}

func (p *fifoPolicy) OnInsert(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[key]; ok {
		return
	}
	p.index[key] = p.order.PushBack(key)
}

func (p *fifoPolicy) OnAccess(string) {}

func (p *fifoPolicy) SelectVictim() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	front := p.order.Front()
	if front == nil {
		return "", false
	}
	return front.Value.(string), true
}

func (p *fifoPolicy) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.index[key]; ok {
		p.order.Remove(el)
		delete(p.index, key)
	}
}

// timeBasedPolicy never picks a victim by capacity; it relies purely on
// TTL expiry plus CacheFeature's background sweeper.
type timeBasedPolicy struct{}

func (timeBasedPolicy) OnInsert(string)          {}
func (timeBasedPolicy) OnAccess(string)          {}
func (timeBasedPolicy) SelectVictim() (string, bool) { return "", false }
func (timeBasedPolicy) Remove(string)            {}
