package arp

import (
	"sync"
	"time"

	"github.com/quietmachine/tapstack/internal/wire"
)

// State is an ARP cache entry's lifecycle state.
type State uint8

const (
	// StateIncomplete marks an entry created for a pending request with
	// no reply yet (not currently stored by this implementation, which
	// only inserts entries once a sender binding is observed, but kept
	// as part of the documented state set for callers that pre-seed one).
	StateIncomplete State = iota
	// StateResolved is a normal learned binding.
	StateResolved
	// StateStatic is a manually-inserted binding that never expires.
	StateStatic
)

// TTL is the cache entry lifetime before eviction-on-access.
const TTL = 4 * time.Hour

// entry is a single cache row: (state, hw-addr, inserted-at).
type entry struct {
	state      State
	hwAddr     wire.MAC
	insertedAt time.Time
}

// Cache is the ARP proto-addr -> hw-addr table. At most one entry per
// proto-addr is stored at any time; Upsert replaces atomically. Entries
// older than TTL are evicted lazily, on access, rather than by a
// background sweep.
type Cache struct {
	mu      sync.Mutex
	entries map[wire.IPv4]entry
	now     func() time.Time
}

// NewCache creates an empty ARP cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[wire.IPv4]entry),
		now:     time.Now,
	}
}

// Lookup returns the hardware address bound to ip, if a non-expired
// entry exists. An expired entry is evicted as a side effect of the
// lookup.
func (c *Cache) Lookup(ip wire.IPv4) (wire.MAC, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok {
		return wire.MAC{}, false
	}
	if e.state != StateStatic && c.now().Sub(e.insertedAt) > TTL {
		delete(c.entries, ip)
		return wire.MAC{}, false
	}
	return e.hwAddr, true
}

// Upsert inserts or atomically replaces the binding for ip.
func (c *Cache) Upsert(ip wire.IPv4, mac wire.MAC, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ip] = entry{state: state, hwAddr: mac, insertedAt: c.now()}
}

// Size returns the number of entries currently stored (no eviction
// performed).
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns a point-in-time copy of the cache for introspection,
// without mutating expiry state.
type Snapshot struct {
	ProtoAddr  wire.IPv4
	HWAddr     wire.MAC
	State      State
	InsertedAt time.Time
}

// All returns every entry currently stored, expired or not.
func (c *Cache) All() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.entries))
	for ip, e := range c.entries {
		out = append(out, Snapshot{ProtoAddr: ip, HWAddr: e.hwAddr, State: e.state, InsertedAt: e.insertedAt})
	}
	return out
}
