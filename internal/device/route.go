package device

import (
	"math/bits"

	"github.com/quietmachine/tapstack/internal/netstack/list"
	"github.com/quietmachine/tapstack/internal/wire"
)

// Route is a (network, netmask, next-hop, interface) tuple. Interface
// routes have NextHop = 0.0.0.0; the default gateway route has
// Network = Netmask = 0.0.0.0 and NextHop = the gateway address.
type Route struct {
	Network   wire.IPv4
	Netmask   wire.IPv4
	NextHop   wire.IPv4
	Interface *Device
}

// Matches reports whether dst falls within the route's (network, netmask).
func (r Route) Matches(dst wire.IPv4) bool {
	return dst.And(r.Netmask) == r.Network
}

// prefixLen returns the number of set bits in the netmask, used to rank
// routes by specificity for longest-prefix-match.
func (r Route) prefixLen() int {
	return bits.OnesCount32(r.Netmask.Uint32())
}

// Table is the ordered route table. Longest-netmask wins on lookup;
// ties are resolved by insertion order, which list.Best guarantees by
// scanning in append order and only replacing the current best on a
// strictly greater score.
type Table struct {
	routes *list.List[*Route]
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{routes: list.New[*Route]()}
}

// Add appends a route to the table.
func (t *Table) Add(r *Route) {
	t.routes.Append(r)
}

// Lookup returns the longest-prefix-matching route for dst, or (nil,
// false) if no route matches.
func (t *Table) Lookup(dst wire.IPv4) (*Route, bool) {
	return t.routes.Best(func(r *Route) (int, bool) {
		if !r.Matches(dst) {
			return 0, false
		}
		return r.prefixLen(), true
	})
}

// Snapshot returns the routes currently in the table, in insertion order.
func (t *Table) Snapshot() []*Route {
	return t.routes.Snapshot()
}
