// tapstackctl is a read-only introspection CLI for a running tapstackd:
// it queries the daemon's admin HTTP endpoint and renders devices,
// routes, ARP cache entries, and UDP/TCP PCB tables.
package main

import (
	"github.com/quietmachine/tapstack/cmd/tapstackctl/commands"
)

func main() {
	commands.Execute()
}
