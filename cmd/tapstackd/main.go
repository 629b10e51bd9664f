// tapstackd is a userspace TCP/IP network stack: Ethernet/ARP/IPv4/
// ICMP/UDP/TCP over a kernel TAP device and an internal loopback,
// invoked as one-shot CLI operations (tcp/udp send/receive).
package main

import (
	"github.com/quietmachine/tapstack/cmd/tapstackd/commands"
)

func main() {
	commands.Execute()
}
