package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quietmachine/tapstack/internal/wire"
)

// unescapeData expands the backslash escapes accepted in the CLI's data
// argument: \r and \n. Any other backslash sequence is passed through
// unchanged.
func unescapeData(s string) []byte {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return []byte(b.String())
}

// parsePort parses a decimal port number in [0, 65535].
func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return uint16(v), nil
}

// parseEndpoint parses an (ip, port) argument pair as given on the
// command line into their wire types.
func parseEndpoint(ip, port string) (wire.IPv4, uint16, error) {
	addr, err := wire.ParseIPv4(ip)
	if err != nil {
		return wire.IPv4{}, 0, err
	}
	p, err := parsePort(port)
	if err != nil {
		return wire.IPv4{}, 0, err
	}
	return addr, p, nil
}
