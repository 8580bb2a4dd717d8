package peer

import (
	"net"
	"strconv"
	"strings"
)

// Resolver maps a node ordinal to a host:port.
type Resolver interface {
	Addr(ordinal int) (string, bool)
}

// Ports places node i at Host:Base+i.
type Ports struct {
	Host string
	Base int
}

func (p Ports) Addr(ordinal int) (string, bool) {
	if ordinal < 0 {
		return "", false
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Base+ordinal)), true
}

// Static is a fixed ordinal -> address table.
type Static map[int]string

func (s Static) Addr(ordinal int) (string, bool) {
	a, ok := s[ordinal]
	if !ok || a == "" {
		return "", false
	}
	return NormalizeHostPort(a, "80"), true
}

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}
