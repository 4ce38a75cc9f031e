// Package ports implements the bind-and-release trick for obtaining
// ephemeral local TCP ports, with per-role fallback constants for when
// binding fails outright.
package ports

import (
	"net"
	"strconv"
)

// Role selects the fallback constant RequestEphemeral falls back to.
type Role int

const (
	EasyTierRPC Role = iota
	Scaffolding
	Minecraft
)

func (r Role) fallback() uint16 {
	return 35780 + uint16(r)
}

// RequestEphemeral binds 127.0.0.1:0, reads back the assigned port, and
// releases the socket immediately. On failure it returns the role's fixed
// fallback constant instead.
func RequestEphemeral(role Role) uint16 {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return role.fallback()
	}
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

// RequestSpecific binds 127.0.0.1:port and returns the bound port on
// success. Callers must treat the result as advisory: it can still be
// raced by a later binder between release and actual use.
func RequestSpecific(port uint16) (uint16, bool) {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		return 0, false
	}
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port), true
}
