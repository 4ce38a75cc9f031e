// Package probe implements the game-port liveness check: connect, send
// 0xFE, expect 0xFF back, within a 64s timeout. Used both to verify a local
// Minecraft server is alive and, via its built-in pacing, as the supervisor
// loop's tick source.
package probe

import (
	"net"
	"strconv"
	"time"
)

const (
	dialTimeout = 64 * time.Second
	pace        = 5 * time.Second
)

// Check connects to 127.0.0.1:port, sends 0xFE, and reports whether the
// single reply byte is 0xFF. It always takes at least `pace` worth of wall
// clock (sleeping out the remainder) so callers can use it directly as a
// polling loop's tick.
func Check(port uint16) bool {
	start := time.Now()
	ok := checkOnce(port)

	remaining := pace - time.Since(start)
	if remaining > 0 {
		time.Sleep(remaining)
	}
	return ok
}

func checkOnce(port uint16) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(dialTimeout))

	if _, err := conn.Write([]byte{0xFE}); err != nil {
		return false
	}

	reply := make([]byte, 1)
	if _, err := conn.Read(reply); err != nil {
		return false
	}
	return reply[0] == 0xFF
}
