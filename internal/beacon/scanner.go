// Package beacon implements Minecraft's LAN discovery protocol: joining the
// multicast groups to observe local servers (Scanner) and forging beacons
// so a remote server appears local (Fake).
package beacon

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"terracotta/internal/logging"
	"terracotta/internal/netiface"
)

const (
	motdOpen  = "[MOTD]"
	motdClose = "[/MOTD]"
	adOpen    = "[AD]"
	adClose   = "[/AD]"

	multicastV4 = "224.0.2.60"
	multicastV6 = "ff75:230::60"
	beaconPort  = 4445

	entryTTL = 5 * time.Second
)

// Scanner listens on every selected interface's IPv4/IPv6 multicast socket
// and maintains the sliding set of live local server ports it has observed.
// The live-port set itself is a github.com/patrickmn/go-cache instance keyed
// by port, whose default 5s expiry retires entries instead of a hand-rolled
// sweep over a slice.
type Scanner struct {
	ports  *gocache.Cache
	stopCh chan struct{}
	once   sync.Once
}

// Filter decides whether a MOTD is of interest; Terracotta's own fake
// beacons are excluded by checking the MOTD against the one it emits.
type Filter func(motd string) bool

// NewScanner joins the v4/v6 multicast groups on every interface
// netiface.List returns and begins listening in background goroutines.
func NewScanner(filter Filter) (*Scanner, error) {
	s := &Scanner{
		ports:  gocache.New(entryTTL, entryTTL),
		stopCh: make(chan struct{}),
	}

	ifaces, err := netiface.List()
	if err != nil {
		return nil, err
	}

	joined := 0
	for _, addr := range ifaces {
		if addr.IsV4 {
			if err := s.listenV4(addr, filter); err == nil {
				joined++
			}
		} else {
			if err := s.listenV6(addr, filter); err == nil {
				joined++
			}
		}
	}
	if joined == 0 {
		logging.Warn("Server Scanner", "No multicast sockets could be joined on any interface.")
	}

	return s, nil
}

func (s *Scanner) listenV4(iface netiface.Addr, filter Filter) error {
	conn, err := reuseListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(beaconPort))
	if err != nil {
		return err
	}
	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(multicastV4)}
	if err := pc.JoinGroup(iface.Interface, group); err != nil {
		conn.Close()
		return err
	}

	go s.readLoop(conn, filter)
	go func() {
		<-s.stopCh
		conn.Close()
	}()
	return nil
}

func (s *Scanner) listenV6(iface netiface.Addr, filter Filter) error {
	conn, err := reuseListenPacket("udp6", "[::]:"+strconv.Itoa(beaconPort))
	if err != nil {
		return err
	}
	pc := ipv6.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(multicastV6)}
	if err := pc.JoinGroup(iface.Interface, group); err != nil {
		conn.Close()
		return err
	}

	go s.readLoop(conn, filter)
	go func() {
		<-s.stopCh
		conn.Close()
	}()
	return nil
}

func (s *Scanner) readLoop(conn net.PacketConn, filter Filter) {
	buf := make([]byte, 8192)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		s.handleDatagram(buf[:n], filter)
	}
}

func (s *Scanner) handleDatagram(data []byte, filter Filter) {
	text := string(data)

	motd, ok := extractBetween(text, motdOpen, motdClose)
	if !ok || !filter(motd) {
		return
	}

	adText, ok := extractBetween(text, adOpen, adClose)
	if !ok {
		return
	}
	port, err := strconv.ParseUint(adText, 10, 16)
	if err != nil || port == 0 {
		return
	}

	key := strconv.FormatUint(port, 10)
	if _, found := s.ports.Get(key); !found {
		logging.Info("Server Scanner", "Discovered local server on port %d.", port)
	}
	s.ports.Set(key, uint16(port), gocache.DefaultExpiration)
}

func extractBetween(text, open, close string) (string, bool) {
	begin := strings.Index(text, open)
	end := strings.Index(text, close)
	if begin < 0 || end < 0 || end-begin < len(open)+1 {
		return "", false
	}
	start := begin + len(open)
	if start > end || end > len(text) {
		return "", false
	}
	return text[start:end], true
}

// Ports returns a snapshot of the currently live local server ports; entries
// the cache has expired (no beacon seen for entryTTL) are absent.
func (s *Scanner) Ports() []uint16 {
	items := s.ports.Items()
	out := make([]uint16, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(uint16))
	}
	return out
}

// Close stops all listener goroutines; idempotent.
func (s *Scanner) Close() {
	s.once.Do(func() { close(s.stopCh) })
}
